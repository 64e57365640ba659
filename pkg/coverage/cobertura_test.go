package coverage

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCobertura(t *testing.T) {
	t.Parallel()
	profiles, err := ParseFile(writeProfile(t, "a.out", profileA))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCobertura(&buf, profiles))

	var doc struct {
		LineRate float64 `xml:"line-rate,attr"`
		Packages []struct {
			Name    string `xml:"name,attr"`
			Classes []struct {
				Name     string `xml:"filename,attr"`
				LineRate float64 `xml:"line-rate,attr"`
				Lines    []struct {
					Number int `xml:"number,attr"`
					Hits   int `xml:"hits,attr"`
				} `xml:"lines>line"`
			} `xml:"classes>class"`
		} `xml:"packages>package"`
	}
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))

	assert.InDelta(t, 0.5, doc.LineRate, 0.001)
	require.Len(t, doc.Packages, 1)
	assert.Equal(t, "example.com/pkg", doc.Packages[0].Name)

	require.Len(t, doc.Packages[0].Classes, 1)
	class := doc.Packages[0].Classes[0]
	assert.Equal(t, "example.com/pkg/a.go", class.Name)
	assert.InDelta(t, 0.5, class.LineRate, 0.001)

	require.Len(t, class.Lines, 2)
	assert.Equal(t, 3, class.Lines[0].Number)
	assert.Equal(t, 1, class.Lines[0].Hits)
	assert.Equal(t, 7, class.Lines[1].Number)
	assert.Equal(t, 0, class.Lines[1].Hits)
}

func TestWriteCobertura_HasXMLHeader(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteCobertura(&buf, nil))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("<?xml")))
}

func TestWriteCoberturaFile(t *testing.T) {
	t.Parallel()
	profiles, err := ParseFile(writeProfile(t, "a.out", profileA))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "reports", "coverage.xml")
	require.NoError(t, WriteCoberturaFile(path, profiles))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `filename="example.com/pkg/a.go"`)
}
