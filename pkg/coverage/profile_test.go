package coverage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/cover"
)

const profileA = `mode: atomic
example.com/pkg/a.go:3.10,5.2 2 1
example.com/pkg/a.go:7.10,9.2 2 0
`

const profileB = `mode: atomic
example.com/pkg/a.go:3.10,5.2 2 3
example.com/pkg/a.go:7.10,9.2 2 1
`

func writeProfile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFile(t *testing.T) {
	t.Parallel()
	profiles, err := ParseFile(writeProfile(t, "a.out", profileA))
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "example.com/pkg/a.go", profiles[0].FileName)
	assert.Equal(t, "atomic", profiles[0].Mode)
	assert.Len(t, profiles[0].Blocks, 2)
}

func TestMergeFiles_AddsCounts(t *testing.T) {
	t.Parallel()
	merged, err := MergeFiles([]string{
		writeProfile(t, "a.out", profileA),
		writeProfile(t, "b.out", profileB),
	})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 4, merged[0].Blocks[0].Count)
	assert.Equal(t, 1, merged[0].Blocks[1].Count)
}

func TestMergeFiles_Empty(t *testing.T) {
	t.Parallel()
	_, err := MergeFiles(nil)
	assert.Error(t, err)
}

func TestMerge_SetModeORs(t *testing.T) {
	t.Parallel()
	a := []*cover.Profile{{
		FileName: "a.go", Mode: "set",
		Blocks: []cover.ProfileBlock{{StartLine: 1, StartCol: 1, EndLine: 2, EndCol: 2, NumStmt: 1, Count: 1}},
	}}
	b := []*cover.Profile{{
		FileName: "a.go", Mode: "set",
		Blocks: []cover.ProfileBlock{{StartLine: 1, StartCol: 1, EndLine: 2, EndCol: 2, NumStmt: 1, Count: 1}},
	}}
	merged, err := Merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, merged[0].Blocks[0].Count)
}

func TestMerge_DisjointFilesPassThrough(t *testing.T) {
	t.Parallel()
	a := []*cover.Profile{{FileName: "b.go", Mode: "atomic"}}
	b := []*cover.Profile{{FileName: "a.go", Mode: "atomic"}}
	merged, err := Merge(a, b)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	// output sorted by file name
	assert.Equal(t, "a.go", merged[0].FileName)
	assert.Equal(t, "b.go", merged[1].FileName)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()
	a := []*cover.Profile{{
		FileName: "a.go", Mode: "atomic",
		Blocks: []cover.ProfileBlock{{StartLine: 1, StartCol: 1, EndLine: 2, EndCol: 2, NumStmt: 1, Count: 1}},
	}}
	_, err := Merge(a, a)
	require.NoError(t, err)
	assert.Equal(t, 1, a[0].Blocks[0].Count)
}

func TestMerge_BlockMismatch(t *testing.T) {
	t.Parallel()
	a := []*cover.Profile{{
		FileName: "a.go", Mode: "atomic",
		Blocks: []cover.ProfileBlock{{StartLine: 1, StartCol: 1, EndLine: 2, EndCol: 2, NumStmt: 1}},
	}}
	b := []*cover.Profile{{
		FileName: "a.go", Mode: "atomic",
		Blocks: []cover.ProfileBlock{{StartLine: 5, StartCol: 1, EndLine: 6, EndCol: 2, NumStmt: 1}},
	}}
	_, err := Merge(a, b)
	assert.ErrorContains(t, err, "block mismatch")
}

func TestMerge_ModeMismatch(t *testing.T) {
	t.Parallel()
	a := []*cover.Profile{{FileName: "a.go", Mode: "atomic"}}
	b := []*cover.Profile{{FileName: "a.go", Mode: "set"}}
	_, err := Merge(a, b)
	assert.ErrorContains(t, err, "mode")
}

func TestWriteProfile_RoundTrips(t *testing.T) {
	t.Parallel()
	profiles, err := ParseFile(writeProfile(t, "a.out", profileA))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteProfile(&buf, profiles))
	assert.Equal(t, profileA, buf.String())
}

func TestWriteProfile_Empty(t *testing.T) {
	t.Parallel()
	assert.Error(t, WriteProfile(&bytes.Buffer{}, nil))
}

func TestWriteProfileFile_CreatesParentDirs(t *testing.T) {
	t.Parallel()
	profiles, err := ParseFile(writeProfile(t, "a.out", profileA))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "coverage.out")
	require.NoError(t, WriteProfileFile(path, profiles))

	reparsed, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, reparsed, 1)
}

func TestPercent(t *testing.T) {
	t.Parallel()
	profiles, err := ParseFile(writeProfile(t, "a.out", profileA))
	require.NoError(t, err)
	// two of four statements covered
	assert.InDelta(t, 50.0, Percent(profiles), 0.01)

	assert.Zero(t, Percent(nil))
}
