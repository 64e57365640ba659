package coverage

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/tools/cover"
)

// Cobertura document structure, the subset CI systems consume.

type coberturaCoverage struct {
	XMLName   xml.Name           `xml:"coverage"`
	LineRate  float64            `xml:"line-rate,attr"`
	Timestamp int64              `xml:"timestamp,attr"`
	Version   string             `xml:"version,attr"`
	Packages  []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Name     string           `xml:"name,attr"`
	LineRate float64          `xml:"line-rate,attr"`
	Classes  []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Name     string          `xml:"name,attr"`
	Filename string          `xml:"filename,attr"`
	LineRate float64         `xml:"line-rate,attr"`
	Lines    []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number int `xml:"number,attr"`
	Hits   int `xml:"hits,attr"`
}

// WriteCobertura renders the profiles as a Cobertura XML report. Files are
// grouped into packages by directory; each file becomes one class whose lines
// are the profile blocks' start lines.
func WriteCobertura(w io.Writer, profiles []*cover.Profile) error {
	doc := buildCobertura(profiles)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding cobertura report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteCoberturaFile writes the report to disk, creating parent directories.
func WriteCoberturaFile(p string, profiles []*cover.Profile) error {
	if dir := filepath.Dir(p); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return WriteCobertura(f, profiles)
}

func buildCobertura(profiles []*cover.Profile) *coberturaCoverage {
	byPkg := make(map[string][]*cover.Profile)
	for _, p := range profiles {
		pkg := path.Dir(p.FileName)
		byPkg[pkg] = append(byPkg[pkg], p)
	}

	pkgNames := make([]string, 0, len(byPkg))
	for name := range byPkg {
		pkgNames = append(pkgNames, name)
	}
	sort.Strings(pkgNames)

	doc := &coberturaCoverage{
		LineRate:  Percent(profiles) / 100,
		Timestamp: time.Now().Unix(),
		Version:   "covpipe",
	}

	for _, pkgName := range pkgNames {
		members := byPkg[pkgName]
		cp := coberturaPackage{Name: pkgName}

		var pkgCovered, pkgTotal int64
		for _, p := range members {
			covered, total := fileStats(p)
			pkgCovered += covered
			pkgTotal += total

			class := coberturaClass{
				Name:     path.Base(p.FileName),
				Filename: p.FileName,
				LineRate: rate(covered, total),
			}
			for _, b := range p.Blocks {
				class.Lines = append(class.Lines, coberturaLine{Number: b.StartLine, Hits: b.Count})
			}
			cp.Classes = append(cp.Classes, class)
		}
		cp.LineRate = rate(pkgCovered, pkgTotal)
		doc.Packages = append(doc.Packages, cp)
	}
	return doc
}

func rate(covered, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}
