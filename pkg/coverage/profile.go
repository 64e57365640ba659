// Package coverage handles Go cover profiles for the pipeline's native
// combine and export stages: merging per-run profile files, writing the
// aggregate back in go coverage format, and rendering Cobertura XML and HTML
// reports from it.
package coverage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/tools/cover"
)

// ParseFile reads one coverage profile file.
func ParseFile(path string) ([]*cover.Profile, error) {
	profiles, err := cover.ParseProfiles(path)
	if err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return profiles, nil
}

// MergeFiles parses and merges several profile files into one aggregate.
// Profiles for the same file must cover identical blocks; block counts are
// added (or OR-ed for set mode).
func MergeFiles(paths []string) ([]*cover.Profile, error) {
	if len(paths) == 0 {
		return nil, errors.New("no profiles to merge")
	}

	var merged []*cover.Profile
	for _, path := range paths {
		profiles, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		merged, err = Merge(merged, profiles)
		if err != nil {
			return nil, fmt.Errorf("merging %s: %w", path, err)
		}
	}
	return merged, nil
}

// Merge combines two profile sets. Files present in only one set pass
// through; files present in both are merged block-wise.
func Merge(a, b []*cover.Profile) ([]*cover.Profile, error) {
	byName := make(map[string]*cover.Profile, len(a))
	for _, p := range a {
		byName[p.FileName] = deepCopyProfile(p)
	}

	for _, p := range b {
		existing, ok := byName[p.FileName]
		if !ok {
			byName[p.FileName] = deepCopyProfile(p)
			continue
		}
		if err := mergeInto(existing, p); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make([]*cover.Profile, len(names))
	for i, name := range names {
		merged[i] = byName[name]
	}
	return merged, nil
}

func mergeInto(dst *cover.Profile, src *cover.Profile) error {
	if err := ensureProfilesMatch(dst, src); err != nil {
		return err
	}
	for i := range dst.Blocks {
		if dst.Mode == "set" {
			dst.Blocks[i].Count |= src.Blocks[i].Count
		} else {
			dst.Blocks[i].Count += src.Blocks[i].Count
		}
	}
	return nil
}

func deepCopyProfile(profile *cover.Profile) *cover.Profile {
	p := *profile
	p.Blocks = make([]cover.ProfileBlock, len(profile.Blocks))
	copy(p.Blocks, profile.Blocks)
	return &p
}

// blocksEqual reports whether the blocks refer to the same code. Count is
// intentionally ignored.
func blocksEqual(a, b cover.ProfileBlock) bool {
	return a.StartCol == b.StartCol && a.StartLine == b.StartLine &&
		a.EndCol == b.EndCol && a.EndLine == b.EndLine && a.NumStmt == b.NumStmt
}

func ensureProfilesMatch(a, b *cover.Profile) error {
	if a.FileName != b.FileName {
		return fmt.Errorf("coverage filename mismatch (%s vs %s)", a.FileName, b.FileName)
	}
	if a.Mode != b.Mode {
		return fmt.Errorf("mode for %s mismatches (%s vs %s)", a.FileName, a.Mode, b.Mode)
	}
	if len(a.Blocks) != len(b.Blocks) {
		return fmt.Errorf("file block count for %s mismatches (%d vs %d)", a.FileName, len(a.Blocks), len(b.Blocks))
	}
	for i, ba := range a.Blocks {
		if !blocksEqual(ba, b.Blocks[i]) {
			return fmt.Errorf("coverage block mismatch: block #%d for %s", i, a.FileName)
		}
	}
	return nil
}

// WriteProfile dumps the profiles to writer in go coverage format.
func WriteProfile(w io.Writer, profiles []*cover.Profile) error {
	if len(profiles) == 0 {
		return errors.New("can't write an empty profile")
	}
	if _, err := io.WriteString(w, "mode: "+profiles[0].Mode+"\n"); err != nil {
		return err
	}
	for _, profile := range profiles {
		for _, b := range profile.Blocks {
			if _, err := fmt.Fprintf(w, "%s:%d.%d,%d.%d %d %d\n",
				profile.FileName, b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.NumStmt, b.Count); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteProfileFile writes the profiles to path, creating parent directories.
func WriteProfileFile(path string, profiles []*cover.Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating profile file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return WriteProfile(f, profiles)
}

// fileStats returns (covered, total) statement counts for one profile.
func fileStats(p *cover.Profile) (covered, total int64) {
	for _, b := range p.Blocks {
		total += int64(b.NumStmt)
		if b.Count > 0 {
			covered += int64(b.NumStmt)
		}
	}
	return covered, total
}

// Percent returns overall statement coverage in [0, 100].
func Percent(profiles []*cover.Profile) float64 {
	var covered, total int64
	for _, p := range profiles {
		c, t := fileStats(p)
		covered += c
		total += t
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total) * 100
}
