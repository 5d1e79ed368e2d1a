package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is read from the repository root when present.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds content patterns that are never treated as secrets.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

func (a *Allowlist) empty() bool {
	return a == nil || len(a.Regexes) == 0 && len(a.StopWords) == 0
}

// LoadAllowlists merges the repository's .gitleaks.toml with an explicit
// allowlist file. Missing files are skipped; malformed ones are errors.
func LoadAllowlists(repoRoot, path string) (*Allowlist, error) {
	merged := &Allowlist{}
	var files []string
	if repoRoot != "" {
		files = append(files, filepath.Join(repoRoot, ProjectAllowlistFile))
	}
	if path != "" {
		files = append(files, path)
	}
	for _, f := range files {
		a, err := loadTOML(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Regexes = append(merged.Regexes, a.Regexes...)
		merged.StopWords = append(merged.StopWords, a.StopWords...)
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: '%s' in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{Regexes: doc.Allowlist.Regexes, StopWords: doc.Allowlist.StopWords}, nil
}
