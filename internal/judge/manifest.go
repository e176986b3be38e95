package judge

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"chainjudge/pkg/errors"
)

// ManifestFileName is the metadata file at the root of a problem pack.
const ManifestFileName = "problem.yml"

// TestFile names one test case by its pack-relative input and expected
// output files.
type TestFile struct {
	In  string `yaml:"in"`
	Out string `yaml:"out"`
}

// Manifest is the parsed problem.yml of a test data pack. The store's
// problem row is authoritative for limits; the manifest fields are used
// as a fallback when the row carries none.
type Manifest struct {
	ID         string `yaml:"id"`
	TitleEN    string `yaml:"title_en"`
	TitleES    string `yaml:"title_es"`
	Difficulty string `yaml:"difficulty"`

	BasePoints     int   `yaml:"base_points"`
	TimeLimitMs    int64 `yaml:"time_limit_ms"`
	MemoryLimitKiB int64 `yaml:"memory_limit_kib"`
	StdoutCapBytes int64 `yaml:"stdout_cap_bytes"`

	// Samples are author-visible example cases; they are not judged.
	Samples []TestFile `yaml:"samples"`

	Tests []TestFile `yaml:"tests"`

	LanguagesAllowed []string `yaml:"languages_allowed"`

	// Checker is the pack-relative path of a custom checker program.
	// When set, it replaces the built-in output comparison.
	Checker string `yaml:"checker,omitempty"`

	// Epsilon is the numeric comparison tolerance; zero means default.
	Epsilon float64 `yaml:"epsilon,omitempty"`
}

// LoadManifest parses and validates problem.yml inside packDir.
func LoadManifest(packDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(packDir, ManifestFileName))
	if err != nil {
		return Manifest{}, errors.Wrapf(err, errors.TestDataMissing, "read manifest failed")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrapf(err, errors.ManifestInvalid, "parse manifest failed")
	}
	if err := m.Validate(packDir); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks structural invariants and that every referenced file
// exists inside the pack.
func (m Manifest) Validate(packDir string) error {
	if len(m.Tests) == 0 {
		return errors.New(errors.ManifestInvalid).WithMessage("manifest has no tests")
	}
	for i, t := range m.Tests {
		if t.In == "" || t.Out == "" {
			return errors.Newf(errors.ManifestInvalid, "test %d missing input or output file", i+1)
		}
		for _, name := range []string{t.In, t.Out} {
			p, err := packPath(packDir, name)
			if err != nil {
				return err
			}
			if _, err := os.Stat(p); err != nil {
				return errors.Wrapf(err, errors.TestDataMissing, "test %d file %s", i+1, name)
			}
		}
	}
	if m.Checker != "" {
		p, err := packPath(packDir, m.Checker)
		if err != nil {
			return err
		}
		if _, err := os.Stat(p); err != nil {
			return errors.Wrapf(err, errors.TestDataMissing, "checker %s", m.Checker)
		}
	}
	return nil
}

// TestPaths resolves the absolute input and expected-output paths for a
// test case.
func (m Manifest) TestPaths(packDir string, t TestFile) (string, string, error) {
	in, err := packPath(packDir, t.In)
	if err != nil {
		return "", "", err
	}
	out, err := packPath(packDir, t.Out)
	if err != nil {
		return "", "", err
	}
	return in, out, nil
}

// packPath joins a pack-relative name and rejects escapes out of the pack.
func packPath(packDir, name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ManifestInvalid, "manifest path escapes pack: %s", name)
	}
	full := filepath.Join(packDir, clean)
	root := filepath.Clean(packDir) + string(filepath.Separator)
	if !strings.HasPrefix(full, root) {
		return "", errors.Newf(errors.ManifestInvalid, "manifest path escapes pack: %s", name)
	}
	return full, nil
}
