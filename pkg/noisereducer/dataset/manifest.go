package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

// Manifest pairs noisy and clean files by an explicit sample ID instead of
// by listing position.
//
// YAML form:
//
//	entries:
//	  - id: p232_001
//	    noisy: noisy/p232_001.wav
//	    clean: clean/p232_001.wav
type Manifest struct {
	Entries []Entry `yaml:"entries" json:"entries"`
}

// Validate checks that IDs are present and unique and that every entry
// names both files. All problems are reported together.
func (m Manifest) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(m.Entries))
	for i, e := range m.Entries {
		if e.ID == "" {
			result = multierror.Append(result, fmt.Errorf("dataset: manifest entry %d has no id", i))
			continue
		}
		if seen[e.ID] {
			result = multierror.Append(result, fmt.Errorf("dataset: duplicate manifest id %q", e.ID))
		}
		seen[e.ID] = true
		if e.Noisy == "" {
			result = multierror.Append(result, fmt.Errorf("%w: %q has no noisy file", ErrUnmatchedManifest, e.ID))
		}
		if e.Clean == "" {
			result = multierror.Append(result, fmt.Errorf("%w: %q has no clean file", ErrUnmatchedManifest, e.ID))
		}
	}
	return result.ErrorOrNil()
}

// LoadManifest reads a manifest from a .json, .yaml or .yml file. Relative
// paths inside it are resolved against the manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("dataset: read manifest: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		return m, fmt.Errorf("dataset: unsupported manifest format %q", filepath.Ext(path))
	}
	if err != nil {
		return m, fmt.Errorf("dataset: parse manifest %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range m.Entries {
		m.Entries[i].Noisy = resolve(base, m.Entries[i].Noisy)
		m.Entries[i].Clean = resolve(base, m.Entries[i].Clean)
	}
	return m, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Save writes the manifest as YAML.
func (m Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("dataset: encode manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ManifestFromDirs matches files in noisyDir and cleanDir by file stem.
// Any stem present on only one side fails the whole build; the returned
// error lists every unmatched ID.
func ManifestFromDirs(noisyDir, cleanDir, ext string) (Manifest, error) {
	if ext == "" {
		ext = DefaultExtension
	}
	l := listing{ext: ext}
	noisy, err := l.list(noisyDir)
	if err != nil {
		return Manifest{}, err
	}
	clean, err := l.list(cleanDir)
	if err != nil {
		return Manifest{}, err
	}

	cleanByID := make(map[string]string, len(clean))
	for _, p := range clean {
		cleanByID[utils.FileStem(p)] = p
	}

	var (
		m      Manifest
		result *multierror.Error
	)
	for _, p := range noisy {
		id := utils.FileStem(p)
		c, ok := cleanByID[id]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%w: %q has no clean file in %s", ErrUnmatchedManifest, id, cleanDir))
			continue
		}
		delete(cleanByID, id)
		m.Entries = append(m.Entries, Entry{ID: id, Noisy: p, Clean: c})
	}

	leftover := make([]string, 0, len(cleanByID))
	for id := range cleanByID {
		leftover = append(leftover, id)
	}
	slices.Sort(leftover)
	for _, id := range leftover {
		result = multierror.Append(result, fmt.Errorf("%w: %q has no noisy file in %s", ErrUnmatchedManifest, id, noisyDir))
	}

	if err := result.ErrorOrNil(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
