package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Manifest is the YAML document used to pre-populate a store:
//
//	files:
//	  data/input.txt: "42"
//	  README: |
//	    multi-line content
type Manifest struct {
	Files map[string]string `yaml:"files"`
}

// LoadManifest decodes a manifest from r and writes every file into the
// store. Entries are applied in path order; every invalid entry is
// reported, the valid ones are still written.
func (s *Store) LoadManifest(r io.Reader) error {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode staging manifest: %w", err)
	}

	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var errs error
	for _, p := range paths {
		errs = multierr.Append(errs, s.Write(p, []byte(m.Files[p])))
	}
	return errs
}

// LoadManifestFile reads a manifest from a file on the host.
func (s *Store) LoadManifestFile(name string) (err error) {
	f, err := os.Open(name) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return fmt.Errorf("failed to open staging manifest: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))
	return s.LoadManifest(f)
}
