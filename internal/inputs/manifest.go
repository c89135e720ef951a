package inputs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
)

// Manifest is the input list a build tool hands to the shrinker:
//
//	[[program]]
//	path = "build/classes/java/main"
//	output = "build/shrunk"
//
//	[[library]]
//	path = "/opt/sdk/android.jar"
type Manifest struct {
	Program []Input `toml:"program"`
	Library []Input `toml:"library"`
}

// LoadManifest reads a TOML manifest; relative paths resolve against its directory
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shrinkerrors.NewFileError("read", path, err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, shrinkerrors.NewConfigError("inputs", path, fmt.Errorf("decode manifest: %w", err))
	}

	base := filepath.Dir(path)
	for i := range m.Program {
		m.Program[i].Kind = Program
		m.Program[i].Path = resolve(base, m.Program[i].Path)
		if m.Program[i].Output != "" {
			m.Program[i].Output = resolve(base, m.Program[i].Output)
		}
	}
	for i := range m.Library {
		m.Library[i].Kind = Library
		m.Library[i].Path = resolve(base, m.Library[i].Path)
		m.Library[i].Output = ""
	}
	return &m, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Inputs flattens the manifest, library inputs first
func (m *Manifest) Inputs() []Input {
	out := make([]Input, 0, len(m.Program)+len(m.Library))
	out = append(out, m.Library...)
	out = append(out, m.Program...)
	return out
}

// ManifestOf groups inputs back into a manifest
func ManifestOf(inputs []Input) *Manifest {
	m := &Manifest{}
	for _, in := range inputs {
		if in.Kind == Library {
			m.Library = append(m.Library, in)
		} else {
			m.Program = append(m.Program, in)
		}
	}
	return m
}

// Marshal encodes the manifest as TOML
func (m *Manifest) Marshal() ([]byte, error) {
	return toml.Marshal(m)
}
