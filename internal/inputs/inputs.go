// Package inputs enumerates program and library class files from directories
// and jars, resolves output locations and fingerprints inputs for incremental runs.
package inputs

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/shrinker/internal/debug"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
)

// Kind partitions inputs into program and library sets
type Kind int

const (
	// Program classes are shrunk and rewritten
	Program Kind = iota
	// Library classes are read-only context
	Library
)

func (k Kind) String() string {
	if k == Library {
		return "library"
	}
	return "program"
}

// Input is one class directory or archive
type Input struct {
	Path string `toml:"path"`
	// Output is the directory kept program classes are written to.
	// Program classes without an output are foreign and never rewritten.
	Output string `toml:"output,omitempty"`
	Kind   Kind   `toml:"-"`
}

// IsArchive reports whether the input is a jar or zip file
func (in Input) IsArchive() bool {
	ext := strings.ToLower(filepath.Ext(in.Path))
	return ext == ".jar" || ext == ".zip"
}

// ClassFile is one class read from an input
type ClassFile struct {
	Name  string // internal class name
	Input Input
	Entry string // slash separated path inside the input
	Data  []byte
}

// Key identifies the class file across runs: "<input>!<entry>"
func (cf ClassFile) Key() string {
	return EntryKey(cf.Input.Path, cf.Entry)
}

// EntryKey joins an input path and an entry into a class file key
func EntryKey(input, entry string) string {
	return input + "!" + entry
}

// SplitKey splits a class file key; archive fingerprint keys have no entry.
func SplitKey(key string) (input, entry string, ok bool) {
	i := strings.LastIndexByte(key, '!')
	if i < 0 {
		return key, "", false
	}
	return key[:i], key[i+1:], true
}

// Provider enumerates class files of a fixed input set
type Provider struct {
	inputs  []Input
	byPath  map[string]Input
	include []string
	exclude []string
}

// NewProvider creates a provider. Include and exclude are doublestar patterns
// over entry paths such as "com/example/**".
func NewProvider(inputs []Input, include, exclude []string) (*Provider, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, shrinkerrors.NewConfigError("inputs.pattern", p, fmt.Errorf("invalid glob pattern"))
		}
	}
	p := &Provider{
		inputs:  append([]Input(nil), inputs...),
		byPath:  make(map[string]Input, len(inputs)),
		include: include,
		exclude: exclude,
	}
	for _, in := range inputs {
		p.byPath[in.Path] = in
	}
	return p, nil
}

// Inputs returns the inputs of kind in configuration order
func (p *Provider) Inputs(kind Kind) []Input {
	var out []Input
	for _, in := range p.inputs {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

// Input returns the configured input for path
func (p *Provider) Input(path string) (Input, bool) {
	in, ok := p.byPath[path]
	return in, ok
}

func (p *Provider) accept(entry string) bool {
	if !strings.HasSuffix(entry, ".class") || entry == "module-info.class" || strings.HasPrefix(entry, "META-INF/") {
		return false
	}
	for _, pattern := range p.exclude {
		if matched, _ := doublestar.Match(pattern, entry); matched {
			return false
		}
	}
	if len(p.include) == 0 {
		return true
	}
	for _, pattern := range p.include {
		if matched, _ := doublestar.Match(pattern, entry); matched {
			return true
		}
	}
	return false
}

// Walk calls fn for every accepted class file of in, in entry order
func (p *Provider) Walk(ctx context.Context, in Input, fn func(ClassFile) error) error {
	if in.IsArchive() {
		return p.walkArchive(ctx, in, fn)
	}
	return p.walkDir(ctx, in, fn)
}

func (p *Provider) walkDir(ctx context.Context, in Input, fn func(ClassFile) error) error {
	return filepath.WalkDir(in.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return shrinkerrors.NewFileError("walk", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(in.Path, path)
		if err != nil {
			return err
		}
		entry := filepath.ToSlash(rel)
		if !p.accept(entry) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return shrinkerrors.NewFileError("read", path, err)
		}
		return fn(ClassFile{Name: className(entry), Input: in, Entry: entry, Data: data})
	})
}

func (p *Provider) walkArchive(ctx context.Context, in Input, fn func(ClassFile) error) error {
	zr, err := zip.OpenReader(in.Path)
	if err != nil {
		return shrinkerrors.NewFileError("open", in.Path, err)
	}
	defer zr.Close()

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() && p.accept(f.Name) {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := readZipEntry(f)
		if err != nil {
			return shrinkerrors.NewFileError("read", EntryKey(in.Path, f.Name), err)
		}
		if err := fn(ClassFile{Name: className(f.Name), Input: in, Entry: f.Name, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Read loads a single class file by key
func (p *Provider) Read(ctx context.Context, key string) (ClassFile, error) {
	if err := ctx.Err(); err != nil {
		return ClassFile{}, err
	}
	path, entry, ok := SplitKey(key)
	if !ok {
		return ClassFile{}, fmt.Errorf("key %q does not name a class file", key)
	}
	in, ok := p.byPath[path]
	if !ok {
		return ClassFile{}, fmt.Errorf("key %q belongs to no configured input", key)
	}

	cf := ClassFile{Name: className(entry), Input: in, Entry: entry}
	if !in.IsArchive() {
		data, err := os.ReadFile(filepath.Join(in.Path, filepath.FromSlash(entry)))
		if err != nil {
			return cf, shrinkerrors.NewFileError("read", key, err)
		}
		cf.Data = data
		return cf, nil
	}

	zr, err := zip.OpenReader(in.Path)
	if err != nil {
		return cf, shrinkerrors.NewFileError("open", in.Path, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == entry {
			cf.Data, err = readZipEntry(f)
			if err != nil {
				return cf, shrinkerrors.NewFileError("read", key, err)
			}
			return cf, nil
		}
	}
	return cf, shrinkerrors.NewFileError("read", key, fs.ErrNotExist)
}

// OutputPath returns where the rewritten class file goes. The boolean is false
// for foreign classes: library classes and program inputs without an output.
func (p *Provider) OutputPath(cf ClassFile) (string, bool) {
	if cf.Input.Kind != Program || cf.Input.Output == "" {
		return "", false
	}
	return filepath.Join(cf.Input.Output, filepath.FromSlash(cf.Entry)), true
}

// OutputPathForKey resolves the output location from a class file key
func (p *Provider) OutputPathForKey(key string) (string, bool) {
	path, entry, ok := SplitKey(key)
	if !ok {
		return "", false
	}
	in, ok := p.byPath[path]
	if !ok {
		return "", false
	}
	return p.OutputPath(ClassFile{Input: in, Entry: entry})
}

func className(entry string) string {
	return strings.TrimSuffix(entry, ".class")
}

// WriteFile writes data to path through a temporary file and rename
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return shrinkerrors.NewFileError("mkdir", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".shrinker-*")
	if err != nil {
		return shrinkerrors.NewFileError("create", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return shrinkerrors.NewFileError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return shrinkerrors.NewFileError("write", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return shrinkerrors.NewFileError("rename", path, err)
	}
	debug.Log(debug.ComponentInputs, "wrote %s (%d bytes)", path, len(data))
	return nil
}

// ClearOutputs removes every class file under the output directories of the
// program inputs and returns how many were removed
func (p *Provider) ClearOutputs(ctx context.Context) (int, error) {
	removed := 0
	for _, in := range p.Inputs(Program) {
		if in.Output == "" {
			continue
		}
		err := filepath.WalkDir(in.Output, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".class") {
				return nil
			}
			if err := RemoveFile(path); err != nil {
				return err
			}
			removed++
			return nil
		})
		if err != nil {
			return removed, shrinkerrors.NewFileError("clear", in.Output, err)
		}
	}
	return removed, nil
}

// RemoveFile deletes an output file; a missing file is not an error
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return shrinkerrors.NewFileError("remove", path, err)
	}
	return nil
}
