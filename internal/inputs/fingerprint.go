package inputs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
)

// Fingerprints maps class file keys (directory inputs) and archive paths to
// content hashes
type Fingerprints map[string]string

func hashString(h uint64) string {
	return strconv.FormatUint(h, 16)
}

// Fingerprint hashes one class file
func Fingerprint(data []byte) string {
	return hashString(xxhash.Sum64(data))
}

// Fingerprints hashes every archive as a whole and every directory class file
// individually. Archives are all-or-nothing for change detection.
func (p *Provider) Fingerprints(ctx context.Context) (Fingerprints, error) {
	out := make(Fingerprints)
	for _, in := range p.inputs {
		if in.IsArchive() {
			sum, err := hashFile(in.Path)
			if err != nil {
				return nil, err
			}
			out[in.Path] = sum
			continue
		}
		err := p.Walk(ctx, in, func(cf ClassFile) error {
			out[cf.Key()] = Fingerprint(cf.Data)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", shrinkerrors.NewFileError("open", path, err)
	}
	defer f.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return "", shrinkerrors.NewFileError("read", path, err)
	}
	return hashString(d.Sum64()), nil
}

// Status is the change status of one fingerprinted artifact
type Status int

const (
	Unchanged Status = iota
	Added
	Removed
	Changed
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Change reports the status of one key between two fingerprint sets
type Change struct {
	Key    string
	Status Status
}

// IsArchive reports whether the change concerns a whole archive
func (c Change) IsArchive() bool {
	_, _, ok := SplitKey(c.Key)
	return !ok
}

// Compare returns every key that is not unchanged, sorted by key
func Compare(previous, current Fingerprints) []Change {
	var out []Change
	for key, sum := range current {
		old, ok := previous[key]
		switch {
		case !ok:
			out = append(out, Change{Key: key, Status: Added})
		case old != sum:
			out = append(out, Change{Key: key, Status: Changed})
		}
	}
	for key := range previous {
		if _, ok := current[key]; !ok {
			out = append(out, Change{Key: key, Status: Removed})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
