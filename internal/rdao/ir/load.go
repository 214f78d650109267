package ir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// FormatMajor is the IR format major version this package understands.
const FormatMajor = "v1"

// ErrUnsupportedVersion is returned for IR documents of another major version.
var ErrUnsupportedVersion = errors.New("unsupported IR version")

// CheckVersion validates an IR format version string. An empty version is
// taken as the current format.
func CheckVersion(v string) error {
	if v == "" {
		return nil
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedVersion, v)
	}
	if semver.Major(v) != FormatMajor {
		return fmt.Errorf("%w: %s (want %s.x)", ErrUnsupportedVersion, v, FormatMajor)
	}
	return nil
}

// Decode reads every program document from r. YAML streams may hold several
// documents separated by "---"; a JSON object is a single YAML document.
func Decode(r io.Reader) ([]*Program, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var progs []*Program
	for {
		p := new(Program)
		err := dec.Decode(p)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding program %d: %w", len(progs), err)
		}
		if err := CheckVersion(p.Version); err != nil {
			return nil, fmt.Errorf("program %d (%s): %w", len(progs), p.Name, err)
		}
		progs = append(progs, p)
	}
	return progs, nil
}

// LoadFile reads the programs stored in path. Programs without a name are
// named after the file, with a "#n" suffix when the file holds several.
func LoadFile(path string) ([]*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	progs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for i, p := range progs {
		if p.Name != "" {
			continue
		}
		p.Name = base
		if len(progs) > 1 {
			p.Name = fmt.Sprintf("%s#%d", base, i)
		}
	}
	return progs, nil
}

// Encode writes p as a YAML document.
func Encode(w io.Writer, p *Program) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}
