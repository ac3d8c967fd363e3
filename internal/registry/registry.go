package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed locations.yaml
var defaultLocations []byte

// minWordRunes is the shortest name-word that may drive a partial match.
const minWordRunes = 3

var ErrEmptyRegistry = errors.New("registry: no checkpoints defined")

// Entry maps one checkpoint to its city.
type Entry struct {
	Name  string
	City  string
	words []string
}

// Registry is an immutable ordered list of known checkpoints.
type Registry struct {
	entries []Entry
}

type fileFormat struct {
	Cities []struct {
		City        string   `yaml:"city"`
		Checkpoints []string `yaml:"checkpoints"`
	} `yaml:"cities"`
}

// Default returns the built-in registry.
func Default() (*Registry, error) {
	return Parse(defaultLocations)
}

// LoadFile reads a registry from a YAML file, falling back to the built-in
// table when path is empty.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("registry: read: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("registry: decode: %w", err)
	}
	reg := &Registry{}
	seen := map[string]struct{}{}
	for _, c := range doc.Cities {
		city := strings.TrimSpace(c.City)
		if city == "" {
			return nil, fmt.Errorf("registry: city name missing")
		}
		for _, name := range c.Checkpoints {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("registry: duplicate checkpoint %q", name)
			}
			seen[name] = struct{}{}
			reg.entries = append(reg.entries, newEntry(name, city))
		}
	}
	if len(reg.entries) == 0 {
		return nil, ErrEmptyRegistry
	}
	return reg, nil
}

func newEntry(name, city string) Entry {
	e := Entry{Name: name, City: city}
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if utf8.RuneCountInString(w) >= minWordRunes {
			e.words = append(e.words, w)
		}
	}
	return e
}

// Entries returns a copy of the registry in definition order.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Match finds the checkpoint mentioned in text. Exact name matches are tried
// over the whole registry before any partial word match.
func (r *Registry) Match(text string) (Entry, bool) {
	if r == nil || text == "" {
		return Entry{}, false
	}
	lower := strings.ToLower(text)
	for _, e := range r.entries {
		if strings.Contains(lower, strings.ToLower(e.Name)) {
			return e, true
		}
	}
	for _, e := range r.entries {
		for _, w := range e.words {
			if strings.Contains(lower, w) {
				return e, true
			}
		}
	}
	return Entry{}, false
}
