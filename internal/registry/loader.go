package registry

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"knx2mqtt/internal/knx"
)

// fileEntry is the YAML form of an Entry:
//
//	devices:
//	  /light/living/big:
//	    description: The big lights in the living
//	    address: 1/1/1
//	    dimmable: true
//	    secondary: 2/1/8
type fileEntry struct {
	Description string `yaml:"description"`
	Address     string `yaml:"address"`
	Dimmable    bool   `yaml:"dimmable"`
	Secondary   string `yaml:"secondary"`
	Percent     bool   `yaml:"percent"`
}

var entryFields = map[string]bool{
	"description": true,
	"address":     true,
	"dimmable":    true,
	"secondary":   true,
	"percent":     true,
}

type file struct {
	Devices map[string]yaml.Node `yaml:"devices"`
}

// LoadFile reads a registry file. See Load.
func LoadFile(path string) (*Registry, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read device registry: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Load decodes a registry. Entries that fail validation are left out and
// reported in rejected; err is set only when the document itself is unusable.
// Keys that normalise to the same topic are taken in sorted order and every
// later one is rejected.
func Load(r io.Reader) (reg *Registry, rejected []error, err error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("decode device registry: %w", err)
	}

	keys := make([]string, 0, len(f.Devices))
	for key := range f.Devices {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make(map[string]Entry, len(keys))
	owner := make(map[string]string, len(keys))
	for _, key := range keys {
		node := f.Devices[key]
		e, err := decodeEntry(&node)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("%w %q: %w", ErrInvalidEntry, key, err))
			continue
		}
		norm := NormalizeKey(key)
		if norm == "/" {
			rejected = append(rejected, fmt.Errorf("%w: empty topic key", ErrInvalidEntry))
			continue
		}
		if first, ok := owner[norm]; ok {
			rejected = append(rejected, fmt.Errorf("%w %q: topic %s already taken by %q", ErrInvalidEntry, key, norm, first))
			continue
		}
		owner[norm] = key
		entries[key] = e
	}

	return New(entries), rejected, nil
}

// decodeEntry decodes one device and refuses fields it does not know.
func decodeEntry(node *yaml.Node) (Entry, error) {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if k := node.Content[i]; !entryFields[k.Value] {
				return Entry{}, fmt.Errorf("line %d: unknown field %q", k.Line, k.Value)
			}
		}
	}

	var fe fileEntry
	if err := node.Decode(&fe); err != nil {
		return Entry{}, err
	}
	return fe.entry()
}

func (fe fileEntry) entry() (Entry, error) {
	primary, err := knx.ParseGroupAddress(fe.Address)
	if err != nil {
		return Entry{}, fmt.Errorf("address: %w", err)
	}

	e := Entry{
		Description: fe.Description,
		Primary:     primary,
		Dimmable:    fe.Dimmable,
		Percent:     fe.Percent,
	}
	if fe.Secondary != "" {
		secondary, err := knx.ParseGroupAddress(fe.Secondary)
		if err != nil {
			return Entry{}, fmt.Errorf("secondary: %w", err)
		}
		e.Secondary = &secondary
	}
	return e, nil
}
