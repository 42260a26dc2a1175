package collector

import (
	"errors"
	"sort"
	"strings"
)

// ErrKeyNotFound is returned when a registry key or value does not exist
var ErrKeyNotFound = errors.New("registry key not found")

// ErrUnsupportedOS is returned when the live registry is requested on a
// non-Windows host
var ErrUnsupportedOS = errors.New("live registry access requires Windows")

// Hive opens keys below a fixed root such as HKEY_LOCAL_MACHINE
type Hive interface {
	OpenKey(path string) (Key, error)
}

// Key is an open registry key. Callers must Close every key they open.
type Key interface {
	ReadSubKeyNames() ([]string, error)
	GetStringValue(name string) (string, error)
	OpenSubKey(name string) (Key, error)
	Close() error
}

// MemoryKey is an in-memory registry key tree. Snapshots decode into it.
type MemoryKey struct {
	Values  map[string]string     `yaml:"values,omitempty"`
	SubKeys map[string]*MemoryKey `yaml:"subkeys,omitempty"`
}

// MemoryHive is a Hive backed by a MemoryKey tree
type MemoryHive struct {
	Root *MemoryKey
}

// NewMemoryHive returns an empty hive
func NewMemoryHive() *MemoryHive {
	return &MemoryHive{Root: &MemoryKey{}}
}

// Put creates path (backslash separated) and sets values on the last key
func (h *MemoryHive) Put(path string, values map[string]string) *MemoryKey {
	k := h.Root
	for _, part := range splitPath(path) {
		if k.SubKeys == nil {
			k.SubKeys = make(map[string]*MemoryKey)
		}
		child, ok := k.SubKeys[part]
		if !ok {
			child = &MemoryKey{}
			k.SubKeys[part] = child
		}
		k = child
	}
	if values != nil {
		if k.Values == nil {
			k.Values = make(map[string]string)
		}
		for name, v := range values {
			k.Values[name] = v
		}
	}
	return k
}

// OpenKey implements Hive
func (h *MemoryHive) OpenKey(path string) (Key, error) {
	k := h.Root
	if k == nil {
		return nil, ErrKeyNotFound
	}
	for _, part := range splitPath(path) {
		child, ok := lookupFold(k.SubKeys, part)
		if !ok {
			return nil, ErrKeyNotFound
		}
		k = child
	}
	return &memoryHandle{key: k}, nil
}

type memoryHandle struct {
	key    *MemoryKey
	closed bool
}

func (m *memoryHandle) ReadSubKeyNames() ([]string, error) {
	names := make([]string, 0, len(m.key.SubKeys))
	for name := range m.key.SubKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memoryHandle) GetStringValue(name string) (string, error) {
	for k, v := range m.key.Values {
		if strings.EqualFold(k, name) {
			return v, nil
		}
	}
	return "", ErrKeyNotFound
}

func (m *memoryHandle) OpenSubKey(name string) (Key, error) {
	child, ok := lookupFold(m.key.SubKeys, name)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &memoryHandle{key: child}, nil
}

func (m *memoryHandle) Close() error {
	m.closed = true
	return nil
}

// Registry names are case-insensitive
func lookupFold(m map[string]*MemoryKey, name string) (*MemoryKey, bool) {
	if k, ok := m[name]; ok {
		return k, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, `\`) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
