package resource

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
)

// Names are matched case-insensitively using Unicode case folding.
func foldName(name string) string {
	return cases.Fold().String(name)
}

// RegisterNamedResource makes name an alias for key. LoadResource and
// LoadTypeless accept the alias in place of the id for key's type.
func (m *Manager) RegisterNamedResource(name string, key Key) {
	if name == "" {
		return
	}
	m.namesMu.Lock()
	m.names[foldName(name)] = key
	m.namesMu.Unlock()
}

func (m *Manager) UnregisterNamedResource(name string) {
	m.namesMu.Lock()
	delete(m.names, foldName(name))
	m.namesMu.Unlock()
}

// ResolveName returns the key registered for name.
func (m *Manager) ResolveName(name string) (Key, bool) {
	m.namesMu.RLock()
	defer m.namesMu.RUnlock()
	k, ok := m.names[foldName(name)]
	return k, ok
}

func (m *Manager) resolve(typeName, id string) string {
	if k, ok := m.ResolveName(id); ok && k.Type == typeName {
		return k.ID
	}
	return id
}

// GenerateID derives a stable id for a procedurally created resource from
// its type and descriptor. Descriptors should be plain values: pointers are
// formatted by address.
func GenerateID(typeName string, desc any) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s\x00%#v", typeName, desc)))
	return "gen:" + hex.EncodeToString(sum[:12])
}
