// Package dist caches compiled modules by the content hash of their IL.
// Entries live in SQLite; each carries the persisted bytecode plus a CBOR
// manifest of what the module needs from its host.
package dist

import (
	"time"

	"github.com/splanck/viper-sub004/compiler/hash"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// Manifest summarizes a compiled module without decoding its code.
type Manifest struct {
	Name      string   `cbor:"1,keyasint"`
	Format    uint32   `cbor:"2,keyasint"`
	Functions []string `cbor:"3,keyasint"`
	Natives   []string `cbor:"4,keyasint,omitempty"` // required helpers
	Globals   int      `cbor:"5,keyasint,omitempty"`
	CodeWords int      `cbor:"6,keyasint"`
}

// Entry is one cached module.
type Entry struct {
	Hash     hash.Digest
	Manifest *Manifest
	Size     int
	Hits     int64
	Created  time.Time
	LastUsed time.Time
}

// ManifestOf describes m.
func ManifestOf(m *bc.Module) *Manifest {
	man := &Manifest{Name: m.Name, Format: m.Version, Globals: len(m.Globals)}
	for _, f := range m.Functions {
		man.Functions = append(man.Functions, f.Name)
		man.CodeWords += len(f.Code)
	}
	for _, n := range m.Natives {
		man.Natives = append(man.Natives, n.Name)
	}
	return man
}
