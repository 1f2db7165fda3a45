package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/splanck/viper-sub004/compiler"
	"github.com/splanck/viper-sub004/pkg/il"
)

// Digest is a SHA-256 content hash.
type Digest [32]byte

// String returns the lowercase hex form of d.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// HashModule computes the content hash of an IL module as compiled with
// opts.
//
// The hash is computed over a deterministic serialization of the module's
// normalized form with dense temp numbering. Two modules that differ only
// in temp ids or parameter names produce the same hash. Source lines and
// the compiler options that change the output are mixed in, so a hash
// identifies one compiled artifact.
func HashModule(m *il.Module, opts compiler.Options) (Digest, error) {
	data, err := Serialize(NormalizeModule(m, opts.DebugInfo))
	if err != nil {
		return Digest{}, err
	}
	var flags byte
	if opts.Peephole {
		flags |= 1
	}
	if opts.DebugInfo {
		flags |= 2
	}
	data = append(data, flags)
	return sha256.Sum256(data), nil
}
