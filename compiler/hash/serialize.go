package hash

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("hash: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Serialize produces a deterministic byte serialization of a hashing tree:
// HashVersion followed by canonical CBOR. The returned bytes are suitable
// for hashing with SHA-256.
func Serialize(m *HModule) ([]byte, error) {
	body, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("hash: encode %s: %w", m.Name, err)
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, HashVersion)
	return append(out, body...), nil
}
