// Package pwgen generates short human-typeable secrets: room passwords and
// share-link passwords both draw from the same unambiguous alphabet (§4.2,
// §4.4), so the logic lives in one place instead of being duplicated.
package pwgen

import (
	"crypto/rand"
	"math/big"
)

// alphabet excludes visually ambiguous characters: I, l, O, 0, 1.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// Generate returns a random n-character string drawn from alphabet.
func Generate(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
