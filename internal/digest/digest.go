// Package digest computes the stable config fingerprint stored as
// model.IndexState.ConfigHash. No config-digest library appears in the
// example pack, so this is a small stdlib json+sha256 helper (see
// DESIGN.md); everything above this package treats the result as an
// opaque string.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Config computes a stable hex digest of v, which must be a value whose
// JSON encoding is deterministic (maps of primitive keys, slices in a
// fixed order — true of every config struct this engine defines).
func Config(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
