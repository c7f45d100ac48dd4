package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/spinje/pflow/internal/store"
)

// ConfigHash returns a stable 16-hex-char hash of a node's resolved
// configuration. Any change in resolved params (or the node type)
// invalidates checkpoint entries keyed by this hash. Special keys injected
// by the compiler or runtime are excluded so they never perturb the hash.
func ConfigHash(nodeType string, params map[string]any) string {
	clean := make(map[string]any, len(params))
	for k, v := range params {
		if store.IsSpecialKey(k) {
			continue
		}
		clean[k] = v
	}
	payload := map[string]any{"type": nodeType, "params": clean}
	// encoding/json writes map keys in sorted order, so this is canonical.
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(nodeType)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
