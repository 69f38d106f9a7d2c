package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// fingerprintVersion prefixes every key so a format change invalidates
// old entries instead of corrupting restores.
const fingerprintVersion = "v1-cargo"

// manifestCandidates are checked in order; the lockfile pins exact
// dependency versions, the manifest is the fallback for projects that
// do not commit one.
var manifestCandidates = []string{"Cargo.lock", "Cargo.toml"}

// Fingerprint derives the cache key for a checkout from its dependency
// manifest. Same manifest bytes, same key.
func Fingerprint(dir string) (string, error) {
	for _, name := range manifestCandidates {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		sum := sha256.Sum256(raw)
		return fingerprintVersion + "-" + hex.EncodeToString(sum[:]), nil
	}
	return "", fmt.Errorf("no dependency manifest found in %s", dir)
}
