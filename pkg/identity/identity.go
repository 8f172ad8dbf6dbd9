// Package identity derives stable device identifiers from opaque
// client-supplied fingerprints.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Fingerprints are hashed into this fixed namespace so the mapping is stable
// across deployments.
var fingerprintNamespace = uuid.MustParse("8d1f9f2e-4b6a-4c1d-9e3f-7a5c20d8b4f1")

// Resolve maps a client fingerprint to a device identifier.
//
// An empty fingerprint yields a fresh random identifier (anonymous,
// unlinkable device). A fingerprint that is already a canonical 36-character
// hyphenated UUID is returned unchanged, so callers may pre-supply an
// identifier. Anything else is hashed deterministically into a UUIDv5 under
// a fixed namespace: the same fingerprint always resolves to the same
// device. The mapping is content-addressed, not collision-resistant in an
// adversarial sense; distinct fingerprints colliding is accepted.
func Resolve(fingerprint string) string {
	if fingerprint == "" {
		return uuid.NewString()
	}

	if IsCanonical(fingerprint) {
		return strings.ToLower(fingerprint)
	}

	return uuid.NewSHA1(fingerprintNamespace, []byte(fingerprint)).String()
}

// IsCanonical reports whether s already has the canonical hyphenated UUID
// shape. uuid.Parse also accepts braced, URN, and bare-hex forms; the length
// check pins it to the 36-character form.
func IsCanonical(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
