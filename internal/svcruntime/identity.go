// Package runtime provides environment/runtime detection helpers shared across hub services.
package runtime

import (
	"os"
	"strings"
	"sync"
)

var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// Only used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the gateway should fail closed on
// identity boundaries: only trust the x-lokan-role/x-lokan-subject headers
// when they were set by the mTLS-terminating reverse proxy, not a client.
//
// Production always runs strict. Outside production, strict mode also turns
// on once the hub's mTLS material (LOKAN_TLS_CERT/LOKAN_TLS_KEY/LOKAN_TLS_CLIENT_CA)
// is present, so a developer who wires up real certificates locally gets the
// same trust boundary as production instead of silently staying permissive.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		hasTLSMaterial := strings.TrimSpace(os.Getenv("LOKAN_TLS_CERT")) != "" &&
			strings.TrimSpace(os.Getenv("LOKAN_TLS_KEY")) != "" &&
			strings.TrimSpace(os.Getenv("LOKAN_TLS_CLIENT_CA")) != ""
		strictIdentityModeValue = env == Production || hasTLSMaterial
	})
	return strictIdentityModeValue
}
