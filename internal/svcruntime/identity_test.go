package runtime

import "testing"

func TestStrictIdentityMode(t *testing.T) {
	t.Run("production env", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("LOKAN_ENV", "production")
		if !StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = false, want true")
		}
	})

	t.Run("tls material present", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("LOKAN_ENV", "development")
		t.Setenv("LOKAN_TLS_CERT", "cert")
		t.Setenv("LOKAN_TLS_KEY", "key")
		t.Setenv("LOKAN_TLS_CLIENT_CA", "ca")
		if !StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = false, want true")
		}
	})

	t.Run("dev without tls material", func(t *testing.T) {
		ResetStrictIdentityModeCache()
		t.Setenv("LOKAN_ENV", "development")
		if StrictIdentityMode() {
			t.Fatalf("StrictIdentityMode() = true, want false")
		}
	})
}
