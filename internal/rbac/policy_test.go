package rbac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lokanos/hub/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
roles:
  owner:
    inherits: [admin]
  admin:
    inherits: [member]
  member:
    inherits: [guest]
  guest: {}
routes:
  - pattern: /v1/info
    methods: [GET]
    roles: [guest]
  - pattern: /v1/devices
    methods: [GET]
    roles: [member]
  - pattern: /v1/update/*
    methods: [POST]
    roles: [admin]
    audit_action: updater.mutate
`

func loadSample(t *testing.T) *Policy {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o644))
	policy, err := LoadFile(path)
	require.NoError(t, err)
	return policy
}

func TestAuthorize_DenyByDefaultForUnmatchedRoute(t *testing.T) {
	policy := loadSample(t)
	decision := policy.Authorize(middleware.RoleOwner, "GET", "/v1/unknown")
	assert.False(t, decision.Allowed)
}

func TestAuthorize_GuestMatchesGuestRoute(t *testing.T) {
	policy := loadSample(t)
	decision := policy.Authorize(middleware.RoleGuest, "GET", "/v1/info")
	assert.True(t, decision.Allowed)
}

func TestAuthorize_GuestDeniedFromMemberRoute(t *testing.T) {
	policy := loadSample(t)
	decision := policy.Authorize(middleware.RoleGuest, "GET", "/v1/devices")
	assert.False(t, decision.Allowed)
}

func TestAuthorize_InheritanceGrantsMemberRouteToAdmin(t *testing.T) {
	policy := loadSample(t)
	decision := policy.Authorize(middleware.RoleAdmin, "GET", "/v1/devices")
	assert.True(t, decision.Allowed)
}

func TestAuthorize_WildcardPatternMatchesPrefix(t *testing.T) {
	policy := loadSample(t)
	decision := policy.Authorize(middleware.RoleAdmin, "POST", "/v1/update/stage")
	assert.True(t, decision.Allowed)
	assert.Equal(t, "updater.mutate", decision.AuditAction)
}

func TestAuthorize_MethodMismatchFallsThroughToDeny(t *testing.T) {
	policy := loadSample(t)
	decision := policy.Authorize(middleware.RoleOwner, "DELETE", "/v1/info")
	assert.False(t, decision.Allowed)
}

func TestAuthorize_FirstMatchWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
roles:
  guest: {}
routes:
  - pattern: /v1/shared
    methods: [GET]
    roles: [guest]
  - pattern: /v1/shared
    methods: [GET]
    roles: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	policy, err := LoadFile(path)
	require.NoError(t, err)

	decision := policy.Authorize(middleware.RoleGuest, "GET", "/v1/shared")
	assert.True(t, decision.Allowed)
}

func TestAuthorize_DefaultsToGETWhenMethodsOmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
roles:
  guest: {}
routes:
  - pattern: /v1/info
    roles: [guest]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	policy, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, policy.Authorize(middleware.RoleGuest, "GET", "/v1/info").Allowed)
	assert.False(t, policy.Authorize(middleware.RoleGuest, "POST", "/v1/info").Allowed)
}

func TestLoadFile_RejectsUnknownRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
roles:
  superuser: {}
routes: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFile_RejectsUnknownMethod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
roles:
  guest: {}
routes:
  - pattern: /v1/info
    methods: [FETCH]
    roles: [guest]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestExpandRoles_CycleSafe(t *testing.T) {
	policy := &Policy{
		inherit: map[middleware.Role]map[middleware.Role]struct{}{
			middleware.RoleAdmin: {middleware.RoleOwner: {}},
			middleware.RoleOwner: {middleware.RoleAdmin: {}},
		},
	}
	effective := policy.expandRoles(middleware.RoleAdmin)
	assert.Contains(t, effective, middleware.RoleAdmin)
	assert.Contains(t, effective, middleware.RoleOwner)
}

func TestSummaries_SortedByPattern(t *testing.T) {
	policy := loadSample(t)
	summaries := policy.Summaries()
	require.Len(t, summaries, 3)
	assert.Equal(t, "/v1/devices", summaries[0].Pattern)
	assert.Equal(t, "/v1/info", summaries[1].Pattern)
	assert.Equal(t, "/v1/update/*", summaries[2].Pattern)
	assert.Equal(t, "updater.mutate", summaries[2].AuditAction)
}
