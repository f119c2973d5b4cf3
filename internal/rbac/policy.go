// Package rbac evaluates the gateway's role-based access policy: a YAML
// document of role inheritance plus an ordered list of route rules, matched
// first-match with deny-by-default.
package rbac

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/config"
	"github.com/lokanos/hub/internal/middleware"
)

var knownRoles = map[string]middleware.Role{
	"owner":  middleware.RoleOwner,
	"admin":  middleware.RoleAdmin,
	"member": middleware.RoleMember,
	"guest":  middleware.RoleGuest,
}

func parseRole(name string) (middleware.Role, error) {
	role, ok := knownRoles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown role %q", name)
	}
	return role, nil
}

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodConnect: {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

func parseMethod(name string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(name))
	if _, ok := knownMethods[method]; !ok {
		return "", fmt.Errorf("unknown HTTP method %q", name)
	}
	return method, nil
}

// Decision is the outcome of authorizing one request against the policy.
type Decision struct {
	Allowed     bool
	AuditAction string
}

type routeRule struct {
	pattern     string
	methods     map[string]struct{}
	roles       map[middleware.Role]struct{}
	auditAction string
}

func (r routeRule) matches(method, path string) bool {
	if _, ok := r.methods[method]; !ok {
		return false
	}
	if strings.HasSuffix(r.pattern, "*") {
		return strings.HasPrefix(path, r.pattern[:len(r.pattern)-1])
	}
	return r.pattern == path
}

// Policy is a loaded, validated RBAC document.
type Policy struct {
	rules   []routeRule
	inherit map[middleware.Role]map[middleware.Role]struct{}
}

type rawRole struct {
	Inherits []string `yaml:"inherits"`
}

type rawRoute struct {
	Pattern     string   `yaml:"pattern"`
	Methods     []string `yaml:"methods"`
	Roles       []string `yaml:"roles"`
	AuditAction string   `yaml:"audit_action"`
}

type rawPolicy struct {
	Roles  map[string]rawRole `yaml:"roles"`
	Routes []rawRoute         `yaml:"routes"`
}

// LoadFile parses a policy document from path.
func LoadFile(path string) (*Policy, error) {
	var raw rawPolicy
	if err := config.LoadYAML(path, &raw); err != nil {
		return nil, apperrors.Internal("load RBAC policy", err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawPolicy) (*Policy, error) {
	inherit := make(map[middleware.Role]map[middleware.Role]struct{}, len(raw.Roles))
	for name, def := range raw.Roles {
		role, err := parseRole(name)
		if err != nil {
			return nil, apperrors.Internal("parse RBAC policy", err)
		}
		parents := make(map[middleware.Role]struct{}, len(def.Inherits))
		for _, parentName := range def.Inherits {
			parent, err := parseRole(parentName)
			if err != nil {
				return nil, apperrors.Internal("parse RBAC policy", err)
			}
			parents[parent] = struct{}{}
		}
		inherit[role] = parents
	}

	rules := make([]routeRule, 0, len(raw.Routes))
	for _, rr := range raw.Routes {
		methods := make(map[string]struct{})
		if len(rr.Methods) == 0 {
			methods["GET"] = struct{}{}
		} else {
			for _, m := range rr.Methods {
				method, err := parseMethod(m)
				if err != nil {
					return nil, apperrors.Internal("parse RBAC policy", err)
				}
				methods[method] = struct{}{}
			}
		}

		roles := make(map[middleware.Role]struct{}, len(rr.Roles))
		for _, roleName := range rr.Roles {
			role, err := parseRole(roleName)
			if err != nil {
				return nil, apperrors.Internal("parse RBAC policy", err)
			}
			roles[role] = struct{}{}
		}

		rules = append(rules, routeRule{
			pattern:     rr.Pattern,
			methods:     methods,
			roles:       roles,
			auditAction: rr.AuditAction,
		})
	}

	return &Policy{rules: rules, inherit: inherit}, nil
}

// Authorize walks the rules in declaration order and returns the first
// match's decision. No match means deny with no audit action.
func (p *Policy) Authorize(role middleware.Role, method, path string) Decision {
	effective := p.expandRoles(role)
	method = strings.ToUpper(method)
	for _, rule := range p.rules {
		if rule.matches(method, path) {
			_, allowed := func() (struct{}, bool) {
				for r := range rule.roles {
					if _, ok := effective[r]; ok {
						return struct{}{}, true
					}
				}
				return struct{}{}, false
			}()
			return Decision{Allowed: allowed, AuditAction: rule.auditAction}
		}
	}
	return Decision{Allowed: false}
}

// expandRoles walks the inheritance graph from role, visiting each node at
// most once so a cycle in the policy document can't loop forever.
func (p *Policy) expandRoles(role middleware.Role) map[middleware.Role]struct{} {
	visited := make(map[middleware.Role]struct{})
	stack := []middleware.Role{role}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		for parent := range p.inherit[current] {
			stack = append(stack, parent)
		}
	}
	return visited
}

// RouteSummary describes one rule for the policy diagnostics endpoint.
type RouteSummary struct {
	Pattern      string   `json:"pattern"`
	Methods      []string `json:"methods"`
	AllowedRoles []string `json:"allowed_roles"`
	AuditAction  string   `json:"audit_action,omitempty"`
}

// Summaries returns every rule sorted by pattern, for a read-only diagnostics view.
func (p *Policy) Summaries() []RouteSummary {
	summaries := make([]RouteSummary, 0, len(p.rules))
	for _, rule := range p.rules {
		methods := make([]string, 0, len(rule.methods))
		for m := range rule.methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)

		roles := make([]string, 0, len(rule.roles))
		for r := range rule.roles {
			roles = append(roles, string(r))
		}
		sort.Strings(roles)

		summaries = append(summaries, RouteSummary{
			Pattern:      rule.pattern,
			Methods:      methods,
			AllowedRoles: roles,
			AuditAction:  rule.auditAction,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Pattern < summaries[j].Pattern })
	return summaries
}
