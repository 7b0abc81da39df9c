package auth

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

const anyRole = "any"

// Grant allows one role to perform one action on one resource class.
type Grant struct {
	Role     Role     `json:"role"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Policy is the permission table. Anything not granted is denied.
type Policy struct {
	grants map[Grant]struct{}
}

type policyDocument struct {
	Rules []policyRule `yaml:"rules"`
}

type policyRule struct {
	Resource string   `yaml:"resource"`
	Action   string   `yaml:"action"`
	Roles    []string `yaml:"roles"`
}

// DefaultPolicy returns the built-in permission table.
func DefaultPolicy() *Policy {
	p, err := LoadPolicy(bytes.NewReader(defaultPolicyYAML))
	if err != nil {
		panic(fmt.Sprintf("auth: embedded policy is invalid: %v", err))
	}
	return p
}

// LoadPolicyFile reads a policy table from a YAML file.
func LoadPolicyFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadPolicy(f)
}

// LoadPolicy decodes a YAML policy table. Unknown roles, resources or actions are rejected.
func LoadPolicy(r io.Reader) (*Policy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc policyDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode policy: %v", ErrInvalidInput, err)
	}

	p := &Policy{grants: make(map[Grant]struct{})}
	for i, rule := range doc.Rules {
		res := Resource(rule.Resource)
		act := Action(rule.Action)
		if !res.valid() {
			return nil, fmt.Errorf("%w: rule %d: unknown resource %q", ErrInvalidInput, i, rule.Resource)
		}
		if !act.valid() {
			return nil, fmt.Errorf("%w: rule %d: unknown action %q", ErrInvalidInput, i, rule.Action)
		}
		if len(rule.Roles) == 0 {
			return nil, fmt.Errorf("%w: rule %d: roles are required", ErrInvalidInput, i)
		}
		for _, raw := range rule.Roles {
			if raw == anyRole {
				for _, role := range Roles() {
					p.grants[Grant{Role: role, Resource: res, Action: act}] = struct{}{}
				}
				continue
			}
			role := Role(raw)
			if !role.Valid() {
				return nil, fmt.Errorf("%w: rule %d: unknown role %q", ErrInvalidInput, i, raw)
			}
			p.grants[Grant{Role: role, Resource: res, Action: act}] = struct{}{}
		}
	}
	return p, nil
}

// Allows reports whether role may perform act on res. Unknown roles are never allowed.
func (p *Policy) Allows(role Role, res Resource, act Action) bool {
	if p == nil || !role.Valid() {
		return false
	}
	_, ok := p.grants[Grant{Role: role, Resource: res, Action: act}]
	return ok
}

// Authorize returns ErrForbidden unless the principal's role is granted act on res.
func (p *Policy) Authorize(principal Principal, res Resource, act Action) error {
	if !principal.Active || !p.Allows(principal.Role, res, act) {
		return ErrForbidden
	}
	return nil
}

// Grants lists the table sorted by resource, action, role.
func (p *Policy) Grants() []Grant {
	if p == nil {
		return nil
	}
	out := make([]Grant, 0, len(p.grants))
	for g := range p.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// GrantsFor lists the grants held by role.
func (p *Policy) GrantsFor(role Role) []Grant {
	var out []Grant
	for _, g := range p.Grants() {
		if g.Role == role {
			out = append(out, g)
		}
	}
	return out
}
