package dist

import (
	"fmt"
	"path"
)

// CapabilityPolicy controls which natives a module may bind before it is
// run. Patterns use path.Match syntax, so "rt_thread_*" covers the thread
// helpers. A nil Allowed list means "allow all".
type CapabilityPolicy struct {
	Allowed []string // nil = allow all
	Denied  []string
}

// NewPermissivePolicy creates a policy that allows all natives.
func NewPermissivePolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// NewRestrictedPolicy creates a policy that only allows natives matching
// one of the patterns.
func NewRestrictedPolicy(allowed []string) *CapabilityPolicy {
	return &CapabilityPolicy{Allowed: append([]string{}, allowed...)}
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Check verifies that every native a manifest requires is allowed by this
// policy. Returns an error naming the first refused native.
func (p *CapabilityPolicy) Check(manifest *Manifest) error {
	if manifest == nil {
		return nil
	}
	for _, name := range manifest.Natives {
		if matchAny(p.Denied, name) {
			return fmt.Errorf("dist: %s: native %q is explicitly denied", manifest.Name, name)
		}
		if p.Allowed != nil && !matchAny(p.Allowed, name) {
			return fmt.Errorf("dist: %s: native %q is not allowed", manifest.Name, name)
		}
	}
	return nil
}

// Deny adds a pattern to the deny list.
func (p *CapabilityPolicy) Deny(pattern string) {
	p.Denied = append(p.Denied, pattern)
}
