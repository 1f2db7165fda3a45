package dist

import "testing"

func TestPermissivePolicy_AllowsEverything(t *testing.T) {
	p := NewPermissivePolicy()
	m := &Manifest{Natives: []string{"rt_print_str", "rt_thread_start", "rt_alloc"}}

	if err := p.Check(m); err != nil {
		t.Errorf("permissive policy should allow all: %v", err)
	}
}

func TestPermissivePolicy_NilManifest(t *testing.T) {
	p := NewPermissivePolicy()
	if err := p.Check(nil); err != nil {
		t.Errorf("nil manifest should be allowed: %v", err)
	}
}

func TestRestrictedPolicy_AllowsListed(t *testing.T) {
	p := NewRestrictedPolicy([]string{"rt_print_*", "rt_alloc"})
	m := &Manifest{Natives: []string{"rt_print_i64", "rt_alloc"}}

	if err := p.Check(m); err != nil {
		t.Errorf("should allow listed natives: %v", err)
	}
}

func TestRestrictedPolicy_DeniesUnlisted(t *testing.T) {
	p := NewRestrictedPolicy([]string{"rt_print_*"})
	m := &Manifest{Name: "m", Natives: []string{"rt_thread_start"}}

	if err := p.Check(m); err == nil {
		t.Error("should deny unlisted native")
	}
}

func TestCapabilityPolicy_ExplicitDeny(t *testing.T) {
	p := NewPermissivePolicy()
	p.Deny("rt_thread_*")

	m := &Manifest{Natives: []string{"rt_thread_join"}}
	if err := p.Check(m); err == nil {
		t.Error("should deny explicitly denied native")
	}
}

func TestCapabilityPolicy_DenyOverridesAllow(t *testing.T) {
	p := NewRestrictedPolicy([]string{"rt_*"})
	p.Deny("rt_monitor_wait")

	m := &Manifest{Natives: []string{"rt_monitor_enter", "rt_monitor_wait"}}
	if err := p.Check(m); err == nil {
		t.Error("deny should override allow")
	}
}

func TestRestrictedPolicy_EmptyManifest(t *testing.T) {
	p := NewRestrictedPolicy([]string{"rt_print_str"})
	m := &Manifest{}

	if err := p.Check(m); err != nil {
		t.Errorf("empty manifest should pass: %v", err)
	}
}
