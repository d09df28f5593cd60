package access

import "testing"

func TestAdminHasEveryCapability(t *testing.T) {
	actions := []Action{ActionCreate, ActionUpdate, ActionDelete, ActionRead, ActionAssign, ActionRevoke}
	resources := []Resource{ResourceVendor, ResourceDevice, ResourceLicense, ResourceAssignment, ResourceSoftwareVersion, ResourceAuditLog, ResourceUser}
	for _, a := range actions {
		for _, r := range resources {
			if !Allowed(RoleAdmin, a, r) {
				t.Fatalf("admin denied %s on %s", a, r)
			}
		}
	}
}

func TestEngineerCapabilities(t *testing.T) {
	cases := []struct {
		action   Action
		resource Resource
		want     bool
	}{
		{ActionCreate, ResourceDevice, true},
		{ActionUpdate, ResourceDevice, true},
		{ActionDelete, ResourceDevice, true},
		{ActionCreate, ResourceSoftwareVersion, true},
		{ActionCreate, ResourceLicense, false},
		{ActionUpdate, ResourceVendor, false},
		{ActionDelete, ResourceLicense, false},
		{ActionAssign, ResourceLicense, true},
		{ActionRevoke, ResourceAssignment, true},
		{ActionRead, ResourceAuditLog, true},
		{ActionCreate, ResourceUser, false},
		{ActionUpdate, ResourceUser, false},
	}
	for _, c := range cases {
		if got := Allowed(RoleEngineer, c.action, c.resource); got != c.want {
			t.Fatalf("engineer %s on %s: got %v, want %v", c.action, c.resource, got, c.want)
		}
	}
}

func TestAuditorIsReadOnly(t *testing.T) {
	if !Allowed(RoleAuditor, ActionRead, ResourceAuditLog) {
		t.Fatal("auditor must read audit logs")
	}
	if !Allowed(RoleAuditor, ActionRead, ResourceLicense) {
		t.Fatal("auditor must read licenses")
	}
	for _, a := range []Action{ActionCreate, ActionUpdate, ActionDelete, ActionAssign, ActionRevoke} {
		if Allowed(RoleAuditor, a, ResourceDevice) {
			t.Fatalf("auditor unexpectedly allowed %s", a)
		}
	}
}

func TestUnknownRoleHasNoCapabilities(t *testing.T) {
	if Allowed("", ActionRead, ResourceDevice) {
		t.Fatal("empty role must be denied")
	}
	if Allowed(Role("OPERATOR"), ActionAssign, ResourceLicense) {
		t.Fatal("unknown role must be denied")
	}
}

func TestParseRole(t *testing.T) {
	if ParseRole(" admin ") != RoleAdmin {
		t.Fatal("expected admin")
	}
	if ParseRole("Engineer") != RoleEngineer {
		t.Fatal("expected engineer")
	}
	if ParseRole("root") != "" {
		t.Fatal("unknown role must normalize to empty")
	}
}
