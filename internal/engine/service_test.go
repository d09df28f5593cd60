package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"licentra.org/internal/access"
	"licentra.org/internal/audit"
	"licentra.org/internal/auth"
	"licentra.org/internal/inventory"
)

func ctxAs(role access.Role) context.Context {
	return auth.ContextWithActor(context.Background(), auth.Actor{ID: "user-" + string(role), Role: role})
}

func newTestService(t *testing.T) (*Service, *inventory.InMemory) {
	t.Helper()
	store := inventory.NewInMemory()
	return New(store, time.Second, zap.NewNop()), store
}

func seedEstate(t *testing.T, svc *Service, seats int) (inventory.License, inventory.Device) {
	t.Helper()
	ctx := ctxAs(access.RoleAdmin)

	v, err := svc.CreateVendor(ctx, inventory.Vendor{Name: "Cisco"})
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}
	d, err := svc.CreateDevice(ctx, inventory.Device{
		ID:        "sw-core-01",
		Type:      inventory.DeviceSwitch,
		IPAddress: "10.0.0.1",
		Location:  "dc-1",
		Status:    inventory.DeviceActive,
	})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	l, err := svc.CreateLicense(ctx, inventory.License{
		Key:          "LIC-ENG-1",
		SoftwareName: "IOS-XE",
		VendorID:     v.ID,
		Type:         inventory.LicensePerDevice,
		TotalSeats:   seats,
		ValidFrom:    time.Now().Add(-time.Hour),
		ValidUntil:   time.Now().Add(365 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
	return l, d
}

func TestAuditorCannotMutate(t *testing.T) {
	svc, store := newTestService(t)
	lic, dev := seedEstate(t, svc, 1)
	ctx := ctxAs(access.RoleAuditor)

	checks := []struct {
		name string
		call func() error
	}{
		{"CreateVendor", func() error { _, err := svc.CreateVendor(ctx, inventory.Vendor{Name: "Juniper"}); return err }},
		{"CreateDevice", func() error {
			_, err := svc.CreateDevice(ctx, inventory.Device{ID: "x", Type: inventory.DeviceRouter, IPAddress: "10.0.0.9", Location: "dc", Status: inventory.DeviceActive})
			return err
		}},
		{"Assign", func() error { _, err := svc.Assign(ctx, lic.ID, dev.ID); return err }},
		{"Revoke", func() error { return svc.Revoke(ctx, "any") }},
		{"DeleteLicense", func() error { return svc.DeleteLicense(ctx, lic.ID) }},
	}
	for _, c := range checks {
		if err := c.call(); !errors.Is(err, inventory.ErrForbidden) {
			t.Fatalf("%s as auditor: want ErrForbidden, got %v", c.name, err)
		}
	}

	// A denied call must leave no trace in the audit trail.
	entries, err := store.AuditEntries(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	for _, e := range entries {
		if e.Actor == "user-AUDITOR" {
			t.Fatalf("denied call produced audit entry: %+v", e)
		}
	}
}

func TestAuditorCanRead(t *testing.T) {
	svc, _ := newTestService(t)
	lic, _ := seedEstate(t, svc, 1)
	ctx := ctxAs(access.RoleAuditor)

	if _, err := svc.ListDevices(ctx, inventory.DeviceFilter{}); err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if _, err := svc.GetLicense(ctx, lic.ID); err != nil {
		t.Fatalf("GetLicense: %v", err)
	}
	if _, err := svc.AuditEntries(ctx, audit.Filter{}); err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
}

func TestEngineerWriteSurface(t *testing.T) {
	svc, _ := newTestService(t)
	lic, dev := seedEstate(t, svc, 2)
	ctx := ctxAs(access.RoleEngineer)

	// Engineers manage devices and software versions.
	d2, err := svc.CreateDevice(ctx, inventory.Device{
		ID: "rt-edge-01", Type: inventory.DeviceRouter, IPAddress: "10.0.0.2", Location: "dc-1", Status: inventory.DeviceActive,
	})
	if err != nil {
		t.Fatalf("engineer CreateDevice: %v", err)
	}
	if _, err := svc.CreateSoftwareVersion(ctx, inventory.SoftwareVersion{
		DeviceID: d2.ID, SoftwareName: "IOS-XE", CurrentVersion: "17.9.1", Status: inventory.VersionUpToDate,
	}); err != nil {
		t.Fatalf("engineer CreateSoftwareVersion: %v", err)
	}

	// Engineers assign and revoke.
	a, err := svc.Assign(ctx, lic.ID, dev.ID)
	if err != nil {
		t.Fatalf("engineer Assign: %v", err)
	}
	if err := svc.Revoke(ctx, a.ID); err != nil {
		t.Fatalf("engineer Revoke: %v", err)
	}

	// Engineers do not manage vendors or licenses.
	if _, err := svc.CreateVendor(ctx, inventory.Vendor{Name: "Juniper"}); !errors.Is(err, inventory.ErrForbidden) {
		t.Fatalf("engineer CreateVendor: want ErrForbidden, got %v", err)
	}
	if err := svc.DeleteLicense(ctx, lic.ID); !errors.Is(err, inventory.ErrForbidden) {
		t.Fatalf("engineer DeleteLicense: want ErrForbidden, got %v", err)
	}
}

func TestNoActorIsForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ListVendors(context.Background()); !errors.Is(err, inventory.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
}

func TestAssignRevokeLifecycleThroughService(t *testing.T) {
	svc, _ := newTestService(t)
	lic, dev := seedEstate(t, svc, 1)
	ctx := ctxAs(access.RoleAdmin)

	a, err := svc.Assign(ctx, lic.ID, dev.ID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := svc.Assign(ctx, lic.ID, dev.ID); !errors.Is(err, inventory.ErrAlreadyAssigned) {
		t.Fatalf("second Assign: want ErrAlreadyAssigned, got %v", err)
	}

	u, err := svc.Utilization(ctx, lic.ID)
	if err != nil {
		t.Fatalf("Utilization: %v", err)
	}
	if u.Used != 1 || u.Total != 1 {
		t.Fatalf("utilization = %d/%d, want 1/1", u.Used, u.Total)
	}

	if err := svc.Revoke(ctx, a.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, a.ID); !errors.Is(err, inventory.ErrAlreadyRevoked) {
		t.Fatalf("second Revoke: want ErrAlreadyRevoked, got %v", err)
	}
}

func TestCapacityEnforcedThroughService(t *testing.T) {
	svc, _ := newTestService(t)
	lic, _ := seedEstate(t, svc, 1)
	ctx := ctxAs(access.RoleAdmin)

	if _, err := svc.CreateDevice(ctx, inventory.Device{
		ID: "rt-edge-02", Type: inventory.DeviceRouter, IPAddress: "10.0.0.3", Location: "dc-1", Status: inventory.DeviceActive,
	}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	if _, err := svc.Assign(ctx, lic.ID, "sw-core-01"); err != nil {
		t.Fatalf("first Assign: %v", err)
	}
	if _, err := svc.Assign(ctx, lic.ID, "rt-edge-02"); !errors.Is(err, inventory.ErrCapacityExceeded) {
		t.Fatalf("over-capacity Assign: want ErrCapacityExceeded, got %v", err)
	}
}
