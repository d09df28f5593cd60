package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"licentra.org/internal/audit"
)

const testActor = "user-admin"

func seedVendor(t *testing.T, s *InMemory) Vendor {
	t.Helper()
	v, err := s.CreateVendor(context.Background(), Vendor{Name: "Cisco", SupportEmail: "support@cisco.example"}, testActor)
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}
	return v
}

func seedDevice(t *testing.T, s *InMemory, id, ip string) Device {
	t.Helper()
	d, err := s.CreateDevice(context.Background(), Device{
		ID: id, Type: DeviceSwitch, IPAddress: ip, Location: "DC-1", Status: DeviceActive,
	}, testActor)
	if err != nil {
		t.Fatalf("CreateDevice(%s): %v", id, err)
	}
	return d
}

func seedLicense(t *testing.T, s *InMemory, vendorID, key string, seats int, validUntil time.Time) License {
	t.Helper()
	l, err := s.CreateLicense(context.Background(), License{
		Key:          key,
		SoftwareName: "IOS XE",
		VendorID:     vendorID,
		Type:         LicensePerDevice,
		TotalSeats:   seats,
		ValidFrom:    time.Now().Add(-24 * time.Hour),
		ValidUntil:   validUntil,
	}, testActor)
	if err != nil {
		t.Fatalf("CreateLicense(%s): %v", key, err)
	}
	return l
}

func TestAssignRevokeAssignYieldsTwoRows(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	l := seedLicense(t, s, v.ID, "LIC-1", 2, time.Now().Add(60*24*time.Hour))

	a1, err := s.Assign(ctx, l.ID, "sw-01", testActor, time.Now())
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if err := s.Revoke(ctx, a1.ID, testActor, time.Now()); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	a2, err := s.Assign(ctx, l.ID, "sw-01", testActor, time.Now())
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if a1.ID == a2.ID {
		t.Fatal("expected two distinct assignment rows")
	}

	rows, err := s.ListAssignments(ctx, AssignmentFilter{LicenseID: l.ID, DeviceID: "sw-01"})
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].RevokedAt == nil {
		t.Fatal("first row must keep its revoked_at")
	}
	if rows[1].RevokedAt != nil {
		t.Fatal("second row must be active")
	}
}

func TestRevokeTransitionsExactlyOnce(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	l := seedLicense(t, s, v.ID, "LIC-1", 1, time.Now().Add(30*24*time.Hour))

	a, err := s.Assign(ctx, l.ID, "sw-01", testActor, time.Now())
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.Revoke(ctx, a.ID, testActor, time.Now()); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.Revoke(ctx, a.ID, testActor, time.Now()); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}
}

func TestAssignErrorTaxonomy(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	seedDevice(t, s, "sw-02", "10.0.0.2")
	active := seedLicense(t, s, v.ID, "LIC-OK", 1, time.Now().Add(30*24*time.Hour))

	if _, err := s.Assign(ctx, "missing", "sw-01", testActor, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing license: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Assign(ctx, active.ID, "missing", testActor, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing device: expected ErrNotFound, got %v", err)
	}

	if _, err := s.Assign(ctx, active.ID, "sw-01", testActor, time.Now()); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.Assign(ctx, active.ID, "sw-01", testActor, time.Now()); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("duplicate pair: expected ErrAlreadyAssigned, got %v", err)
	}
	if _, err := s.Assign(ctx, active.ID, "sw-02", testActor, time.Now()); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("over capacity: expected ErrCapacityExceeded, got %v", err)
	}

	// Expiry is checked against the supplied clock.
	expired := seedLicense(t, s, v.ID, "LIC-OLD", 1, time.Now().Add(time.Hour))
	future := time.Now().Add(48 * time.Hour)
	if _, err := s.Assign(ctx, expired.ID, "sw-02", testActor, future); !errors.Is(err, ErrExpiredLicense) {
		t.Fatalf("expired license: expected ErrExpiredLicense, got %v", err)
	}
}

func TestCapacityScenario(t *testing.T) {
	// LIC-1 total_seats=2: A ok, B ok, C fails, revoke A, C ok.
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "dev-a", "10.0.0.1")
	seedDevice(t, s, "dev-b", "10.0.0.2")
	seedDevice(t, s, "dev-c", "10.0.0.3")
	l := seedLicense(t, s, v.ID, "LIC-1", 2, time.Now().Add(60*24*time.Hour))

	mustUsed := func(want int) {
		t.Helper()
		u, err := s.Utilization(ctx, l.ID)
		if err != nil {
			t.Fatalf("Utilization: %v", err)
		}
		if u.Used != want || u.Total != 2 {
			t.Fatalf("utilization = %d/%d, want %d/2", u.Used, u.Total, want)
		}
	}

	aA, err := s.Assign(ctx, l.ID, "dev-a", testActor, time.Now())
	if err != nil {
		t.Fatalf("assign A: %v", err)
	}
	mustUsed(1)
	if _, err := s.Assign(ctx, l.ID, "dev-b", testActor, time.Now()); err != nil {
		t.Fatalf("assign B: %v", err)
	}
	mustUsed(2)
	if _, err := s.Assign(ctx, l.ID, "dev-c", testActor, time.Now()); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("assign C: expected ErrCapacityExceeded, got %v", err)
	}
	if err := s.Revoke(ctx, aA.ID, testActor, time.Now()); err != nil {
		t.Fatalf("revoke A: %v", err)
	}
	mustUsed(1)
	if _, err := s.Assign(ctx, l.ID, "dev-c", testActor, time.Now()); err != nil {
		t.Fatalf("assign C after revoke: %v", err)
	}
	mustUsed(2)
}

func TestConcurrentAssignsNeverExceedCapacity(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	const devices = 50
	const seats = 7
	for i := 0; i < devices; i++ {
		seedDevice(t, s, deviceID(i), deviceIP(i))
	}
	l := seedLicense(t, s, v.ID, "LIC-RACE", seats, time.Now().Add(30*24*time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Assign(ctx, l.ID, deviceID(i), testActor, time.Now())
		}(i)
	}
	wg.Wait()

	u, err := s.Utilization(ctx, l.ID)
	if err != nil {
		t.Fatalf("Utilization: %v", err)
	}
	if u.Used != seats {
		t.Fatalf("expected exactly %d seats used, got %d", seats, u.Used)
	}
}

func TestConcurrentLastSeatRace(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "dev-a", "10.0.0.1")
	seedDevice(t, s, "dev-b", "10.0.0.2")
	l := seedLicense(t, s, v.ID, "LIC-LAST", 1, time.Now().Add(30*24*time.Hour))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, dev := range []string{"dev-a", "dev-b"} {
		wg.Add(1)
		go func(i int, dev string) {
			defer wg.Done()
			_, errs[i] = s.Assign(ctx, l.ID, dev, testActor, time.Now())
		}(i, dev)
	}
	wg.Wait()

	var ok, capacity int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrCapacityExceeded):
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || capacity != 1 {
		t.Fatalf("expected exactly one winner and one CapacityExceeded, got ok=%d capacity=%d", ok, capacity)
	}
}

func TestEveryMutationProducesOneAuditEntry(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	l := seedLicense(t, s, v.ID, "LIC-1", 1, time.Now().Add(30*24*time.Hour))
	a, err := s.Assign(ctx, l.ID, "sw-01", testActor, time.Now())
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.Revoke(ctx, a.ID, testActor, time.Now()); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	entries, err := s.AuditEntries(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	// vendor create + device create + license create + assign + revoke
	if len(entries) != 5 {
		t.Fatalf("expected 5 audit entries, got %d", len(entries))
	}

	assigns, err := s.AuditEntries(ctx, audit.Filter{Action: audit.ActionAssign})
	if err != nil {
		t.Fatalf("AuditEntries assign: %v", err)
	}
	if len(assigns) != 1 || assigns[0].EntityID != a.ID {
		t.Fatalf("expected one ASSIGN entry for %s, got %+v", a.ID, assigns)
	}

	revokes, err := s.AuditEntries(ctx, audit.Filter{Action: audit.ActionRevoke})
	if err != nil {
		t.Fatalf("AuditEntries revoke: %v", err)
	}
	if len(revokes) != 1 || revokes[0].EntityID != a.ID {
		t.Fatalf("expected one REVOKE entry for %s, got %+v", a.ID, revokes)
	}
}

func TestFailedMutationLeavesNoAuditEntry(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	seedDevice(t, s, "sw-02", "10.0.0.2")
	l := seedLicense(t, s, v.ID, "LIC-1", 1, time.Now().Add(30*24*time.Hour))
	if _, err := s.Assign(ctx, l.ID, "sw-01", testActor, time.Now()); err != nil {
		t.Fatalf("assign: %v", err)
	}

	before, _ := s.AuditEntries(ctx, audit.Filter{})
	if _, err := s.Assign(ctx, l.ID, "sw-02", testActor, time.Now()); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	after, _ := s.AuditEntries(ctx, audit.Filter{})
	if len(after) != len(before) {
		t.Fatalf("failed mutation must not add audit entries: %d -> %d", len(before), len(after))
	}
}

func TestAuditEntriesOrderedNewestFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	seedLicense(t, s, v.ID, "LIC-1", 1, time.Now().Add(30*24*time.Hour))

	entries, err := s.AuditEntries(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Fatal("entries must be ordered timestamp descending")
		}
		if entries[i].Timestamp.Equal(entries[i-1].Timestamp) && entries[i].ID > entries[i-1].ID {
			t.Fatal("ties must be broken by id descending")
		}
	}
}

func TestDeleteGuards(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	l := seedLicense(t, s, v.ID, "LIC-1", 1, time.Now().Add(30*24*time.Hour))
	a, err := s.Assign(ctx, l.ID, "sw-01", testActor, time.Now())
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := s.DeleteVendor(ctx, v.ID, testActor); !errors.Is(err, ErrConflict) {
		t.Fatalf("vendor with licenses: expected ErrConflict, got %v", err)
	}
	if err := s.DeleteDevice(ctx, "sw-01", testActor); !errors.Is(err, ErrConflict) {
		t.Fatalf("device with active assignment: expected ErrConflict, got %v", err)
	}
	if err := s.DeleteLicense(ctx, l.ID, testActor); !errors.Is(err, ErrConflict) {
		t.Fatalf("license with active assignment: expected ErrConflict, got %v", err)
	}

	if err := s.Revoke(ctx, a.ID, testActor, time.Now()); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.DeleteLicense(ctx, l.ID, testActor); err != nil {
		t.Fatalf("license with only revoked assignments must delete: %v", err)
	}
	if err := s.DeleteVendor(ctx, v.ID, testActor); err != nil {
		t.Fatalf("vendor without licenses must delete: %v", err)
	}
}

func TestUpdateLicenseCannotShrinkBelowUse(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedDevice(t, s, "sw-01", "10.0.0.1")
	seedDevice(t, s, "sw-02", "10.0.0.2")
	l := seedLicense(t, s, v.ID, "LIC-1", 3, time.Now().Add(30*24*time.Hour))
	if _, err := s.Assign(ctx, l.ID, "sw-01", testActor, time.Now()); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := s.Assign(ctx, l.ID, "sw-02", testActor, time.Now()); err != nil {
		t.Fatalf("assign: %v", err)
	}

	one := 1
	if _, err := s.UpdateLicense(ctx, l.ID, LicenseUpdate{TotalSeats: &one}, testActor); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	two := 2
	if _, err := s.UpdateLicense(ctx, l.ID, LicenseUpdate{TotalSeats: &two}, testActor); err != nil {
		t.Fatalf("shrink to exact use must succeed: %v", err)
	}
}

func TestVendorNameImmutableWhileReferenced(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	v := seedVendor(t, s)
	seedLicense(t, s, v.ID, "LIC-1", 1, time.Now().Add(30*24*time.Hour))

	name := "Cisco Systems"
	if _, err := s.UpdateVendor(ctx, v.ID, VendorUpdate{Name: &name}, testActor); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for name change, got %v", err)
	}
	email := "noc@cisco.example"
	if _, err := s.UpdateVendor(ctx, v.ID, VendorUpdate{SupportEmail: &email}, testActor); err != nil {
		t.Fatalf("contact field update must succeed: %v", err)
	}
}

func TestExpiredContextMapsToTimeout(t *testing.T) {
	s := NewInMemory()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if _, err := s.ListVendors(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func deviceID(i int) string {
	return fmt.Sprintf("dev-%03d", i)
}

func deviceIP(i int) string {
	return fmt.Sprintf("10.0.%d.%d", i/250, i%250+1)
}
