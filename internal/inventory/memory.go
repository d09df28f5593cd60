package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"licentra.org/internal/alert"
	"licentra.org/internal/audit"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node evaluation runs; production deployments use the
// Postgres store.
type InMemory struct {
	mu          sync.RWMutex
	vendors     map[string]Vendor
	devices     map[string]Device
	licenses    map[string]License
	assignments map[string]Assignment
	versions    map[string]SoftwareVersion
	auditLog    []audit.Entry
	markers     map[alert.Key]struct{}
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		vendors:     make(map[string]Vendor),
		devices:     make(map[string]Device),
		licenses:    make(map[string]License),
		assignments: make(map[string]Assignment),
		versions:    make(map[string]SoftwareVersion),
		markers:     make(map[alert.Key]struct{}),
	}
}

// ctxGuard maps context errors to the engine taxonomy before touching state.
func ctxGuard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}
	return nil
}

// record builds and appends an audit entry. Callers hold the write lock, so
// the entry lands in the same atomic unit as the mutation; an error aborts
// the mutation before any state change is applied.
func (s *InMemory) record(actor string, action audit.Action, entityType, entityID string, before, after any) (audit.Entry, error) {
	e, err := audit.New(actor, action, entityType, entityID, before, after)
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

// --- Vendors ---

func (s *InMemory) CreateVendor(ctx context.Context, v Vendor, actor string) (Vendor, error) {
	if err := ctxGuard(ctx); err != nil {
		return Vendor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.vendors {
		if strings.EqualFold(existing.Name, v.Name) {
			return Vendor{}, fmt.Errorf("%w: vendor %q already exists", ErrConflict, v.Name)
		}
	}
	now := time.Now().UTC()
	v.ID = uuid.NewString()
	v.CreatedAt = now
	v.UpdatedAt = now

	e, err := s.record(actor, audit.ActionCreate, audit.EntityVendor, v.ID, nil, v)
	if err != nil {
		return Vendor{}, err
	}
	s.vendors[v.ID] = v
	s.auditLog = append(s.auditLog, e)
	return v, nil
}

func (s *InMemory) GetVendor(ctx context.Context, id string) (Vendor, error) {
	if err := ctxGuard(ctx); err != nil {
		return Vendor{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vendors[id]
	if !ok {
		return Vendor{}, fmt.Errorf("%w: vendor %s", ErrNotFound, id)
	}
	return v, nil
}

func (s *InMemory) ListVendors(ctx context.Context) ([]Vendor, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Vendor, 0, len(s.vendors))
	for _, v := range s.vendors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) UpdateVendor(ctx context.Context, id string, upd VendorUpdate, actor string) (Vendor, error) {
	if err := ctxGuard(ctx); err != nil {
		return Vendor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vendors[id]
	if !ok {
		return Vendor{}, fmt.Errorf("%w: vendor %s", ErrNotFound, id)
	}
	before := v
	if upd.Name != nil && *upd.Name != v.Name {
		if s.vendorReferencedLocked(id) {
			return Vendor{}, fmt.Errorf("%w: vendor name is immutable while licenses reference it", ErrConflict)
		}
		if strings.TrimSpace(*upd.Name) == "" {
			return Vendor{}, fmt.Errorf("%w: vendor name is required", ErrValidation)
		}
		v.Name = *upd.Name
	}
	if upd.SupportEmail != nil {
		if *upd.SupportEmail != "" && !strings.Contains(*upd.SupportEmail, "@") {
			return Vendor{}, fmt.Errorf("%w: support email %q is malformed", ErrValidation, *upd.SupportEmail)
		}
		v.SupportEmail = *upd.SupportEmail
	}
	v.UpdatedAt = time.Now().UTC()

	e, err := s.record(actor, audit.ActionUpdate, audit.EntityVendor, id, before, v)
	if err != nil {
		return Vendor{}, err
	}
	s.vendors[id] = v
	s.auditLog = append(s.auditLog, e)
	return v, nil
}

func (s *InMemory) DeleteVendor(ctx context.Context, id string, actor string) error {
	if err := ctxGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vendors[id]
	if !ok {
		return fmt.Errorf("%w: vendor %s", ErrNotFound, id)
	}
	if s.vendorReferencedLocked(id) {
		return fmt.Errorf("%w: vendor %s still owns licenses", ErrConflict, id)
	}
	e, err := s.record(actor, audit.ActionDelete, audit.EntityVendor, id, v, nil)
	if err != nil {
		return err
	}
	delete(s.vendors, id)
	s.auditLog = append(s.auditLog, e)
	return nil
}

func (s *InMemory) vendorReferencedLocked(vendorID string) bool {
	for _, l := range s.licenses {
		if l.VendorID == vendorID {
			return true
		}
	}
	return false
}

// --- Devices ---

func (s *InMemory) CreateDevice(ctx context.Context, d Device, actor string) (Device, error) {
	if err := ctxGuard(ctx); err != nil {
		return Device{}, err
	}
	if err := ValidateDevice(d); err != nil {
		return Device{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[d.ID]; ok {
		return Device{}, fmt.Errorf("%w: device %s already exists", ErrConflict, d.ID)
	}
	for _, existing := range s.devices {
		if existing.IPAddress == d.IPAddress {
			return Device{}, fmt.Errorf("%w: ip address %s already in use by %s", ErrConflict, d.IPAddress, existing.ID)
		}
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	e, err := s.record(actor, audit.ActionCreate, audit.EntityDevice, d.ID, nil, d)
	if err != nil {
		return Device{}, err
	}
	s.devices[d.ID] = d
	s.auditLog = append(s.auditLog, e)
	return d, nil
}

func (s *InMemory) GetDevice(ctx context.Context, id string) (Device, error) {
	if err := ctxGuard(ctx); err != nil {
		return Device{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return d, nil
}

func (s *InMemory) ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Device
	for _, d := range s.devices {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Type != "" && d.Type != f.Type {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateDevice(ctx context.Context, id string, upd DeviceUpdate, actor string) (Device, error) {
	if err := ctxGuard(ctx); err != nil {
		return Device{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	before := d
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return Device{}, fmt.Errorf("%w: unknown device type %q", ErrValidation, *upd.Type)
		}
		d.Type = *upd.Type
	}
	if upd.IPAddress != nil {
		probe := d
		probe.IPAddress = *upd.IPAddress
		if err := ValidateDevice(probe); err != nil {
			return Device{}, err
		}
		for _, existing := range s.devices {
			if existing.ID != id && existing.IPAddress == *upd.IPAddress {
				return Device{}, fmt.Errorf("%w: ip address %s already in use by %s", ErrConflict, *upd.IPAddress, existing.ID)
			}
		}
		d.IPAddress = *upd.IPAddress
	}
	if upd.Location != nil {
		if strings.TrimSpace(*upd.Location) == "" {
			return Device{}, fmt.Errorf("%w: device location is required", ErrValidation)
		}
		d.Location = *upd.Location
	}
	if upd.Model != nil {
		d.Model = *upd.Model
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return Device{}, fmt.Errorf("%w: unknown device status %q", ErrValidation, *upd.Status)
		}
		d.Status = *upd.Status
	}
	d.UpdatedAt = time.Now().UTC()

	e, err := s.record(actor, audit.ActionUpdate, audit.EntityDevice, id, before, d)
	if err != nil {
		return Device{}, err
	}
	s.devices[id] = d
	s.auditLog = append(s.auditLog, e)
	return d, nil
}

func (s *InMemory) DeleteDevice(ctx context.Context, id string, actor string) error {
	if err := ctxGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	for _, a := range s.assignments {
		if a.DeviceID == id && a.Active() {
			return fmt.Errorf("%w: device %s holds active assignments", ErrConflict, id)
		}
	}
	e, err := s.record(actor, audit.ActionDelete, audit.EntityDevice, id, d, nil)
	if err != nil {
		return err
	}
	delete(s.devices, id)
	for svID, sv := range s.versions {
		if sv.DeviceID == id {
			delete(s.versions, svID)
		}
	}
	for aID, a := range s.assignments {
		if a.DeviceID == id {
			delete(s.assignments, aID)
		}
	}
	s.auditLog = append(s.auditLog, e)
	return nil
}

// --- Licenses ---

func (s *InMemory) CreateLicense(ctx context.Context, l License, actor string) (License, error) {
	if err := ctxGuard(ctx); err != nil {
		return License{}, err
	}
	if err := ValidateLicense(l); err != nil {
		return License{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vendors[l.VendorID]; !ok {
		return License{}, fmt.Errorf("%w: vendor %s", ErrNotFound, l.VendorID)
	}
	for _, existing := range s.licenses {
		if existing.Key == l.Key {
			return License{}, fmt.Errorf("%w: license key %s already exists", ErrConflict, l.Key)
		}
	}
	now := time.Now().UTC()
	l.ID = uuid.NewString()
	l.CreatedAt = now
	l.UpdatedAt = now

	e, err := s.record(actor, audit.ActionCreate, audit.EntityLicense, l.ID, nil, l)
	if err != nil {
		return License{}, err
	}
	s.licenses[l.ID] = l
	s.auditLog = append(s.auditLog, e)
	return l, nil
}

func (s *InMemory) GetLicense(ctx context.Context, id string) (License, error) {
	if err := ctxGuard(ctx); err != nil {
		return License{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.licenses[id]
	if !ok {
		return License{}, fmt.Errorf("%w: license %s", ErrNotFound, id)
	}
	return l, nil
}

func (s *InMemory) GetLicenseByKey(ctx context.Context, key string) (License, error) {
	if err := ctxGuard(ctx); err != nil {
		return License{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.licenses {
		if l.Key == key {
			return l, nil
		}
	}
	return License{}, fmt.Errorf("%w: license key %s", ErrNotFound, key)
}

func (s *InMemory) ListLicenses(ctx context.Context) ([]License, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]License, 0, len(s.licenses))
	for _, l := range s.licenses {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateLicense(ctx context.Context, id string, upd LicenseUpdate, actor string) (License, error) {
	if err := ctxGuard(ctx); err != nil {
		return License{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	if !ok {
		return License{}, fmt.Errorf("%w: license %s", ErrNotFound, id)
	}
	before := l
	if upd.SoftwareName != nil {
		l.SoftwareName = *upd.SoftwareName
	}
	if upd.Type != nil {
		l.Type = *upd.Type
	}
	if upd.TotalSeats != nil {
		used := s.usedSeatsLocked(id)
		if *upd.TotalSeats < used {
			return License{}, fmt.Errorf("%w: cannot shrink to %d seats with %d in use", ErrCapacityExceeded, *upd.TotalSeats, used)
		}
		l.TotalSeats = *upd.TotalSeats
	}
	if upd.ValidFrom != nil {
		l.ValidFrom = *upd.ValidFrom
	}
	if upd.ValidUntil != nil {
		l.ValidUntil = *upd.ValidUntil
	}
	if upd.Notes != nil {
		l.Notes = *upd.Notes
	}
	if err := ValidateLicense(l); err != nil {
		return License{}, err
	}
	l.UpdatedAt = time.Now().UTC()

	e, err := s.record(actor, audit.ActionUpdate, audit.EntityLicense, id, before, l)
	if err != nil {
		return License{}, err
	}
	s.licenses[id] = l
	s.auditLog = append(s.auditLog, e)
	return l, nil
}

func (s *InMemory) DeleteLicense(ctx context.Context, id string, actor string) error {
	if err := ctxGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	if !ok {
		return fmt.Errorf("%w: license %s", ErrNotFound, id)
	}
	for _, a := range s.assignments {
		if a.LicenseID == id && a.Active() {
			return fmt.Errorf("%w: license %s has active assignments", ErrConflict, id)
		}
	}
	e, err := s.record(actor, audit.ActionDelete, audit.EntityLicense, id, l, nil)
	if err != nil {
		return err
	}
	delete(s.licenses, id)
	for aID, a := range s.assignments {
		if a.LicenseID == id {
			delete(s.assignments, aID)
		}
	}
	s.auditLog = append(s.auditLog, e)
	return nil
}

func (s *InMemory) usedSeatsLocked(licenseID string) int {
	used := 0
	for _, a := range s.assignments {
		if a.LicenseID == licenseID && a.Active() {
			used++
		}
	}
	return used
}

// --- Software versions ---

func (s *InMemory) CreateSoftwareVersion(ctx context.Context, sv SoftwareVersion, actor string) (SoftwareVersion, error) {
	if err := ctxGuard(ctx); err != nil {
		return SoftwareVersion{}, err
	}
	if err := ValidateSoftwareVersion(sv); err != nil {
		return SoftwareVersion{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[sv.DeviceID]; !ok {
		return SoftwareVersion{}, fmt.Errorf("%w: device %s", ErrNotFound, sv.DeviceID)
	}
	sv.ID = uuid.NewString()
	if sv.Status == "" {
		sv.Status = VersionUpToDate
	}
	if sv.DetectedAt.IsZero() {
		sv.DetectedAt = time.Now().UTC()
	}
	e, err := s.record(actor, audit.ActionCreate, audit.EntitySoftwareVersion, sv.ID, nil, sv)
	if err != nil {
		return SoftwareVersion{}, err
	}
	s.versions[sv.ID] = sv
	s.auditLog = append(s.auditLog, e)
	return sv, nil
}

func (s *InMemory) ListSoftwareVersions(ctx context.Context, deviceID string) ([]SoftwareVersion, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SoftwareVersion
	for _, sv := range s.versions {
		if deviceID == "" || sv.DeviceID == deviceID {
			out = append(out, sv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateSoftwareVersion(ctx context.Context, id string, upd SoftwareVersionUpdate, actor string) (SoftwareVersion, error) {
	if err := ctxGuard(ctx); err != nil {
		return SoftwareVersion{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, ok := s.versions[id]
	if !ok {
		return SoftwareVersion{}, fmt.Errorf("%w: software version %s", ErrNotFound, id)
	}
	before := sv
	if upd.CurrentVersion != nil {
		sv.CurrentVersion = *upd.CurrentVersion
	}
	if upd.LatestVersion != nil {
		sv.LatestVersion = *upd.LatestVersion
	}
	if upd.Status != nil {
		sv.Status = *upd.Status
	}
	e, err := s.record(actor, audit.ActionUpdate, audit.EntitySoftwareVersion, id, before, sv)
	if err != nil {
		return SoftwareVersion{}, err
	}
	s.versions[id] = sv
	s.auditLog = append(s.auditLog, e)
	return sv, nil
}

func (s *InMemory) DeleteSoftwareVersion(ctx context.Context, id string, actor string) error {
	if err := ctxGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, ok := s.versions[id]
	if !ok {
		return fmt.Errorf("%w: software version %s", ErrNotFound, id)
	}
	e, err := s.record(actor, audit.ActionDelete, audit.EntitySoftwareVersion, id, sv, nil)
	if err != nil {
		return err
	}
	delete(s.versions, id)
	s.auditLog = append(s.auditLog, e)
	return nil
}

// --- Assignments ---

func (s *InMemory) Assign(ctx context.Context, licenseID, deviceID, actor string, now time.Time) (Assignment, error) {
	if err := ctxGuard(ctx); err != nil {
		return Assignment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[licenseID]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: license %s", ErrNotFound, licenseID)
	}
	if _, ok := s.devices[deviceID]; !ok {
		return Assignment{}, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
	}
	if l.Expired(now) {
		return Assignment{}, fmt.Errorf("%w: license %s expired %s", ErrExpiredLicense, l.Key, l.ValidUntil.Format(time.DateOnly))
	}
	for _, a := range s.assignments {
		if a.LicenseID == licenseID && a.DeviceID == deviceID && a.Active() {
			return Assignment{}, fmt.Errorf("%w: license %s on device %s", ErrAlreadyAssigned, l.Key, deviceID)
		}
	}
	// Capacity check and insert are one unit under the write lock.
	used := s.usedSeatsLocked(licenseID)
	if used >= l.TotalSeats {
		return Assignment{}, fmt.Errorf("%w: license %s at %d/%d seats", ErrCapacityExceeded, l.Key, used, l.TotalSeats)
	}

	a := Assignment{
		ID:         uuid.NewString(),
		LicenseID:  licenseID,
		DeviceID:   deviceID,
		AssignedBy: actor,
		AssignedAt: now.UTC(),
	}
	e, err := s.record(actor, audit.ActionAssign, audit.EntityAssignment, a.ID, nil, a)
	if err != nil {
		return Assignment{}, err
	}
	s.assignments[a.ID] = a
	s.auditLog = append(s.auditLog, e)
	return a, nil
}

func (s *InMemory) Revoke(ctx context.Context, assignmentID, actor string, now time.Time) error {
	if err := ctxGuard(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[assignmentID]
	if !ok {
		return fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
	}
	if !a.Active() {
		return fmt.Errorf("%w: assignment %s", ErrAlreadyRevoked, assignmentID)
	}
	before := a
	revokedAt := now.UTC()
	a.RevokedAt = &revokedAt

	e, err := s.record(actor, audit.ActionRevoke, audit.EntityAssignment, assignmentID, before, a)
	if err != nil {
		return err
	}
	s.assignments[assignmentID] = a
	s.auditLog = append(s.auditLog, e)
	return nil
}

func (s *InMemory) GetAssignment(ctx context.Context, id string) (Assignment, error) {
	if err := ctxGuard(ctx); err != nil {
		return Assignment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: assignment %s", ErrNotFound, id)
	}
	return a, nil
}

func (s *InMemory) ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Assignment
	for _, a := range s.assignments {
		if f.LicenseID != "" && a.LicenseID != f.LicenseID {
			continue
		}
		if f.DeviceID != "" && a.DeviceID != f.DeviceID {
			continue
		}
		if f.ActiveOnly && !a.Active() {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})
	return out, nil
}

// --- Compliance reads ---

func (s *InMemory) Utilization(ctx context.Context, licenseID string) (Utilization, error) {
	if err := ctxGuard(ctx); err != nil {
		return Utilization{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.licenses[licenseID]
	if !ok {
		return Utilization{}, fmt.Errorf("%w: license %s", ErrNotFound, licenseID)
	}
	return Utilization{LicenseID: licenseID, Used: s.usedSeatsLocked(licenseID), Total: l.TotalSeats}, nil
}

func (s *InMemory) ListUtilizations(ctx context.Context) ([]Utilization, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Utilization, 0, len(s.licenses))
	for id, l := range s.licenses {
		out = append(out, Utilization{LicenseID: id, Used: s.usedSeatsLocked(id), Total: l.TotalSeats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LicenseID < out[j].LicenseID })
	return out, nil
}

func (s *InMemory) ExpiringLicenses(ctx context.Context, now time.Time, within time.Duration) ([]License, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	horizon := now.Add(within)
	var out []License
	for _, l := range s.licenses {
		if l.ValidUntil.Before(now) || l.ValidUntil.After(horizon) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ValidUntil.Equal(out[j].ValidUntil) {
			return out[i].ID < out[j].ID
		}
		return out[i].ValidUntil.Before(out[j].ValidUntil)
	})
	return out, nil
}

func (s *InMemory) AtRiskDevices(ctx context.Context, now time.Time, riskWindow time.Duration, overRatio float64) ([]Device, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	horizon := now.Add(riskWindow)
	risky := make(map[string]struct{})
	for _, a := range s.assignments {
		if !a.Active() {
			continue
		}
		l, ok := s.licenses[a.LicenseID]
		if !ok {
			continue
		}
		util := Utilization{LicenseID: l.ID, Used: s.usedSeatsLocked(l.ID), Total: l.TotalSeats}
		switch {
		case l.Expired(now):
			risky[a.DeviceID] = struct{}{}
		case !l.ValidUntil.After(horizon):
			risky[a.DeviceID] = struct{}{}
		case overRatio > 0 && util.Ratio() >= overRatio:
			risky[a.DeviceID] = struct{}{}
		}
	}

	var out []Device
	for id := range risky {
		d, ok := s.devices[id]
		if !ok || d.Status == DeviceDecommissioned {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) Summary(ctx context.Context, now time.Time) (Summary, error) {
	if err := ctxGuard(ctx); err != nil {
		return Summary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum Summary
	sum.TotalDevices = len(s.devices)
	for _, d := range s.devices {
		switch d.Status {
		case DeviceActive:
			sum.ActiveDevices++
		case DeviceMaintenance:
			sum.MaintenanceDevices++
		case DeviceDecommissioned:
			sum.DecommissionedDevices++
		}
	}
	sum.TotalLicenses = len(s.licenses)
	for _, l := range s.licenses {
		if l.Expired(now) {
			sum.ExpiredLicenses++
		}
	}
	for _, a := range s.assignments {
		if a.Active() {
			sum.ActiveAssignments++
		}
	}
	return sum, nil
}

// --- Audit ---

func (s *InMemory) AuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.auditLog {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// --- Alert markers ---

func (s *InMemory) SyncAlertMarkers(ctx context.Context, active []alert.Key) ([]alert.Key, error) {
	if err := ctxGuard(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[alert.Key]struct{}, len(active))
	var newly []alert.Key
	for _, k := range active {
		if _, dup := next[k]; dup {
			continue
		}
		next[k] = struct{}{}
		if _, seen := s.markers[k]; !seen {
			newly = append(newly, k)
		}
	}
	s.markers = next
	sort.Slice(newly, func(i, j int) bool { return newly[i].String() < newly[j].String() })
	return newly, nil
}
