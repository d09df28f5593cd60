// Package engine is the guarded entry point for every inventory mutation and
// read. It resolves the actor from the context, checks the capability table,
// bounds the datastore interaction with a timeout, and records outcome
// metrics. All state lives behind the inventory.Store it wraps.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"licentra.org/internal/access"
	"licentra.org/internal/audit"
	"licentra.org/internal/auth"
	"licentra.org/internal/inventory"
	"licentra.org/internal/obs"
)

// Service applies access control and operational bounds in front of a store.
type Service struct {
	store        inventory.Store
	storeTimeout time.Duration
	log          *zap.Logger
	now          func() time.Time
}

// New builds a service over the given store. A non-positive timeout falls
// back to five seconds.
func New(store inventory.Store, storeTimeout time.Duration, log *zap.Logger) *Service {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, storeTimeout: storeTimeout, log: log, now: time.Now}
}

// guard resolves the actor and checks the capability table before any store
// access happens. Denials never touch state.
func (s *Service) guard(ctx context.Context, action access.Action, resource access.Resource) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return auth.Actor{}, fmt.Errorf("%w: no actor in context", inventory.ErrForbidden)
	}
	if !access.Allowed(actor.Role, action, resource) {
		return auth.Actor{}, fmt.Errorf("%w: role %s may not %s %s", inventory.ErrForbidden, actor.Role, action, resource)
	}
	return actor, nil
}

// bound caps how long a single store interaction may run.
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Vendors

func (s *Service) CreateVendor(ctx context.Context, v inventory.Vendor) (inventory.Vendor, error) {
	actor, err := s.guard(ctx, access.ActionCreate, access.ResourceVendor)
	if err != nil {
		return inventory.Vendor{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.CreateVendor(ctx, v, actor.ID)
}

func (s *Service) GetVendor(ctx context.Context, id string) (inventory.Vendor, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceVendor); err != nil {
		return inventory.Vendor{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.GetVendor(ctx, id)
}

func (s *Service) ListVendors(ctx context.Context) ([]inventory.Vendor, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceVendor); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListVendors(ctx)
}

func (s *Service) UpdateVendor(ctx context.Context, id string, upd inventory.VendorUpdate) (inventory.Vendor, error) {
	actor, err := s.guard(ctx, access.ActionUpdate, access.ResourceVendor)
	if err != nil {
		return inventory.Vendor{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.UpdateVendor(ctx, id, upd, actor.ID)
}

func (s *Service) DeleteVendor(ctx context.Context, id string) error {
	actor, err := s.guard(ctx, access.ActionDelete, access.ResourceVendor)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.DeleteVendor(ctx, id, actor.ID)
}

// Devices

func (s *Service) CreateDevice(ctx context.Context, d inventory.Device) (inventory.Device, error) {
	actor, err := s.guard(ctx, access.ActionCreate, access.ResourceDevice)
	if err != nil {
		return inventory.Device{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.CreateDevice(ctx, d, actor.ID)
}

func (s *Service) GetDevice(ctx context.Context, id string) (inventory.Device, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceDevice); err != nil {
		return inventory.Device{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.GetDevice(ctx, id)
}

func (s *Service) ListDevices(ctx context.Context, f inventory.DeviceFilter) ([]inventory.Device, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceDevice); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListDevices(ctx, f)
}

func (s *Service) UpdateDevice(ctx context.Context, id string, upd inventory.DeviceUpdate) (inventory.Device, error) {
	actor, err := s.guard(ctx, access.ActionUpdate, access.ResourceDevice)
	if err != nil {
		return inventory.Device{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.UpdateDevice(ctx, id, upd, actor.ID)
}

func (s *Service) DeleteDevice(ctx context.Context, id string) error {
	actor, err := s.guard(ctx, access.ActionDelete, access.ResourceDevice)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.DeleteDevice(ctx, id, actor.ID)
}

// Licenses

func (s *Service) CreateLicense(ctx context.Context, l inventory.License) (inventory.License, error) {
	actor, err := s.guard(ctx, access.ActionCreate, access.ResourceLicense)
	if err != nil {
		return inventory.License{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.CreateLicense(ctx, l, actor.ID)
}

func (s *Service) GetLicense(ctx context.Context, id string) (inventory.License, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceLicense); err != nil {
		return inventory.License{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.GetLicense(ctx, id)
}

func (s *Service) GetLicenseByKey(ctx context.Context, key string) (inventory.License, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceLicense); err != nil {
		return inventory.License{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.GetLicenseByKey(ctx, key)
}

func (s *Service) ListLicenses(ctx context.Context) ([]inventory.License, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceLicense); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListLicenses(ctx)
}

func (s *Service) UpdateLicense(ctx context.Context, id string, upd inventory.LicenseUpdate) (inventory.License, error) {
	actor, err := s.guard(ctx, access.ActionUpdate, access.ResourceLicense)
	if err != nil {
		return inventory.License{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.UpdateLicense(ctx, id, upd, actor.ID)
}

func (s *Service) DeleteLicense(ctx context.Context, id string) error {
	actor, err := s.guard(ctx, access.ActionDelete, access.ResourceLicense)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.DeleteLicense(ctx, id, actor.ID)
}

// Software versions

func (s *Service) CreateSoftwareVersion(ctx context.Context, sv inventory.SoftwareVersion) (inventory.SoftwareVersion, error) {
	actor, err := s.guard(ctx, access.ActionCreate, access.ResourceSoftwareVersion)
	if err != nil {
		return inventory.SoftwareVersion{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.CreateSoftwareVersion(ctx, sv, actor.ID)
}

func (s *Service) ListSoftwareVersions(ctx context.Context, deviceID string) ([]inventory.SoftwareVersion, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceSoftwareVersion); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListSoftwareVersions(ctx, deviceID)
}

func (s *Service) UpdateSoftwareVersion(ctx context.Context, id string, upd inventory.SoftwareVersionUpdate) (inventory.SoftwareVersion, error) {
	actor, err := s.guard(ctx, access.ActionUpdate, access.ResourceSoftwareVersion)
	if err != nil {
		return inventory.SoftwareVersion{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.UpdateSoftwareVersion(ctx, id, upd, actor.ID)
}

func (s *Service) DeleteSoftwareVersion(ctx context.Context, id string) error {
	actor, err := s.guard(ctx, access.ActionDelete, access.ResourceSoftwareVersion)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.DeleteSoftwareVersion(ctx, id, actor.ID)
}

// Assignments

// Assign grants a seat of the license to the device. The store performs the
// expiry, uniqueness, and capacity checks atomically; this layer contributes
// the permission check and the outcome counter.
func (s *Service) Assign(ctx context.Context, licenseID, deviceID string) (inventory.Assignment, error) {
	actor, err := s.guard(ctx, access.ActionAssign, access.ResourceAssignment)
	if err != nil {
		obs.AssignmentsTotal.WithLabelValues("forbidden").Inc()
		return inventory.Assignment{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	a, err := s.store.Assign(ctx, licenseID, deviceID, actor.ID, s.now())
	obs.AssignmentsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		s.log.Warn("assignment rejected",
			zap.String("license_id", licenseID),
			zap.String("device_id", deviceID),
			zap.String("actor", actor.ID),
			zap.Error(err))
		return inventory.Assignment{}, err
	}
	obs.AuditEntriesTotal.WithLabelValues(string(audit.ActionAssign)).Inc()
	s.log.Info("license assigned",
		zap.String("assignment_id", a.ID),
		zap.String("license_id", licenseID),
		zap.String("device_id", deviceID),
		zap.String("actor", actor.ID))
	return a, nil
}

// Revoke frees the seat held by an active assignment.
func (s *Service) Revoke(ctx context.Context, assignmentID string) error {
	actor, err := s.guard(ctx, access.ActionRevoke, access.ResourceAssignment)
	if err != nil {
		obs.RevocationsTotal.WithLabelValues("forbidden").Inc()
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err = s.store.Revoke(ctx, assignmentID, actor.ID, s.now())
	obs.RevocationsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		s.log.Warn("revocation rejected",
			zap.String("assignment_id", assignmentID),
			zap.String("actor", actor.ID),
			zap.Error(err))
		return err
	}
	obs.AuditEntriesTotal.WithLabelValues(string(audit.ActionRevoke)).Inc()
	s.log.Info("assignment revoked",
		zap.String("assignment_id", assignmentID),
		zap.String("actor", actor.ID))
	return nil
}

func (s *Service) GetAssignment(ctx context.Context, id string) (inventory.Assignment, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceAssignment); err != nil {
		return inventory.Assignment{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.GetAssignment(ctx, id)
}

func (s *Service) ListAssignments(ctx context.Context, f inventory.AssignmentFilter) ([]inventory.Assignment, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceAssignment); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.ListAssignments(ctx, f)
}

// Utilization reports seat usage for one license.
func (s *Service) Utilization(ctx context.Context, licenseID string) (inventory.Utilization, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceLicense); err != nil {
		return inventory.Utilization{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.Utilization(ctx, licenseID)
}

// Audit trail

func (s *Service) AuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if _, err := s.guard(ctx, access.ActionRead, access.ResourceAuditLog); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.AuditEntries(ctx, f)
}

// outcomeLabel collapses the error taxonomy into a low-cardinality metric
// label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inventory.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, inventory.ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, inventory.ErrAlreadyRevoked):
		return "already_revoked"
	case errors.Is(err, inventory.ErrExpiredLicense):
		return "expired_license"
	case errors.Is(err, inventory.ErrNotFound):
		return "not_found"
	case errors.Is(err, inventory.ErrTimeout):
		return "timeout"
	case errors.Is(err, inventory.ErrConflictRetry):
		return "conflict_retry"
	default:
		return "error"
	}
}
