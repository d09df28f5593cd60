package inventory

import (
	"context"
	"time"

	"licentra.org/internal/alert"
	"licentra.org/internal/audit"
)

// Store is the durable state of the engine. Every mutating method appends its
// audit entry in the same atomic unit as the mutation: a failed mutation
// leaves no entry, a failed append aborts the mutation.
//
// Mutations against the same license or device aggregate are serialized by
// the implementation (a mutex for the in-memory store, serializable
// transactions with row locks for Postgres). Reads never block mutations on
// unrelated aggregates.
type Store interface {
	// Vendors
	CreateVendor(ctx context.Context, v Vendor, actor string) (Vendor, error)
	GetVendor(ctx context.Context, id string) (Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
	UpdateVendor(ctx context.Context, id string, upd VendorUpdate, actor string) (Vendor, error)
	DeleteVendor(ctx context.Context, id string, actor string) error

	// Devices
	CreateDevice(ctx context.Context, d Device, actor string) (Device, error)
	GetDevice(ctx context.Context, id string) (Device, error)
	ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error)
	UpdateDevice(ctx context.Context, id string, upd DeviceUpdate, actor string) (Device, error)
	DeleteDevice(ctx context.Context, id string, actor string) error

	// Licenses
	CreateLicense(ctx context.Context, l License, actor string) (License, error)
	GetLicense(ctx context.Context, id string) (License, error)
	GetLicenseByKey(ctx context.Context, key string) (License, error)
	ListLicenses(ctx context.Context) ([]License, error)
	UpdateLicense(ctx context.Context, id string, upd LicenseUpdate, actor string) (License, error)
	DeleteLicense(ctx context.Context, id string, actor string) error

	// Software versions
	CreateSoftwareVersion(ctx context.Context, sv SoftwareVersion, actor string) (SoftwareVersion, error)
	ListSoftwareVersions(ctx context.Context, deviceID string) ([]SoftwareVersion, error)
	UpdateSoftwareVersion(ctx context.Context, id string, upd SoftwareVersionUpdate, actor string) (SoftwareVersion, error)
	DeleteSoftwareVersion(ctx context.Context, id string, actor string) error

	// Assignments. Assign performs the capacity check and the insert as one
	// mutually exclusive unit per license.
	Assign(ctx context.Context, licenseID, deviceID, actor string, now time.Time) (Assignment, error)
	Revoke(ctx context.Context, assignmentID, actor string, now time.Time) error
	GetAssignment(ctx context.Context, id string) (Assignment, error)
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error)

	// Compliance reads; side-effect free, computed at query time.
	Utilization(ctx context.Context, licenseID string) (Utilization, error)
	ListUtilizations(ctx context.Context) ([]Utilization, error)
	ExpiringLicenses(ctx context.Context, now time.Time, within time.Duration) ([]License, error)
	AtRiskDevices(ctx context.Context, now time.Time, riskWindow time.Duration, overRatio float64) ([]Device, error)
	Summary(ctx context.Context, now time.Time) (Summary, error)

	// Audit trail, ordered by timestamp descending.
	AuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error)

	// SyncAlertMarkers replaces the persisted set of signaled alert
	// conditions with the given active set and returns the keys that were
	// not signaled before. Serialized per run so overlapping scans cannot
	// double-emit.
	SyncAlertMarkers(ctx context.Context, active []alert.Key) ([]alert.Key, error)
}
