// Package inventory holds the durable entities of the license engine and the
// Store contract both backends (in-memory and Postgres) implement.
package inventory

import (
	"time"
)

// DeviceStatus is the operational state of a network device.
type DeviceStatus string

const (
	DeviceActive         DeviceStatus = "ACTIVE"
	DeviceInactive       DeviceStatus = "INACTIVE"
	DeviceMaintenance    DeviceStatus = "MAINTENANCE"
	DeviceObsolete       DeviceStatus = "OBSOLETE"
	DeviceDecommissioned DeviceStatus = "DECOMMISSIONED"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceActive, DeviceInactive, DeviceMaintenance, DeviceObsolete, DeviceDecommissioned:
		return true
	}
	return false
}

// DeviceType classifies the hardware a license can be attached to.
type DeviceType string

const (
	DeviceRouter       DeviceType = "ROUTER"
	DeviceSwitch       DeviceType = "SWITCH"
	DeviceFirewall     DeviceType = "FIREWALL"
	DeviceAccessPoint  DeviceType = "ACCESS_POINT"
	DeviceLoadBalancer DeviceType = "LOAD_BALANCER"
	DeviceServer       DeviceType = "SERVER"
	DeviceOther        DeviceType = "OTHER"
)

func (t DeviceType) Valid() bool {
	switch t {
	case DeviceRouter, DeviceSwitch, DeviceFirewall, DeviceAccessPoint, DeviceLoadBalancer, DeviceServer, DeviceOther:
		return true
	}
	return false
}

// LicenseType distinguishes the purchase model of a license.
type LicenseType string

const (
	LicensePerUser    LicenseType = "PER_USER"
	LicensePerDevice  LicenseType = "PER_DEVICE"
	LicenseEnterprise LicenseType = "ENTERPRISE"
)

func (t LicenseType) Valid() bool {
	switch t {
	case LicensePerUser, LicensePerDevice, LicenseEnterprise:
		return true
	}
	return false
}

// LicenseStatus is derived from the validity window, never stored.
type LicenseStatus string

const (
	LicensePending LicenseStatus = "PENDING"
	LicenseActive  LicenseStatus = "ACTIVE"
	LicenseExpired LicenseStatus = "EXPIRED"
)

// SoftwareVersionStatus reports whether a detected installation is current.
type SoftwareVersionStatus string

const (
	VersionUpToDate SoftwareVersionStatus = "UP_TO_DATE"
	VersionOutdated SoftwareVersionStatus = "OUTDATED"
)

// Vendor owns licenses. Once a license references a vendor only its contact
// fields may change.
type Vendor struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SupportEmail string    `json:"support_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Device is a piece of network equipment identified by its operator-assigned
// identifier (e.g. "sw-core-01").
type Device struct {
	ID        string       `json:"id"`
	Type      DeviceType   `json:"type"`
	IPAddress string       `json:"ip_address"`
	Location  string       `json:"location"`
	Model     string       `json:"model,omitempty"`
	Status    DeviceStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// License grants a number of seats for a piece of software within a validity
// window. Utilized seats never exceed TotalSeats.
type License struct {
	ID           string      `json:"id"`
	Key          string      `json:"key"`
	SoftwareName string      `json:"software_name"`
	VendorID     string      `json:"vendor_id"`
	Type         LicenseType `json:"type"`
	TotalSeats   int         `json:"total_seats"`
	ValidFrom    time.Time   `json:"valid_from"`
	ValidUntil   time.Time   `json:"valid_until"`
	Notes        string      `json:"notes,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Status derives the lifecycle state at the given instant.
func (l License) Status(now time.Time) LicenseStatus {
	switch {
	case now.Before(l.ValidFrom):
		return LicensePending
	case now.After(l.ValidUntil):
		return LicenseExpired
	default:
		return LicenseActive
	}
}

// Expired reports whether the license validity window has passed.
func (l License) Expired(now time.Time) bool {
	return now.After(l.ValidUntil)
}

// DaysUntilExpiry rounds down to whole days; negative once expired.
func (l License) DaysUntilExpiry(now time.Time) int {
	return int(l.ValidUntil.Sub(now).Hours() / 24)
}

// Assignment binds one license to one device. It is active while RevokedAt is
// nil, transitions to revoked exactly once, and is never mutated afterwards.
type Assignment struct {
	ID         string     `json:"id"`
	LicenseID  string     `json:"license_id"`
	DeviceID   string     `json:"device_id"`
	AssignedBy string     `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the binding currently consumes a seat.
func (a Assignment) Active() bool { return a.RevokedAt == nil }

// SoftwareVersion is an informational record of software detected on a device.
type SoftwareVersion struct {
	ID             string                `json:"id"`
	DeviceID       string                `json:"device_id"`
	SoftwareName   string                `json:"software_name"`
	CurrentVersion string                `json:"current_version"`
	LatestVersion  string                `json:"latest_version,omitempty"`
	Status         SoftwareVersionStatus `json:"status"`
	DetectedAt     time.Time             `json:"detected_at"`
}

// Utilization is the seat usage of a single license at query time.
type Utilization struct {
	LicenseID string `json:"license_id"`
	Used      int    `json:"used"`
	Total     int    `json:"total"`
}

// Ratio is used seats over total seats; zero when the license has no seats.
func (u Utilization) Ratio() float64 {
	if u.Total <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Total)
}

// Summary aggregates estate-wide counts for the dashboard collaborator.
type Summary struct {
	TotalDevices          int `json:"total_devices"`
	ActiveDevices         int `json:"active_devices"`
	MaintenanceDevices    int `json:"maintenance_devices"`
	DecommissionedDevices int `json:"decommissioned_devices"`
	TotalLicenses         int `json:"total_licenses"`
	ExpiredLicenses       int `json:"expired_licenses"`
	ActiveAssignments     int `json:"active_assignments"`
}

// VendorUpdate modifies vendor fields. Nil fields stay untouched. Name
// changes are rejected while licenses reference the vendor.
type VendorUpdate struct {
	Name         *string
	SupportEmail *string
}

// DeviceUpdate modifies device fields. Nil fields stay untouched.
type DeviceUpdate struct {
	Type      *DeviceType
	IPAddress *string
	Location  *string
	Model     *string
	Status    *DeviceStatus
}

// LicenseUpdate modifies license fields. Nil fields stay untouched. Lowering
// TotalSeats below current utilization is rejected.
type LicenseUpdate struct {
	SoftwareName *string
	Type         *LicenseType
	TotalSeats   *int
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	Notes        *string
}

// SoftwareVersionUpdate modifies a detected-software record.
type SoftwareVersionUpdate struct {
	CurrentVersion *string
	LatestVersion  *string
	Status         *SoftwareVersionStatus
}

// DeviceFilter narrows ListDevices. Zero values match everything.
type DeviceFilter struct {
	Status DeviceStatus
	Type   DeviceType
}

// AssignmentFilter narrows ListAssignments. Zero values match everything.
type AssignmentFilter struct {
	LicenseID  string
	DeviceID   string
	ActiveOnly bool
}
