package inventory

import (
	"fmt"
	"net/netip"
	"strings"
)

// ValidateVendor checks a vendor prior to create.
func ValidateVendor(v Vendor) error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%w: vendor name is required", ErrValidation)
	}
	if v.SupportEmail != "" && !strings.Contains(v.SupportEmail, "@") {
		return fmt.Errorf("%w: support email %q is malformed", ErrValidation, v.SupportEmail)
	}
	return nil
}

// ValidateDevice checks a device prior to create. The identifier is
// operator-assigned and required; the address must parse as IPv4 or IPv6.
func ValidateDevice(d Device) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown device type %q", ErrValidation, d.Type)
	}
	if _, err := netip.ParseAddr(d.IPAddress); err != nil {
		return fmt.Errorf("%w: ip address %q is malformed", ErrValidation, d.IPAddress)
	}
	if strings.TrimSpace(d.Location) == "" {
		return fmt.Errorf("%w: device location is required", ErrValidation)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("%w: unknown device status %q", ErrValidation, d.Status)
	}
	return nil
}

// ValidateLicense checks a license prior to create.
func ValidateLicense(l License) error {
	if strings.TrimSpace(l.Key) == "" {
		return fmt.Errorf("%w: license key is required", ErrValidation)
	}
	if strings.TrimSpace(l.SoftwareName) == "" {
		return fmt.Errorf("%w: software name is required", ErrValidation)
	}
	if strings.TrimSpace(l.VendorID) == "" {
		return fmt.Errorf("%w: vendor_id is required", ErrValidation)
	}
	if !l.Type.Valid() {
		return fmt.Errorf("%w: unknown license type %q", ErrValidation, l.Type)
	}
	if l.TotalSeats < 1 {
		return fmt.Errorf("%w: total_seats must be at least 1, got %d", ErrValidation, l.TotalSeats)
	}
	if !l.ValidUntil.After(l.ValidFrom) {
		return fmt.Errorf("%w: valid_until must be after valid_from", ErrValidation)
	}
	return nil
}

// ValidateSoftwareVersion checks a detected-software record prior to create.
func ValidateSoftwareVersion(sv SoftwareVersion) error {
	if strings.TrimSpace(sv.DeviceID) == "" {
		return fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if strings.TrimSpace(sv.SoftwareName) == "" {
		return fmt.Errorf("%w: software name is required", ErrValidation)
	}
	if strings.TrimSpace(sv.CurrentVersion) == "" {
		return fmt.Errorf("%w: current version is required", ErrValidation)
	}
	return nil
}
