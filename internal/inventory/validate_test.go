package inventory

import (
	"errors"
	"testing"
	"time"
)

func validDevice() Device {
	return Device{
		ID:        "sw-core-01",
		Type:      DeviceSwitch,
		IPAddress: "10.1.0.5",
		Location:  "DC-1 rack 12",
		Status:    DeviceActive,
	}
}

func validLicense(vendorID string) License {
	return License{
		Key:          "LIC-0001",
		SoftwareName: "IOS XE Advantage",
		VendorID:     vendorID,
		Type:         LicensePerDevice,
		TotalSeats:   5,
		ValidFrom:    time.Now().Add(-24 * time.Hour),
		ValidUntil:   time.Now().Add(365 * 24 * time.Hour),
	}
}

func TestValidateDevice(t *testing.T) {
	if err := ValidateDevice(validDevice()); err != nil {
		t.Fatalf("valid device rejected: %v", err)
	}

	d := validDevice()
	d.IPAddress = "300.1.2.3"
	if err := ValidateDevice(d); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad IPv4, got %v", err)
	}

	d = validDevice()
	d.IPAddress = "2001:db8::1"
	if err := ValidateDevice(d); err != nil {
		t.Fatalf("IPv6 address rejected: %v", err)
	}

	d = validDevice()
	d.Type = "TOASTER"
	if err := ValidateDevice(d); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown type, got %v", err)
	}

	d = validDevice()
	d.ID = "  "
	if err := ValidateDevice(d); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank id, got %v", err)
	}
}

func TestValidateLicense(t *testing.T) {
	if err := ValidateLicense(validLicense("v-1")); err != nil {
		t.Fatalf("valid license rejected: %v", err)
	}

	l := validLicense("v-1")
	l.TotalSeats = 0
	if err := ValidateLicense(l); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero seats, got %v", err)
	}

	l = validLicense("v-1")
	l.ValidUntil = l.ValidFrom
	if err := ValidateLicense(l); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty validity window, got %v", err)
	}

	l = validLicense("")
	if err := ValidateLicense(l); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing vendor, got %v", err)
	}
}

func TestLicenseDerivedStatus(t *testing.T) {
	now := time.Now().UTC()
	l := License{ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour)}
	if got := l.Status(now); got != LicenseActive {
		t.Fatalf("expected ACTIVE, got %s", got)
	}
	if got := l.Status(now.Add(2 * time.Hour)); got != LicenseExpired {
		t.Fatalf("expected EXPIRED, got %s", got)
	}
	if got := l.Status(now.Add(-2 * time.Hour)); got != LicensePending {
		t.Fatalf("expected PENDING, got %s", got)
	}
}

func TestUtilizationRatio(t *testing.T) {
	u := Utilization{Used: 9, Total: 10}
	if u.Ratio() != 0.9 {
		t.Fatalf("expected 0.9, got %v", u.Ratio())
	}
	if (Utilization{Used: 1, Total: 0}).Ratio() != 0 {
		t.Fatal("zero-seat license must report zero utilization")
	}
}
