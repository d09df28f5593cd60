package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"licentra.org/internal/inventory"
)

func (s *Store) Utilization(ctx context.Context, licenseID string) (inventory.Utilization, error) {
	var u inventory.Utilization
	err := s.db.QueryRowContext(ctx, `
		select l.id, l.total_seats,
		       (select count(*) from assignments a where a.license_id=l.id and a.revoked_at is null)
		from licenses l where l.id=$1
	`, licenseID).Scan(&u.LicenseID, &u.Total, &u.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Utilization{}, fmt.Errorf("%w: license %s", inventory.ErrNotFound, licenseID)
	}
	if err != nil {
		return inventory.Utilization{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) ListUtilizations(ctx context.Context) ([]inventory.Utilization, error) {
	rows, err := s.db.QueryContext(ctx, `
		select l.id, l.total_seats,
		       (select count(*) from assignments a where a.license_id=l.id and a.revoked_at is null)
		from licenses l
		order by l.id
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]inventory.Utilization, 0)
	for rows.Next() {
		var u inventory.Utilization
		if err := rows.Scan(&u.LicenseID, &u.Total, &u.Used); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) ExpiringLicenses(ctx context.Context, now time.Time, within time.Duration) ([]inventory.License, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+licenseCols+` from licenses
		where valid_until >= $1 and valid_until <= $2
		order by valid_until, id
	`, now, now.Add(within))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []inventory.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// AtRiskDevices finds devices holding an active seat on a license that is
// expired, close to expiry, or at or above the utilization threshold.
// Decommissioned devices are excluded: nothing operational depends on them.
func (s *Store) AtRiskDevices(ctx context.Context, now time.Time, riskWindow time.Duration, overRatio float64) ([]inventory.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct d.id, d.type, d.ip_address, d.location, d.model, d.status, d.created_at, d.updated_at
		from devices d
		join assignments a on a.device_id = d.id and a.revoked_at is null
		join licenses l on l.id = a.license_id
		where d.status <> 'DECOMMISSIONED'
		  and (
			l.valid_until < $1
			or l.valid_until <= $2
			or ($3 > 0 and l.total_seats > 0 and
			    (select count(*)::float from assignments b where b.license_id=l.id and b.revoked_at is null) / l.total_seats >= $3)
		  )
		order by d.id
	`, now, now.Add(riskWindow), overRatio)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []inventory.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) Summary(ctx context.Context, now time.Time) (inventory.Summary, error) {
	var sum inventory.Summary
	err := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from devices),
			(select count(*) from devices where status='ACTIVE'),
			(select count(*) from devices where status='MAINTENANCE'),
			(select count(*) from devices where status='DECOMMISSIONED'),
			(select count(*) from licenses),
			(select count(*) from licenses where valid_until < $1),
			(select count(*) from assignments where revoked_at is null)
	`, now).Scan(
		&sum.TotalDevices,
		&sum.ActiveDevices,
		&sum.MaintenanceDevices,
		&sum.DecommissionedDevices,
		&sum.TotalLicenses,
		&sum.ExpiredLicenses,
		&sum.ActiveAssignments,
	)
	if err != nil {
		return inventory.Summary{}, mapErr(err)
	}
	return sum, nil
}
