package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"licentra.org/internal/alert"
	"licentra.org/internal/audit"
	"licentra.org/internal/inventory"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestAssignCommitsRowAndAuditEntry(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("select key, total_seats, valid_until from licenses").
		WithArgs("lic-1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "total_seats", "valid_until"}).
			AddRow("LIC-1", 2, now.Add(30*24*time.Hour)))
	mock.ExpectQuery("select 1 from devices").
		WithArgs("sw-core-01").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select 1 from assignments").
		WithArgs("lic-1", "sw-core-01").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`select count\(\*\) from assignments`).
		WithArgs("lic-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("insert into assignments").
		WithArgs(sqlmock.AnyArg(), "lic-1", "sw-core-01", "user-admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-admin", "ASSIGN", "ASSIGNMENT",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	a, err := s.Assign(context.Background(), "lic-1", "sw-core-01", "user-admin", now)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.LicenseID != "lic-1" || a.DeviceID != "sw-core-01" || !a.Active() {
		t.Fatalf("unexpected assignment %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignAtCapacityRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("select key, total_seats, valid_until from licenses").
		WithArgs("lic-1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "total_seats", "valid_until"}).
			AddRow("LIC-1", 2, now.Add(30*24*time.Hour)))
	mock.ExpectQuery("select 1 from devices").
		WithArgs("rt-edge-03").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select 1 from assignments").
		WithArgs("lic-1", "rt-edge-03").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`select count\(\*\) from assignments`).
		WithArgs("lic-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	_, err := s.Assign(context.Background(), "lic-1", "rt-edge-03", "user-admin", now)
	if !errors.Is(err, inventory.ErrCapacityExceeded) {
		t.Fatalf("want ErrCapacityExceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAssignExpiredLicenseRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("select key, total_seats, valid_until from licenses").
		WithArgs("lic-old").
		WillReturnRows(sqlmock.NewRows([]string{"key", "total_seats", "valid_until"}).
			AddRow("LIC-OLD", 5, now.Add(-24*time.Hour)))
	mock.ExpectQuery("select 1 from devices").
		WithArgs("sw-core-01").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, err := s.Assign(context.Background(), "lic-old", "sw-core-01", "user-admin", now)
	if !errors.Is(err, inventory.ErrExpiredLicense) {
		t.Fatalf("want ErrExpiredLicense, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSerializationFailureMapsToConflictRetry(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("select key, total_seats, valid_until from licenses").
		WithArgs("lic-1").
		WillReturnError(&pgconn.PgError{Code: pgErrSerializationFail, Message: "could not serialize access"})
	mock.ExpectRollback()

	_, err := s.Assign(context.Background(), "lic-1", "sw-core-01", "user-admin", now)
	if !errors.Is(err, inventory.ErrConflictRetry) {
		t.Fatalf("want ErrConflictRetry, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeAlreadyRevoked(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	revoked := now.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("select id, license_id, device_id, assigned_by, assigned_at, revoked_at from assignments").
		WithArgs("asg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "license_id", "device_id", "assigned_by", "assigned_at", "revoked_at"}).
			AddRow("asg-1", "lic-1", "sw-core-01", "user-admin", now.Add(-2*time.Hour), revoked))
	mock.ExpectRollback()

	err := s.Revoke(context.Background(), "asg-1", "user-admin", now)
	if !errors.Is(err, inventory.ErrAlreadyRevoked) {
		t.Fatalf("want ErrAlreadyRevoked, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteVendorWithLicensesRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("select id, name, support_email, created_at, updated_at").
		WithArgs("ven-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "support_email", "created_at", "updated_at"}).
			AddRow("ven-1", "Cisco", nil, now, now))
	mock.ExpectQuery(`select count\(\*\) from licenses`).
		WithArgs("ven-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := s.DeleteVendor(context.Background(), "ven-1", "user-admin")
	if !errors.Is(err, inventory.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditEntriesAppliesFilter(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("select id, actor, action, entity_type, entity_id, ts, before, after from audit_logs").
		WithArgs("LICENSE", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "actor", "action", "entity_type", "entity_id", "ts", "before", "after"}).
			AddRow("e2", "user-admin", "UPDATE", "LICENSE", "lic-1", now, []byte(`{"total_seats":1}`), []byte(`{"total_seats":2}`)).
			AddRow("e1", "user-admin", "CREATE", "LICENSE", "lic-1", now.Add(-time.Hour), nil, []byte(`{"total_seats":1}`)))

	entries, err := s.AuditEntries(context.Background(), audit.Filter{EntityType: "LICENSE", Limit: 10})
	if err != nil {
		t.Fatalf("AuditEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "e2" || entries[0].Action != audit.ActionUpdate {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Before != nil {
		t.Fatalf("create entry should have no before snapshot")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncAlertMarkersReportsNewKeysOnly(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select subject_type, subject_id, condition from alert_markers").
		WillReturnRows(sqlmock.NewRows([]string{"subject_type", "subject_id", "condition"}).
			AddRow("LICENSE", "lic-1", "LICENSE_EXPIRING"))
	mock.ExpectExec("delete from alert_markers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into alert_markers").
		WithArgs("LICENSE", "lic-1", "LICENSE_EXPIRING", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into alert_markers").
		WithArgs("LICENSE", "lic-2", "LICENSE_OVERUTILIZED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	newly, err := s.SyncAlertMarkers(context.Background(), []alert.Key{
		{SubjectType: "LICENSE", SubjectID: "lic-1", Condition: alert.ConditionLicenseExpiring},
		{SubjectType: "LICENSE", SubjectID: "lic-2", Condition: alert.ConditionOverUtilized},
	})
	if err != nil {
		t.Fatalf("SyncAlertMarkers: %v", err)
	}
	if len(newly) != 1 || newly[0].SubjectID != "lic-2" {
		t.Fatalf("newly = %+v, want only lic-2", newly)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
