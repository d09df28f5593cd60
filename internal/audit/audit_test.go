package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNewEntrySnapshots(t *testing.T) {
	type device struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	before := device{ID: "sw-01", Status: "ACTIVE"}
	after := device{ID: "sw-01", Status: "DECOMMISSIONED"}

	e, err := New("user-1", ActionUpdate, "DEVICE", "sw-01", before, after)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected generated id")
	}
	if string(e.Before) != `{"id":"sw-01","status":"ACTIVE"}` {
		t.Fatalf("unexpected before snapshot: %s", e.Before)
	}
	if string(e.After) != `{"id":"sw-01","status":"DECOMMISSIONED"}` {
		t.Fatalf("unexpected after snapshot: %s", e.After)
	}
}

func TestNewEntryOmitsNilSnapshots(t *testing.T) {
	e, err := New("user-1", ActionCreate, "VENDOR", "v-1", nil, map[string]string{"name": "Cisco"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Before != nil {
		t.Fatalf("expected no before snapshot, got %s", e.Before)
	}
	if e.After == nil {
		t.Fatal("expected after snapshot")
	}
}

func TestFilterMatches(t *testing.T) {
	now := time.Now().UTC()
	e := Entry{
		ID:         "01A",
		Actor:      "user-1",
		Action:     ActionAssign,
		EntityType: "ASSIGNMENT",
		EntityID:   "a-1",
		Timestamp:  now,
	}

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"entity match", Filter{EntityType: "ASSIGNMENT"}, true},
		{"entity mismatch", Filter{EntityType: "DEVICE"}, false},
		{"action match", Filter{Action: ActionAssign}, true},
		{"action mismatch", Filter{Action: ActionRevoke}, false},
		{"actor mismatch", Filter{Actor: "user-2"}, false},
		{"window contains", Filter{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, true},
		{"window before", Filter{To: now.Add(-time.Minute)}, false},
		{"window after", Filter{From: now.Add(time.Minute)}, false},
	}
	for _, c := range cases {
		if got := c.f.Matches(e); got != c.want {
			t.Fatalf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestAppendRejectsIncompleteEntry(t *testing.T) {
	e, _ := New("", ActionCreate, "DEVICE", "sw-01", nil, nil)
	if err := Append(context.Background(), nil, e); err == nil {
		t.Fatal("expected error for entry without actor")
	}
}

func TestAppendWritesWithinTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), "user-1", "ASSIGN", "ASSIGNMENT", "a-1", sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sqlTx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	e, err := New("user-1", ActionAssign, "ASSIGNMENT", "a-1", nil, map[string]string{"license_id": "l-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := Append(context.Background(), sqlTx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sqlTx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
