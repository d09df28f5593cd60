// Package audit defines the immutable record written for every successful
// mutation. Entries are appended in the same atomic unit as the mutation they
// describe; a failed mutation leaves no entry and a failed append aborts the
// mutation.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"licentra.org/internal/ids"
)

// Action identifies the kind of mutation an entry describes.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionAssign Action = "ASSIGN"
	ActionRevoke Action = "REVOKE"
)

// Entity type labels shared by every store backend.
const (
	EntityVendor          = "VENDOR"
	EntityDevice          = "DEVICE"
	EntityLicense         = "LICENSE"
	EntityAssignment      = "ASSIGNMENT"
	EntitySoftwareVersion = "SOFTWARE_VERSION"
	EntityUser            = "USER"
)

// Entry is one append-only audit record. Before and After hold JSON snapshots
// of the entity around the mutation; either may be empty (creates have no
// before, deletes no after).
type Entry struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

// New builds an entry with a fresh sortable id. Snapshot arguments are
// marshalled here so callers hand over plain entity values; a nil snapshot is
// omitted.
func New(actor string, action Action, entityType, entityID string, before, after any) (Entry, error) {
	e := Entry{
		ID:         ids.New(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  time.Now().UTC(),
	}
	if before != nil {
		raw, err := json.Marshal(before)
		if err != nil {
			return Entry{}, err
		}
		e.Before = raw
	}
	if after != nil {
		raw, err := json.Marshal(after)
		if err != nil {
			return Entry{}, err
		}
		e.After = raw
	}
	return e, nil
}

// Filter narrows a Query call. Zero-value fields match everything.
type Filter struct {
	EntityType string
	Action     Action
	Actor      string
	From       time.Time
	To         time.Time
	Limit      int
}

// Matches reports whether an entry passes the filter. Shared by the in-memory
// store; the Postgres store expresses the same predicate in SQL.
func (f Filter) Matches(e Entry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Execer is the transaction-scoped handle an append runs against. *sql.Tx
// satisfies it, which keeps the entry inside the mutation's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes the entry using the supplied transaction handle. The caller
// must roll the enclosing transaction back if this fails.
func Append(ctx context.Context, tx Execer, e Entry) error {
	if e.ID == "" || e.Actor == "" || e.EntityType == "" || e.EntityID == "" {
		return errors.New("audit entry is incomplete")
	}
	_, err := tx.ExecContext(ctx, `
		insert into audit_logs(id, actor, action, entity_type, entity_id, ts, before, after)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.Actor, string(e.Action), e.EntityType, e.EntityID, e.Timestamp, nullableJSON(e.Before), nullableJSON(e.After))
	return err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
