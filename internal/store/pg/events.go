package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"openreg.org/internal/ids"
	"openreg.org/internal/query"
	"openreg.org/internal/registry"
)

// EventStore persists events. Writes verify every referenced organization
// exists first so a bad reference surfaces as a MissingIDError rather than
// a constraint violation.
type EventStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewEventStore(s *Store) *EventStore {
	return &EventStore{db: s.db, now: time.Now}
}

var _ registry.EventStore = (*EventStore)(nil)

// Upsert inserts events without an id and updates the rest, in one
// transaction. Results come back in input order with generated ids filled
// in.
func (s *EventStore) Upsert(ctx context.Context, events []registry.Event) ([]registry.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	orgIDs := make([]string, 0, len(events))
	var updateIDs []string
	for _, e := range events {
		orgIDs = append(orgIDs, e.OrganizationID)
		if e.ID != "" {
			updateIDs = append(updateIDs, e.ID)
		}
	}
	if err := idsInTable(ctx, s.db, "organizations", orgIDs); err != nil {
		return nil, err
	}
	if err := idsInTable(ctx, s.db, "events", updateIDs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	out := make([]registry.Event, len(events))
	var inserts, updates []registry.Event
	for i, e := range events {
		e.UpdatedAt = now
		if e.ID == "" {
			e.ID = ids.New()
			e.CreatedAt = now
			inserts = append(inserts, e)
		} else {
			updates = append(updates, e)
		}
		out[i] = e
	}

	if len(inserts) > 0 {
		values := make([]string, 0, len(inserts))
		binds := make([]any, 0, 5*len(inserts))
		for i, e := range inserts {
			n := 5 * i
			values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
				n+1, n+2, n+3, n+4, n+5))
			binds = append(binds, e.ID, e.OrganizationID, e.Name, e.CreatedAt, e.UpdatedAt)
		}
		stmt := fmt.Sprintf(`
			insert into events (id, organization, name, created_at, updated_at)
			values %s
		`, strings.Join(values, ","))
		if _, err := tx.ExecContext(ctx, stmt, binds...); err != nil {
			return nil, fmt.Errorf("insert events: %w", err)
		}
	}

	if len(updates) > 0 {
		values := make([]string, 0, len(updates))
		binds := make([]any, 0, 4*len(updates))
		for i, e := range updates {
			n := 4 * i
			values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
			binds = append(binds, e.ID, e.OrganizationID, e.Name, e.UpdatedAt)
		}
		stmt := fmt.Sprintf(`
			with incoming(id, organization, name, updated_at) as (values %s)
			update events
			set organization = incoming.organization,
			    name = incoming.name,
			    updated_at = incoming.updated_at
			from incoming
			where events.id = incoming.id
		`, strings.Join(values, ","))
		if _, err := tx.ExecContext(ctx, stmt, binds...); err != nil {
			return nil, fmt.Errorf("update events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return out, nil
}

func (s *EventStore) Query(ctx context.Context, q query.Query) ([]registry.Event, error) {
	clause, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	stmt := `select e.id, e.organization, e.name, e.created_at, e.updated_at from events e`
	if clause != "" {
		stmt += " where " + query.Rebind(clause)
	}

	rows, err := s.db.QueryContext(ctx, stmt, binds...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []registry.Event
	for rows.Next() {
		var e registry.Event
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.Name, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *EventStore) Delete(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	if err := idsInTable(ctx, s.db, "events", eventIDs); err != nil {
		return err
	}
	stmt, binds := deleteByID("events", eventIDs)
	if _, err := s.db.ExecContext(ctx, stmt, binds...); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}
