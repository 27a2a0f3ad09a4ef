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

// RegistrationStore persists registrations and their form answers.
// Answers live in registration_items and are replaced wholesale on every
// upsert: the request carries the full item set, so stale answers vanish
// with the write that superseded them.
type RegistrationStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewRegistrationStore(s *Store) *RegistrationStore {
	return &RegistrationStore{db: s.db, now: time.Now}
}

var _ registry.RegistrationStore = (*RegistrationStore)(nil)

// Upsert inserts registrations without an id and updates the rest, in one
// transaction. Results come back in input order with generated ids filled
// in.
func (s *RegistrationStore) Upsert(ctx context.Context, regs []registry.Registration) ([]registry.Registration, error) {
	if len(regs) == 0 {
		return nil, nil
	}

	eventIDs := make([]string, 0, len(regs))
	var updateIDs []string
	for _, r := range regs {
		eventIDs = append(eventIDs, r.EventID)
		if r.ID != "" {
			updateIDs = append(updateIDs, r.ID)
		}
	}
	if err := idsInTable(ctx, s.db, "events", eventIDs); err != nil {
		return nil, err
	}
	if err := idsInTable(ctx, s.db, "registrations", updateIDs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	out := make([]registry.Registration, len(regs))
	var inserts, updates []registry.Registration
	for i, r := range regs {
		r.UpdatedAt = now
		if r.ID == "" {
			r.ID = ids.New()
			r.CreatedAt = now
			inserts = append(inserts, r)
		} else {
			updates = append(updates, r)
		}
		out[i] = r
	}

	if len(inserts) > 0 {
		values := make([]string, 0, len(inserts))
		binds := make([]any, 0, 4*len(inserts))
		for i, r := range inserts {
			n := 4 * i
			values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
			binds = append(binds, r.ID, r.EventID, r.CreatedAt, r.UpdatedAt)
		}
		stmt := fmt.Sprintf(`
			insert into registrations (id, event, created_at, updated_at)
			values %s
		`, strings.Join(values, ","))
		if _, err := tx.ExecContext(ctx, stmt, binds...); err != nil {
			return nil, fmt.Errorf("insert registrations: %w", err)
		}
	}

	if len(updates) > 0 {
		values := make([]string, 0, len(updates))
		binds := make([]any, 0, 3*len(updates))
		for i, r := range updates {
			n := 3 * i
			values = append(values, fmt.Sprintf("($%d, $%d, $%d)", n+1, n+2, n+3))
			binds = append(binds, r.ID, r.EventID, r.UpdatedAt)
		}
		stmt := fmt.Sprintf(`
			with incoming(id, event, updated_at) as (values %s)
			update registrations
			set event = incoming.event,
			    updated_at = incoming.updated_at
			from incoming
			where registrations.id = incoming.id
		`, strings.Join(values, ","))
		if _, err := tx.ExecContext(ctx, stmt, binds...); err != nil {
			return nil, fmt.Errorf("update registrations: %w", err)
		}

		delStmt, delBinds := deleteItemsFor(updates)
		if _, err := tx.ExecContext(ctx, delStmt, delBinds...); err != nil {
			return nil, fmt.Errorf("clear registration items: %w", err)
		}
	}

	var itemValues []string
	var itemBinds []any
	for _, r := range out {
		for _, item := range r.Items {
			n := len(itemBinds)
			itemValues = append(itemValues, fmt.Sprintf("($%d, $%d, $%d, $%d)",
				n+1, n+2, n+3, n+4))
			itemBinds = append(itemBinds, ids.New(), r.ID, item.SchemaItemID, item.Value)
		}
	}
	if len(itemValues) > 0 {
		stmt := fmt.Sprintf(`
			insert into registration_items (id, registration, schema_item, value)
			values %s
		`, strings.Join(itemValues, ","))
		if _, err := tx.ExecContext(ctx, stmt, itemBinds...); err != nil {
			return nil, fmt.Errorf("insert registration items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return out, nil
}

func (s *RegistrationStore) Query(ctx context.Context, q query.Query) ([]registry.Registration, error) {
	clause, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	stmt := `select r.id, r.event, r.created_at, r.updated_at from registrations r`
	if clause != "" {
		stmt += " where " + query.Rebind(clause)
	}

	rows, err := s.db.QueryContext(ctx, stmt, binds...)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var regs []registry.Registration
	index := make(map[string]int)
	for rows.Next() {
		var r registry.Registration
		if err := rows.Scan(&r.ID, &r.EventID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		index[r.ID] = len(regs)
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return regs, nil
	}

	placeholders := make([]string, len(regs))
	itemBinds := make([]any, len(regs))
	for i, r := range regs {
		placeholders[i] = fmt.Sprintf("registration = $%d", i+1)
		itemBinds[i] = r.ID
	}
	itemStmt := `select registration, schema_item, value from registration_items where ` +
		strings.Join(placeholders, " or ")
	itemRows, err := s.db.QueryContext(ctx, itemStmt, itemBinds...)
	if err != nil {
		return nil, fmt.Errorf("query registration items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var regID string
		var item registry.RegistrationItem
		if err := itemRows.Scan(&regID, &item.SchemaItemID, &item.Value); err != nil {
			return nil, err
		}
		if i, ok := index[regID]; ok {
			regs[i].Items = append(regs[i].Items, item)
		}
	}
	return regs, itemRows.Err()
}

func (s *RegistrationStore) Delete(ctx context.Context, regIDs []string) error {
	if len(regIDs) == 0 {
		return nil
	}
	if err := idsInTable(ctx, s.db, "registrations", regIDs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(regIDs))
	binds := make([]any, len(regIDs))
	for i, id := range regIDs {
		placeholders[i] = fmt.Sprintf("registration = $%d", i+1)
		binds[i] = id
	}
	itemStmt := `delete from registration_items where ` + strings.Join(placeholders, " or ")
	if _, err := tx.ExecContext(ctx, itemStmt, binds...); err != nil {
		return fmt.Errorf("delete registration items: %w", err)
	}

	stmt, regBinds := deleteByID("registrations", regIDs)
	if _, err := tx.ExecContext(ctx, stmt, regBinds...); err != nil {
		return fmt.Errorf("delete registrations: %w", err)
	}
	return tx.Commit()
}

func deleteItemsFor(regs []registry.Registration) (string, []any) {
	placeholders := make([]string, len(regs))
	binds := make([]any, len(regs))
	for i, r := range regs {
		placeholders[i] = fmt.Sprintf("registration = $%d", i+1)
		binds[i] = r.ID
	}
	return `delete from registration_items where ` + strings.Join(placeholders, " or "), binds
}
