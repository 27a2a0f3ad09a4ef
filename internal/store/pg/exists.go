package pg

import (
	"context"
	"fmt"
	"strings"
)

// MissingIDError reports the first referenced id that does not exist in
// its table. Caller-caused, safe to disclose.
type MissingIDError struct {
	Table string
	ID    string
}

func (e *MissingIDError) Error() string {
	return fmt.Sprintf("id %s does not exist in %s", e.ID, e.Table)
}

// idsInTable verifies that every id exists in the named table before a
// write that references them proceeds. The table name is always a literal
// from this package, never request input. On mismatch the first missing
// id is reported.
func idsInTable(ctx context.Context, q querier, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	values := make([]string, 0, len(ids))
	binds := make([]any, 0, len(ids))
	for i, id := range ids {
		values = append(values, fmt.Sprintf("(%d, $%d)", i, i+1))
		binds = append(binds, id)
	}

	stmt := fmt.Sprintf(`
		with requested(ord, id) as (values %s)
		select requested.id
		from requested
		left join %s t on t.id = requested.id
		where t.id is null
		order by requested.ord
		limit 1
	`, strings.Join(values, ","), table)

	rows, err := q.QueryContext(ctx, stmt, binds...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if rows.Next() {
		var missing string
		if err := rows.Scan(&missing); err != nil {
			return err
		}
		return &MissingIDError{Table: table, ID: missing}
	}
	return rows.Err()
}
