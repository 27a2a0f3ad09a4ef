package httpapi

import (
	"context"
	"encoding/json"

	"openreg.org/internal/authz"
	"openreg.org/internal/query"
)

// parseWireQuery decodes an optional request filter against a closed
// field set. Absent means match-all.
func parseWireQuery(raw json.RawMessage, allowed map[string]query.Field) (query.Query, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return query.Parse(raw, allowed)
}

// filterVisible drops the items whose viewing capability failed the batch
// permission check. required[i] must be the capability guarding items[i];
// resource extracts the id the capability is scoped to.
func filterVisible[T any](
	ctx context.Context,
	perms authz.Store,
	items []T,
	required []authz.Permission,
	resource func(T) string,
) ([]T, error) {
	if len(items) == 0 {
		return []T{}, nil
	}
	failed, err := perms.Check(ctx, required)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return items, nil
	}

	denied := make(map[string]bool, len(failed))
	for _, p := range failed {
		denied[p.Role.Resource()] = true
	}
	visible := make([]T, 0, len(items))
	for _, item := range items {
		if !denied[resource(item)] {
			visible = append(visible, item)
		}
	}
	return visible, nil
}
