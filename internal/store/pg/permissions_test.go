package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"openreg.org/internal/authz"
	"openreg.org/internal/query"
)

// expectExists arms the existence check for table with an all-present
// result.
func expectExists(mock sqlmock.Sqlmock, table string, expectIDs ...string) {
	args := make([]driver.Value, 0, len(expectIDs))
	for _, id := range expectIDs {
		args = append(args, id)
	}
	mock.ExpectQuery("left join "+table).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
}

func TestPermissionUpsertInsertsWithGeneratedIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectExists(mock, "users", "user-1")
	expectExists(mock, "organizations", "org-1")

	mock.ExpectBegin()
	mock.ExpectExec("insert into permissions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ps := NewPermissionStore(NewStore(db))
	out, err := ps.Upsert(context.Background(), []authz.Permission{
		{UserID: "user-1", Role: authz.OrganizationAdmin("org-1")},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(out) != 1 || out[0].ID == "" {
		t.Fatalf("out = %+v, want one permission with a generated id", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPermissionUpsertRejectsUnknownUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("left join users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ghost"))

	ps := NewPermissionStore(NewStore(db))
	_, err = ps.Upsert(context.Background(), []authz.Permission{
		{UserID: "ghost", Role: authz.ServerAdmin()},
	})
	var missing *MissingIDError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingIDError", err)
	}
	if missing.Table != "users" || missing.ID != "ghost" {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestPermissionQueryRebindsPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	org := "org-1"
	mock.ExpectQuery(`where \(p.user_id = \$1\)`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "role", "organization", "event"},
		).AddRow("perm-1", "user-1", "ORGANIZATION_VIEWER", &org, nil))

	ps := NewPermissionStore(NewStore(db))
	perms, err := ps.Query(context.Background(), query.Compound{
		Op: query.And,
		Queries: []query.Query{
			query.Logical{Field: authz.FieldUserID, Op: query.Equals, Value: "user-1"},
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("got %d permissions, want 1", len(perms))
	}
	if perms[0].Role.Tag() != "ORGANIZATION_VIEWER" || perms[0].Role.Resource() != "org-1" {
		t.Fatalf("role = %s/%s", perms[0].Role.Tag(), perms[0].Role.Resource())
	}
}

func TestPermissionCheckReturnsFailedGrants(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ev := "ev-2"
	mock.ExpectQuery("not exists").
		WithArgs("user-1", "EVENT_VIEWER", nil, "ev-1", "user-1", "EVENT_ADMIN", nil, "ev-2").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "user_id", "role", "organization", "event"},
		).AddRow("", "user-1", "EVENT_ADMIN", nil, &ev))

	ps := NewPermissionStore(NewStore(db))
	failed, err := ps.Check(context.Background(), []authz.Permission{
		{UserID: "user-1", Role: authz.EventViewer("ev-1")},
		{UserID: "user-1", Role: authz.EventAdmin("ev-2")},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed grants, want 1", len(failed))
	}
	if failed[0].Role.Tag() != "EVENT_ADMIN" || failed[0].Role.Resource() != "ev-2" {
		t.Fatalf("failed = %s/%s", failed[0].Role.Tag(), failed[0].Role.Resource())
	}
}

func TestPermissionCheckEmptyRequestIsAllowed(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	ps := NewPermissionStore(NewStore(db))
	failed, err := ps.Check(context.Background(), nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("failed = %+v, want none", failed)
	}
}
