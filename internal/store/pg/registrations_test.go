package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"openreg.org/internal/query"
	"openreg.org/internal/registry"
)

func TestRegistrationUpsertInsertsWithItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectExists(mock, "events", "ev-1")

	mock.ExpectBegin()
	mock.ExpectExec("insert into registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into registration_items").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	rs := NewRegistrationStore(NewStore(db))
	out, err := rs.Upsert(context.Background(), []registry.Registration{
		{EventID: "ev-1", Items: []registry.RegistrationItem{
			{SchemaItemID: "si-1", Value: "Ada"},
			{SchemaItemID: "si-2", Value: "vegetarian"},
		}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(out) != 1 || out[0].ID == "" {
		t.Fatalf("out = %+v, want one registration with a generated id", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRegistrationUpsertReplacesItemsOnUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectExists(mock, "events", "ev-1")
	expectExists(mock, "registrations", "reg-1")

	mock.ExpectBegin()
	mock.ExpectExec("update registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from registration_items").
		WithArgs("reg-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into registration_items").
		WithArgs(sqlmock.AnyArg(), "reg-1", "si-1", "Grace").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rs := NewRegistrationStore(NewStore(db))
	out, err := rs.Upsert(context.Background(), []registry.Registration{
		{ID: "reg-1", EventID: "ev-1", Items: []registry.RegistrationItem{
			{SchemaItemID: "si-1", Value: "Grace"},
		}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if out[0].ID != "reg-1" {
		t.Fatalf("out = %+v, want the updated registration", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRegistrationUpsertRejectsUnknownEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("left join events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ev-ghost"))

	rs := NewRegistrationStore(NewStore(db))
	_, err = rs.Upsert(context.Background(), []registry.Registration{
		{EventID: "ev-ghost"},
	})
	var missing *MissingIDError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingIDError", err)
	}
	if missing.Table != "events" || missing.ID != "ev-ghost" {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestRegistrationQueryAttachesItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from registrations r").
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "event", "created_at", "updated_at"}).
			AddRow("reg-1", "ev-1", now, now).
			AddRow("reg-2", "ev-1", now, now))
	mock.ExpectQuery("from registration_items").
		WithArgs("reg-1", "reg-2").
		WillReturnRows(sqlmock.NewRows(
			[]string{"registration", "schema_item", "value"}).
			AddRow("reg-2", "si-1", "Lin").
			AddRow("reg-1", "si-1", "Ada"))

	rs := NewRegistrationStore(NewStore(db))
	out, err := rs.Query(context.Background(), query.Logical{
		Field: registry.RegistrationFieldEventID, Op: query.Equals, Value: "ev-1",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d registrations, want 2", len(out))
	}
	if len(out[0].Items) != 1 || out[0].Items[0].Value != "Ada" {
		t.Fatalf("reg-1 items = %+v", out[0].Items)
	}
	if len(out[1].Items) != 1 || out[1].Items[0].Value != "Lin" {
		t.Fatalf("reg-2 items = %+v", out[1].Items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRegistrationDeleteRemovesItemsFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectExists(mock, "registrations", "reg-1", "reg-2")

	mock.ExpectBegin()
	mock.ExpectExec("delete from registration_items").
		WithArgs("reg-1", "reg-2").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from registrations").
		WithArgs("reg-1", "reg-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	rs := NewRegistrationStore(NewStore(db))
	if err := rs.Delete(context.Background(), []string{"reg-1", "reg-2"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
