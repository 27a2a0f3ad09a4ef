package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestIdsInTableAllPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("left join organizations").
		WithArgs("org-1", "org-2").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if err := idsInTable(context.Background(), db, "organizations", []string{"org-1", "org-2"}); err != nil {
		t.Fatalf("idsInTable: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIdsInTableReportsFirstMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("left join events").
		WithArgs("ev-1", "ev-2", "ev-3").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ev-2"))

	err = idsInTable(context.Background(), db, "events", []string{"ev-1", "ev-2", "ev-3"})
	var missing *MissingIDError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingIDError", err)
	}
	if missing.Table != "events" || missing.ID != "ev-2" {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestIdsInTableEmptyInput(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if err := idsInTable(context.Background(), db, "users", nil); err != nil {
		t.Fatalf("idsInTable: %v", err)
	}
}
