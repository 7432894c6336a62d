package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stephdeve/SmartQueue/internal/store"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		conflict bool
	}{
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, conflict: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, conflict: true},
		{name: "unique wrapped", err: fmt.Errorf("insert ticket: %w", &pgconn.PgError{Code: "23505"}), conflict: true},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, conflict: false},
		{name: "domain error", err: store.ErrTicketNotFound, conflict: false},
	}
	for _, tc := range cases {
		got := translate(tc.err)
		if errors.Is(got, store.ErrConflict) != tc.conflict {
			t.Fatalf("%s: translate(%v) = %v", tc.name, tc.err, got)
		}
	}
	if !errors.Is(translate(store.ErrTicketNotFound), store.ErrTicketNotFound) {
		t.Fatalf("expected domain errors to pass through")
	}
}
