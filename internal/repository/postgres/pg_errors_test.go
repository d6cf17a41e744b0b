package postgres

import (
	"errors"
	"fmt"
	"testing"

	pgconnv1 "github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/ticketvia/seatlease/internal/repository"
)

func TestTranslateDBErr(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{
			name: "v5 unique violation maps to conflict",
			in:   &pgconn.PgError{Code: "23505"},
			want: repository.ErrConflict,
		},
		{
			name: "wrapped v5 unique violation maps to conflict",
			in:   fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}),
			want: repository.ErrConflict,
		},
		{
			name: "v1 unique violation maps to conflict",
			in:   &pgconnv1.PgError{Code: "23505"},
			want: repository.ErrConflict,
		},
		{
			name: "no rows maps to not found",
			in:   pgx.ErrNoRows,
			want: repository.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translateDBErr(tt.in), tt.want)
		})
	}
}

func TestTranslateDBErrPassesThroughOtherCodes(t *testing.T) {
	in := &pgconn.PgError{Code: "23503"}

	out := translateDBErr(in)
	assert.NotErrorIs(t, out, repository.ErrConflict)
	assert.ErrorIs(t, out, in)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsRetryable(&pgconnv1.PgError{Code: "40001"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("connection reset")))
}
