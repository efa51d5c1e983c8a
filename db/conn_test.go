package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "contracts_proposal_id_key"}

	assert.True(t, IsUniqueViolation(dup, ""))
	assert.True(t, IsUniqueViolation(fmt.Errorf("contract: insert: %w", dup), "contracts_proposal_id_key"))
	assert.False(t, IsUniqueViolation(dup, "payment_requests_milestone_id_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(fmt.Errorf("boom"), ""))
}

func TestNewPoolRejectsEmptyDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "")
	assert.EqualError(t, err, "db: empty connection string")
}
