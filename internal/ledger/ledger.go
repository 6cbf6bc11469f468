// Package ledger is the only write path into supply and ownership state.
//
// Every supply-affecting mutation runs inside a single transaction whose
// critical section is a conditional UPDATE plus the matching INSERT. No
// network I/O happens while a transaction is open.
package ledger

import (
	"errors"
	"time"

	"editions/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	tokenInsertBatch  = 100
	pgUniqueViolation = "23505"
)

// Ledger wraps the transactional store.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Ledger backed by db.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// DB exposes the underlying handle for read-only collaborators such as health checks.
func (l *Ledger) DB() *gorm.DB {
	return l.db
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func purchaseStatusStrings(statuses []models.PurchaseStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
