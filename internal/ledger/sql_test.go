package ledger

import (
	"context"
	"regexp"
	"testing"

	"editions/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestReserveFreeToken_ConditionalUpdateShape(t *testing.T) {
	db, mock := setupMockDB(t)
	l := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "posts" SET "supply_count"=supply_count + $1 WHERE (id = $2 AND supply_count < COALESCE(supply_cap, $3)) AND (NOT EXISTS (SELECT 1 FROM tokens WHERE tokens.user_id = $4 AND tokens.post_id = $5))`)).
		WithArgs(1, 7, models.UnboundedSupply, 3, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "tokens"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	token, err := l.ReserveFreeToken(context.Background(), FreeClaim{PostID: 7, UserID: 3, CreatorID: 1, AppID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 42, token.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveFreeToken_ExhaustedRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	l := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "posts" SET "supply_count"=supply_count + $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "tokens" WHERE user_id = $1 AND post_id = $2`)).
		WithArgs(3, 7).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "posts" WHERE "posts"."id" = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectRollback()

	_, err := l.ReserveFreeToken(context.Background(), FreeClaim{PostID: 7, UserID: 3})
	assert.ErrorIs(t, err, models.ErrSupplyExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservePurchase_LocksPostRow(t *testing.T) {
	db, mock := setupMockDB(t)
	l := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "posts" WHERE "posts"\."id" = \$1 ORDER BY "posts"\."id" LIMIT \$2 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "supply_cap", "supply_count"}).AddRow(7, 5, 4))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(nft_amount), 0) FROM "purchases" WHERE post_id = $1 AND status <> $2`)).
		WithArgs(7, "CANCELED").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(4))
	mock.ExpectRollback()

	_, err := l.ReservePurchase(context.Background(), PurchaseRequest{PostID: 7, BuyerID: 2, NFTAmount: 3})
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePurchase_LocksNonTerminalPurchases(t *testing.T) {
	db, mock := setupMockDB(t)
	l := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "purchases" WHERE payment_intent_id = \$1 AND status NOT IN \(\$2,\$3\) ORDER BY id FOR UPDATE`).
		WithArgs("pi_1", "COMPLETED", "CANCELED").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	settled, err := l.SettlePurchase(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Empty(t, settled.Tokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}
