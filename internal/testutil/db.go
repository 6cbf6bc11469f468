// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"editions/internal/database"
	"editions/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var fixtureSeq atomic.Uint64

// NewSQLiteDB opens a private in-memory database with the full ledger schema.
// The pool is pinned to one connection so every goroutine sees the same
// database and concurrent transactions serialize.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	require.NoError(t, database.EnsureLedgerIndexes(context.Background(), db))
	return db
}

// Release bundles the rows a post needs to be claimed or purchased.
type Release struct {
	Creator models.User
	App     models.App
	Post    models.Post
}

// ReleaseOption adjusts a release before it is inserted.
type ReleaseOption func(*Release)

// WithCap sets the post's supply cap.
func WithCap(n int) ReleaseOption {
	return func(r *Release) { r.Post.SupplyCap = &n }
}

// WithPrice makes the post a paid release priced in cents.
func WithPrice(cents int64) ReleaseOption {
	return func(r *Release) { r.Post.TokenPrice = &cents }
}

// WithSupplyCount pre-sets how many units the post has issued.
func WithSupplyCount(n int) ReleaseOption {
	return func(r *Release) { r.Post.SupplyCount = n }
}

// WithCollection binds the post to an already inserted collection.
func WithCollection(c *models.Collection) ReleaseOption {
	return func(r *Release) {
		r.Post.CollectionID = &c.ID
	}
}

// CreateRelease inserts a creator, an app and a post.
func CreateRelease(t *testing.T, db *gorm.DB, opts ...ReleaseOption) *Release {
	t.Helper()

	n := fixtureSeq.Add(1)
	r := &Release{
		Creator: models.User{Username: fmt.Sprintf("creator%d", n), Email: fmt.Sprintf("creator%d@example.com", n)},
	}
	require.NoError(t, db.Create(&r.Creator).Error)

	r.App = models.App{CreatorID: r.Creator.ID, Subdomain: fmt.Sprintf("app%d", n), Name: "Test App", Status: models.AppDefault}
	require.NoError(t, db.Create(&r.App).Error)

	r.Post = models.Post{
		AppID:     r.App.ID,
		CreatorID: r.Creator.ID,
		Title:     fmt.Sprintf("Release %d", n),
		Active:    true,
		TokenURI:  fmt.Sprintf("ipfs://release-%d", n),
	}
	for _, opt := range opts {
		opt(r)
	}
	require.NoError(t, db.Create(&r.Post).Error)
	return r
}

// CreateUser inserts a user, optionally with a wallet address.
func CreateUser(t *testing.T, db *gorm.DB, wallet string) *models.User {
	t.Helper()

	n := fixtureSeq.Add(1)
	u := &models.User{Username: fmt.Sprintf("user%d", n), Email: fmt.Sprintf("user%d@example.com", n)}
	if wallet != "" {
		u.WalletAddress = &wallet
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreateCollection inserts a collection row.
func CreateCollection(t *testing.T, db *gorm.DB, version models.CollectionVersion, address string) *models.Collection {
	t.Helper()

	n := fixtureSeq.Add(1)
	c := &models.Collection{
		ContractURI:    fmt.Sprintf("ipfs://collection-%d", n),
		Version:        version,
		CreatorAddress: "0x00000000000000000000000000000000000000c1",
		RoyaltyAddress: "0x00000000000000000000000000000000000000c2",
		RoyaltyRate:    500,
		TokenName:      "Edition",
		TokenSymbol:    "ED",
	}
	if address != "" {
		c.ContractAddress = &address
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

// CountTokens returns how many tokens exist for postID.
func CountTokens(t *testing.T, db *gorm.DB, postID uint) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.Token{}).Where("post_id = ?", postID).Count(&n).Error)
	return n
}
