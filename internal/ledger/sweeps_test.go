package ledger

import (
	"context"
	"testing"
	"time"

	"editions/internal/models"
	"editions/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmintedTokens_JoinsCollectionAndOrdersByCheck(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()
	collection := testutil.CreateCollection(t, db, models.CollectionV2, "")
	release := testutil.CreateRelease(t, db, testutil.WithCollection(collection))
	legacy := testutil.CreateRelease(t, db)

	a, err := l.ReserveFreeToken(ctx, freeClaim(release, testutil.CreateUser(t, db, "").ID))
	require.NoError(t, err)
	b, err := l.ReserveFreeToken(ctx, freeClaim(legacy, testutil.CreateUser(t, db, "").ID))
	require.NoError(t, err)

	require.NoError(t, l.TouchMintChecked(ctx, []uint{a.ID}))

	rows, err := l.UnmintedTokens(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, b.ID, rows[0].ID, "never-checked tokens come first")
	assert.Nil(t, rows[0].Version)
	assert.Equal(t, a.ID, rows[1].ID)
	require.NotNil(t, rows[1].Version)
	assert.Equal(t, models.CollectionV2, *rows[1].Version)
	assert.Equal(t, collection.ContractURI, *rows[1].ContractURI)
}

func TestMarkMintStatus_OnlyMovesPending(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()
	release := testutil.CreateRelease(t, db)
	tok, err := l.ReserveFreeToken(ctx, freeClaim(release, testutil.CreateUser(t, db, "").ID))
	require.NoError(t, err)

	n, err := l.MarkMintStatus(ctx, []uint{tok.ID}, models.MintConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = l.MarkMintStatus(ctx, []uint{tok.ID}, models.MintUnverifiable)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = l.MarkMintStatus(ctx, []uint{tok.ID}, models.MintPending)
	assert.Error(t, err)

	rows, err := l.UnmintedTokens(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCollectionsMissingAddress(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()

	issued := testutil.CreateCollection(t, db, models.CollectionV3, "")
	testutil.CreateRelease(t, db, testutil.WithCollection(issued), testutil.WithSupplyCount(1))
	idle := testutil.CreateCollection(t, db, models.CollectionV3, "")
	testutil.CreateRelease(t, db, testutil.WithCollection(idle))
	deployed := testutil.CreateCollection(t, db, models.CollectionV2, "0x00000000000000000000000000000000000000dd")
	testutil.CreateRelease(t, db, testutil.WithCollection(deployed), testutil.WithSupplyCount(2))

	rows, err := l.CollectionsMissingAddress(ctx, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, issued.ID, rows[0].ID)

	ok, err := l.SetCollectionAddress(ctx, issued.ID, "0x00000000000000000000000000000000000000ee")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.SetCollectionAddress(ctx, issued.ID, "0x00000000000000000000000000000000000000ff")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppsMissingLegacyFactory(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()
	release := testutil.CreateRelease(t, db)
	testutil.CreateRelease(t, db)

	require.NoError(t, db.Model(&models.App{}).Where("id = ?", release.App.ID).Update("legacy_factory_tx_id", "0xdeploy").Error)

	apps, err := l.AppsMissingLegacyFactory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, release.App.ID, apps[0].ID)

	ok, err := l.SetLegacyFactoryAddress(ctx, release.App.ID, "0x00000000000000000000000000000000000000f1")
	require.NoError(t, err)
	assert.True(t, ok)

	apps, err = l.AppsMissingLegacyFactory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestStalePurchases(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()
	release := testutil.CreateRelease(t, db, testutil.WithPrice(100))
	buyer := testutil.CreateUser(t, db, "")

	old, err := l.ReservePurchase(ctx, purchaseReq(release, buyer.ID, 1))
	require.NoError(t, err)
	recent, err := l.ReservePurchase(ctx, purchaseReq(release, buyer.ID, 1))
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Purchase{}).Where("id = ?", old.ID).
		UpdateColumn("created_at", time.Now().Add(-time.Hour)).Error)

	rows, err := l.StalePurchases(ctx, time.Now().Add(-10*time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.ID, rows[0].ID)
	assert.NotEqual(t, recent.ID, rows[0].ID)
}

func TestTransitionIntent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()
	release := testutil.CreateRelease(t, db, testutil.WithPrice(100))
	buyer := testutil.CreateUser(t, db, "")
	reserveUnderIntent(t, l, release, buyer.ID, "pi_fsm", 1, 1)

	n, err := l.TransitionIntent(ctx, "pi_fsm", models.PurchasePending)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = l.TransitionIntent(ctx, "pi_fsm", models.PurchaseCanceled)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// Terminal rows never move again.
	n, err = l.TransitionIntent(ctx, "pi_fsm", models.PurchaseFailed)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = l.TransitionIntent(ctx, "pi_fsm", models.PurchaseStatus("LOST"))
	assert.Error(t, err)
}

func TestCancelPurchase_Idempotent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()
	release := testutil.CreateRelease(t, db, testutil.WithPrice(100))
	ids := reserveUnderIntent(t, l, release, testutil.CreateUser(t, db, "").ID, "pi_cancel", 1)

	moved, err := l.CancelPurchase(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = l.CancelPurchase(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = l.FailPurchase(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestAppRollupsAndSubscribers(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()
	release := testutil.CreateRelease(t, db, testutil.WithPrice(1000), testutil.WithCap(10))
	buyer := testutil.CreateUser(t, db, "")

	subA := testutil.CreateUser(t, db, "")
	subB := testutil.CreateUser(t, db, "")
	require.NoError(t, db.Create(&models.Subscription{AppID: release.App.ID, SubscriberID: subA.ID, Active: true}).Error)
	require.NoError(t, db.Create(&models.Subscription{AppID: release.App.ID, SubscriberID: subB.ID, Active: true}).Error)

	ids := reserveUnderIntent(t, l, release, buyer.ID, "pi_roll", 3)
	require.NoError(t, db.Model(&models.Purchase{}).Where("id = ?", ids[0]).Update("seller_fee", 150).Error)
	_, err := l.SettlePurchase(ctx, "pi_roll")
	require.NoError(t, err)

	rollups, err := l.AppRollups(ctx)
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	r := rollups[0]
	assert.Equal(t, release.App.ID, r.AppID)
	assert.EqualValues(t, 2, r.Subscribers)
	assert.EqualValues(t, 3, r.TotalNFTs)
	assert.EqualValues(t, 3000-150, r.TotalProceeds)
	assert.EqualValues(t, 1, r.TotalRecipients)

	page, err := l.SubscriberPage(ctx, release.App.ID, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, subA.ID, page[0].SubscriberID)

	page, err = l.SubscriberPage(ctx, release.App.ID, page[0].SubscriptionID, 25)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, subB.Email, page[0].Email)
}

func TestPayoutBookkeeping(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	ctx := context.Background()

	p := &models.Payout{AppID: 1, UserID: 2, ExternalID: "po_1", Amount: 500, Currency: "usd", Status: "pending"}
	require.NoError(t, l.CreatePayout(ctx, p))
	dup := &models.Payout{AppID: 1, UserID: 2, ExternalID: "po_1", Amount: 999, Currency: "usd", Status: "pending"}
	require.NoError(t, l.CreatePayout(ctx, dup))

	require.NoError(t, l.UpdatePayoutStatus(ctx, "po_1", "paid"))

	var rows []models.Payout
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 500, rows[0].Amount)
	assert.Equal(t, "paid", rows[0].Status)
}
