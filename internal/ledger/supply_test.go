package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"editions/internal/models"
	"editions/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func freeClaim(r *testutil.Release, userID uint) FreeClaim {
	return FreeClaim{PostID: r.Post.ID, UserID: userID, CreatorID: r.Creator.ID, AppID: r.App.ID, IP: "127.0.0.1"}
}

func purchaseReq(r *testutil.Release, buyerID uint, n int) PurchaseRequest {
	return PurchaseRequest{
		PostID:     r.Post.ID,
		BuyerID:    buyerID,
		CreatorID:  r.Creator.ID,
		AppID:      r.App.ID,
		Title:      r.Post.Title,
		NFTAmount:  n,
		TokenPrice: 1000,
		TotalPrice: int64(n) * 1000,
	}
}

func supplyCount(t *testing.T, db *gorm.DB, postID uint) int {
	t.Helper()
	var p models.Post
	require.NoError(t, db.First(&p, postID).Error)
	return p.SupplyCount
}

func TestReserveFreeToken_ConcurrentClaimsOnLastUnit(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(1))
	alice := testutil.CreateUser(t, db, "")
	bob := testutil.CreateUser(t, db, "")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []*models.User{alice, bob} {
		wg.Add(1)
		go func(i int, userID uint) {
			defer wg.Done()
			_, errs[i] = l.ReserveFreeToken(context.Background(), freeClaim(release, userID))
		}(i, u.ID)
	}
	wg.Wait()

	var succeeded, exhausted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrSupplyExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, exhausted)
	assert.EqualValues(t, 1, testutil.CountTokens(t, db, release.Post.ID))
	assert.Equal(t, 1, supplyCount(t, db, release.Post.ID))
}

func TestReserveFreeToken_SecondClaimBySameUser(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(10))
	user := testutil.CreateUser(t, db, "")
	ctx := context.Background()

	token, err := l.ReserveFreeToken(ctx, freeClaim(release, user.ID))
	require.NoError(t, err)
	assert.NotZero(t, token.ID)
	assert.Equal(t, models.MintPending, token.MintStatus)

	_, err = l.ReserveFreeToken(ctx, freeClaim(release, user.ID))
	assert.ErrorIs(t, err, models.ErrAlreadyClaimed)
	assert.Equal(t, 1, supplyCount(t, db, release.Post.ID))
	assert.EqualValues(t, 1, testutil.CountTokens(t, db, release.Post.ID))
}

func TestReserveFreeToken_Boundary(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u := testutil.CreateUser(t, db, "")
		_, err := l.ReserveFreeToken(ctx, freeClaim(release, u.ID))
		require.NoError(t, err, "unit %d should fit", i+1)
	}

	late := testutil.CreateUser(t, db, "")
	_, err := l.ReserveFreeToken(ctx, freeClaim(release, late.ID))
	assert.ErrorIs(t, err, models.ErrSupplyExhausted)
	assert.Equal(t, 3, supplyCount(t, db, release.Post.ID))
}

func TestReserveFreeToken_UnboundedPost(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db)

	for i := 0; i < 5; i++ {
		u := testutil.CreateUser(t, db, "")
		_, err := l.ReserveFreeToken(context.Background(), freeClaim(release, u.ID))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, supplyCount(t, db, release.Post.ID))
}

func TestReserveFreeToken_MissingPost(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)

	_, err := l.ReserveFreeToken(context.Background(), FreeClaim{PostID: 404, UserID: 1})
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, models.CodeNotFound, appErr.Code)
}

func TestReservePurchase_CapacityExceeded(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(5), testutil.WithPrice(1000), testutil.WithSupplyCount(4))
	buyer := testutil.CreateUser(t, db, "")

	sold := models.Purchase{
		AppID: release.App.ID, CreatorID: release.Creator.ID, BuyerID: buyer.ID, PostID: release.Post.ID,
		NFTAmount: 4, TokenPrice: 1000, TotalPrice: 4000, Status: models.PurchaseCompleted,
	}
	require.NoError(t, db.Create(&sold).Error)

	_, err := l.ReservePurchase(context.Background(), purchaseReq(release, buyer.ID, 3))
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)

	var count int64
	require.NoError(t, db.Model(&models.Purchase{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	p, err := l.ReservePurchase(context.Background(), purchaseReq(release, buyer.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseCreated, p.Status)
}

func TestReservePurchase_CanceledPurchasesReleaseCapacity(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(2), testutil.WithPrice(500))
	buyer := testutil.CreateUser(t, db, "")
	ctx := context.Background()

	first, err := l.ReservePurchase(ctx, purchaseReq(release, buyer.ID, 2))
	require.NoError(t, err)

	_, err = l.ReservePurchase(ctx, purchaseReq(release, buyer.ID, 1))
	require.ErrorIs(t, err, models.ErrCapacityExceeded)

	moved, err := l.CancelPurchase(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, moved)

	_, err = l.ReservePurchase(ctx, purchaseReq(release, buyer.ID, 2))
	assert.NoError(t, err)
}

func TestReservePurchase_ExplicitCapOverridesPost(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithPrice(500))
	buyer := testutil.CreateUser(t, db, "")

	req := purchaseReq(release, buyer.ID, 3)
	override := 2
	req.SupplyCap = &override

	_, err := l.ReservePurchase(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)
}

func TestReservePurchase_RejectsNonPositiveAmount(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithPrice(500))

	_, err := l.ReservePurchase(context.Background(), purchaseReq(release, 1, 0))
	assert.Equal(t, 400, models.StatusFor(err))
}

func reserveUnderIntent(t *testing.T, l *Ledger, r *testutil.Release, buyerID uint, intentID string, amounts ...int) []uint {
	t.Helper()
	ids := make([]uint, 0, len(amounts))
	for _, n := range amounts {
		p, err := l.ReservePurchase(context.Background(), purchaseReq(r, buyerID, n))
		require.NoError(t, err)
		require.NoError(t, l.AttachIntent(context.Background(), p.ID, intentID))
		ids = append(ids, p.ID)
	}
	return ids
}

func TestSettlePurchase_BundledIntent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(5), testutil.WithPrice(1000))
	buyer := testutil.CreateUser(t, db, "")
	ctx := context.Background()

	reserveUnderIntent(t, l, release, buyer.ID, "pi_bundle", 2, 3)

	settled, err := l.SettlePurchase(ctx, "pi_bundle")
	require.NoError(t, err)
	assert.Len(t, settled.Tokens, 5)
	assert.Len(t, settled.Purchases, 2)
	for _, tok := range settled.Tokens {
		assert.NotZero(t, tok.ID)
		require.NotNil(t, tok.PurchaseID)
		assert.Equal(t, buyer.ID, tok.UserID)
	}

	purchases, err := l.PurchasesByIntent(ctx, "pi_bundle")
	require.NoError(t, err)
	for _, p := range purchases {
		assert.Equal(t, models.PurchaseCompleted, p.Status)
	}
	assert.Equal(t, 5, supplyCount(t, db, release.Post.ID))
	assert.EqualValues(t, 5, testutil.CountTokens(t, db, release.Post.ID))
}

func TestSettlePurchase_SecondCallIsNoop(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(5), testutil.WithPrice(1000))
	buyer := testutil.CreateUser(t, db, "")
	ctx := context.Background()

	reserveUnderIntent(t, l, release, buyer.ID, "pi_twice", 2)

	_, err := l.SettlePurchase(ctx, "pi_twice")
	require.NoError(t, err)

	again, err := l.SettlePurchase(ctx, "pi_twice")
	require.NoError(t, err)
	assert.Empty(t, again.Tokens)
	assert.EqualValues(t, 2, testutil.CountTokens(t, db, release.Post.ID))
	assert.Equal(t, 2, supplyCount(t, db, release.Post.ID))
}

func TestSettlePurchase_AllOrNothing(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(5), testutil.WithPrice(1000))
	buyer := testutil.CreateUser(t, db, "")
	claimer := testutil.CreateUser(t, db, "")
	ctx := context.Background()

	ids := reserveUnderIntent(t, l, release, buyer.ID, "pi_over", 2, 3)
	// A free claim takes one unit of headroom after the purchases were reserved.
	_, err := l.ReserveFreeToken(ctx, freeClaim(release, claimer.ID))
	require.NoError(t, err)

	_, err = l.SettlePurchase(ctx, "pi_over")
	require.ErrorIs(t, err, models.ErrSupplyExhausted)

	assert.EqualValues(t, 1, testutil.CountTokens(t, db, release.Post.ID))
	assert.Equal(t, 1, supplyCount(t, db, release.Post.ID))
	for _, id := range ids {
		p, err := l.GetPurchase(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PurchaseCreated, p.Status)
	}
}

func TestSettlePurchase_FromFailedAndSkipsCanceled(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCap(10), testutil.WithPrice(1000))
	buyer := testutil.CreateUser(t, db, "")
	ctx := context.Background()

	ids := reserveUnderIntent(t, l, release, buyer.ID, "pi_mixed", 1, 4)
	moved, err := l.FailPurchase(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, moved)
	moved, err = l.CancelPurchase(ctx, ids[1])
	require.NoError(t, err)
	require.True(t, moved)

	settled, err := l.SettlePurchase(ctx, "pi_mixed")
	require.NoError(t, err)
	assert.Len(t, settled.Tokens, 1)

	p, err := l.GetPurchase(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseCompleted, p.Status)
	p, err = l.GetPurchase(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseCanceled, p.Status)
}

func TestSettlePurchase_UnknownIntent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)

	settled, err := l.SettlePurchase(context.Background(), "pi_missing")
	require.NoError(t, err)
	assert.Empty(t, settled.Tokens)
	assert.Empty(t, settled.Purchases)
}
