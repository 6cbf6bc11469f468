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

func claimedToken(t *testing.T, l *Ledger) (*models.Token, *testutil.Release) {
	t.Helper()
	release := testutil.CreateRelease(t, l.db, testutil.WithCap(10))
	user := testutil.CreateUser(t, l.db, "0x00000000000000000000000000000000000000aa")
	token, err := l.ReserveFreeToken(context.Background(), freeClaim(release, user.ID))
	require.NoError(t, err)
	return token, release
}

func TestClaimMint_ExclusiveUntilLeaseExpires(t *testing.T) {
	l := New(testutil.NewSQLiteDB(t))
	token, _ := claimedToken(t, l)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }

	require.NoError(t, l.ClaimMint(ctx, token.ID, "claim-a", 10*time.Minute))
	assert.ErrorIs(t, l.ClaimMint(ctx, token.ID, "claim-b", 10*time.Minute), models.ErrMintInProgress)

	l.now = func() time.Time { return base.Add(11 * time.Minute) }
	assert.NoError(t, l.ClaimMint(ctx, token.ID, "claim-b", 10*time.Minute))
}

func TestClaimMint_AfterSubmission(t *testing.T) {
	l := New(testutil.NewSQLiteDB(t))
	token, _ := claimedToken(t, l)
	ctx := context.Background()

	require.NoError(t, l.ClaimMint(ctx, token.ID, "claim-a", time.Minute))
	addr := "0x00000000000000000000000000000000000000cc"
	require.NoError(t, l.RecordMintSubmission(ctx, token.ID, "claim-a", "0xabc", &addr))

	err := l.ClaimMint(ctx, token.ID, "claim-b", time.Minute)
	assert.ErrorIs(t, err, models.ErrAlreadyMinted)

	var stored models.Token
	require.NoError(t, l.db.First(&stored, token.ID).Error)
	require.True(t, stored.HasMintTx())
	assert.Equal(t, "0xabc", *stored.MintTxID)
	assert.Equal(t, addr, *stored.ContractAddress)
	assert.Nil(t, stored.MintClaimID)
}

func TestClaimMint_ConfirmedWithoutTx(t *testing.T) {
	l := New(testutil.NewSQLiteDB(t))
	token, _ := claimedToken(t, l)
	ctx := context.Background()

	require.NoError(t, l.db.Model(&models.Token{}).Where("id = ?", token.ID).
		Update("mint_status", string(models.MintConfirmed)).Error)

	assert.ErrorIs(t, l.ClaimMint(ctx, token.ID, "claim-a", time.Minute), models.ErrAlreadyMinted)

	var stored models.Token
	require.NoError(t, l.db.First(&stored, token.ID).Error)
	assert.Nil(t, stored.MintClaimID)
}

func TestClaimMint_UnverifiableStillClaimable(t *testing.T) {
	l := New(testutil.NewSQLiteDB(t))
	token, _ := claimedToken(t, l)

	require.NoError(t, l.db.Model(&models.Token{}).Where("id = ?", token.ID).
		Update("mint_status", string(models.MintUnverifiable)).Error)

	assert.NoError(t, l.ClaimMint(context.Background(), token.ID, "claim-a", time.Minute))
}

func TestRecordMintSubmission_RequiresClaim(t *testing.T) {
	l := New(testutil.NewSQLiteDB(t))
	token, _ := claimedToken(t, l)
	ctx := context.Background()

	require.NoError(t, l.ClaimMint(ctx, token.ID, "claim-a", time.Minute))
	err := l.RecordMintSubmission(ctx, token.ID, "claim-z", "0xdef", nil)
	assert.ErrorIs(t, err, models.ErrMintInProgress)
}

func TestReleaseMintClaim(t *testing.T) {
	l := New(testutil.NewSQLiteDB(t))
	token, _ := claimedToken(t, l)
	ctx := context.Background()

	require.NoError(t, l.ClaimMint(ctx, token.ID, "claim-a", time.Hour))
	require.NoError(t, l.ReleaseMintClaim(ctx, token.ID, "claim-a"))
	assert.NoError(t, l.ClaimMint(ctx, token.ID, "claim-b", time.Hour))
}

func TestClaimMint_MissingToken(t *testing.T) {
	l := New(testutil.NewSQLiteDB(t))

	err := l.ClaimMint(context.Background(), 999, "claim", time.Minute)
	assert.Equal(t, 404, models.StatusFor(err))
}

func TestLoadMintSubject(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	collection := testutil.CreateCollection(t, db, models.CollectionV3, "")
	release := testutil.CreateRelease(t, db, testutil.WithCap(2), testutil.WithCollection(collection))
	user := testutil.CreateUser(t, db, "0x00000000000000000000000000000000000000aa")
	token, err := l.ReserveFreeToken(context.Background(), freeClaim(release, user.ID))
	require.NoError(t, err)

	subject, err := l.LoadMintSubject(context.Background(), token.ID)
	require.NoError(t, err)
	assert.Equal(t, release.Post.ID, subject.Post.ID)
	assert.Equal(t, release.App.ID, subject.App.ID)
	require.NotNil(t, subject.Collection)
	assert.Equal(t, models.CollectionV3, subject.Collection.Version)
	require.NotNil(t, subject.Recipient.WalletAddress)
}

func TestStuckMintTokens(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	l := New(db)
	token, _ := claimedToken(t, l)
	fresh, release := claimedToken(t, l)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.Token{}).Where("id = ?", token.ID).UpdateColumn("created_at", old).Error)

	submitted := testutil.CreateUser(t, db, "")
	minted, err := l.ReserveFreeToken(ctx, freeClaim(release, submitted.ID))
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Token{}).Where("id = ?", minted.ID).
		UpdateColumns(map[string]interface{}{"created_at": old, "mint_tx_id": "0x1"}).Error)

	onChain, err := l.ReserveFreeToken(ctx, freeClaim(release, testutil.CreateUser(t, db, "").ID))
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Token{}).Where("id = ?", onChain.ID).
		UpdateColumns(map[string]interface{}{"created_at": old, "mint_status": string(models.MintConfirmed)}).Error)

	ids, err := l.StuckMintTokens(ctx, time.Now().Add(-time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, []uint{token.ID}, ids)
	assert.NotContains(t, ids, fresh.ID)
}
