package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"editions/internal/chain"
	"editions/internal/ledger"
	"editions/internal/models"
	"editions/internal/notifications"
	"editions/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const wallet = "0x00000000000000000000000000000000000000aa"

type stubChain struct {
	price     *big.Int
	priceErr  error
	txID      string
	submitErr error
	submitted []chain.MintRequest
}

func (c *stubChain) GasPrice(context.Context) (*big.Int, error) {
	if c.priceErr != nil {
		return nil, c.priceErr
	}
	if c.price == nil {
		return chain.GweiToWei(30), nil
	}
	return c.price, nil
}

func (c *stubChain) SubmitMint(_ context.Context, req chain.MintRequest) (string, error) {
	c.submitted = append(c.submitted, req)
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return c.txID, nil
}

type published struct {
	userID    uint
	eventType string
	data      any
}

type stubPublisher struct{ events []published }

func (p *stubPublisher) PublishEvent(_ context.Context, userID uint, eventType string, data any) error {
	p.events = append(p.events, published{userID, eventType, data})
	return nil
}

type fixture struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	token  *models.Token
	user   *models.User
}

func newFixture(t *testing.T, wallet string, opts ...testutil.ReleaseOption) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	l := ledger.New(db)
	release := testutil.CreateRelease(t, db, append([]testutil.ReleaseOption{testutil.WithCap(10)}, opts...)...)
	user := testutil.CreateUser(t, db, wallet)
	token, err := l.ReserveFreeToken(context.Background(), ledger.FreeClaim{
		PostID: release.Post.ID, UserID: user.ID, CreatorID: release.Creator.ID, AppID: release.App.ID,
	})
	require.NoError(t, err)
	return &fixture{db: db, ledger: l, token: token, user: user}
}

func (f *fixture) reload(t *testing.T) models.Token {
	t.Helper()
	var tok models.Token
	require.NoError(t, f.db.First(&tok, f.token.ID).Error)
	return tok
}

func TestMintToken_SubmitsAndRecords(t *testing.T) {
	f := newFixture(t, wallet)
	c := &stubChain{txID: "0xfeed"}
	pub := &stubPublisher{}
	w := NewWorker(f.ledger, c, pub, Config{})

	txID, err := w.MintToken(context.Background(), f.token.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", txID)

	require.Len(t, c.submitted, 1)
	req := c.submitted[0]
	assert.Equal(t, chain.StrategyLegacy, req.Strategy)
	assert.Equal(t, uint64(f.token.ID), req.TokenID)
	assert.Equal(t, common.HexToAddress(wallet), req.Recipient)
	assert.Equal(t, uint64(10), req.SupplyCap)

	stored := f.reload(t)
	require.True(t, stored.HasMintTx())
	assert.Equal(t, "0xfeed", *stored.MintTxID)
	assert.Nil(t, stored.MintClaimID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, f.user.ID, pub.events[0].userID)
	assert.Equal(t, notifications.EventTokenMintSubmitted, pub.events[0].eventType)
}

func TestMintToken_V3CollectionRecordsContract(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	addr := "0x00000000000000000000000000000000000000c3"
	coll := testutil.CreateCollection(t, db, models.CollectionV3, addr)
	l := ledger.New(db)
	release := testutil.CreateRelease(t, db, testutil.WithCollection(coll))
	user := testutil.CreateUser(t, db, wallet)
	token, err := l.ReserveFreeToken(context.Background(), ledger.FreeClaim{
		PostID: release.Post.ID, UserID: user.ID, CreatorID: release.Creator.ID, AppID: release.App.ID,
	})
	require.NoError(t, err)

	c := &stubChain{txID: "0x03"}
	_, err = NewWorker(l, c, nil, Config{}).MintToken(context.Background(), token.ID)
	require.NoError(t, err)

	require.Len(t, c.submitted, 1)
	assert.Equal(t, chain.StrategyV3, c.submitted[0].Strategy)
	assert.Equal(t, coll.ContractURI, c.submitted[0].ContractURI)
	assert.Equal(t, "ED", c.submitted[0].TokenSymbol)

	var stored models.Token
	require.NoError(t, db.First(&stored, token.ID).Error)
	require.NotNil(t, stored.ContractAddress)
	assert.Equal(t, addr, *stored.ContractAddress)
}

func TestMintToken_AlreadyMintedNeverRelays(t *testing.T) {
	f := newFixture(t, wallet)
	require.NoError(t, f.db.Model(&models.Token{}).Where("id = ?", f.token.ID).Update("mint_tx_id", "0xold").Error)

	c := &stubChain{txID: "0xnew"}
	_, err := NewWorker(f.ledger, c, nil, Config{}).MintToken(context.Background(), f.token.ID)

	assert.ErrorIs(t, err, models.ErrAlreadyMinted)
	assert.False(t, retryable(err))
	assert.Empty(t, c.submitted)
	assert.Equal(t, "0xold", *f.reload(t).MintTxID)
}

func TestMintToken_ConfirmedWithoutTxNeverRelays(t *testing.T) {
	f := newFixture(t, wallet)
	c := &stubChain{txID: "0xfirst"}
	w := NewWorker(unrecordingLedger{f.ledger}, c, nil, Config{ClaimLease: time.Minute})

	_, err := w.MintToken(context.Background(), f.token.ID)
	require.Error(t, err)
	require.Len(t, c.submitted, 1)

	// The sweep finds the relayed token on-chain after the claim lease lapsed.
	require.NoError(t, f.db.Model(&models.Token{}).Where("id = ?", f.token.ID).UpdateColumns(map[string]interface{}{
		"mint_status":     string(models.MintConfirmed),
		"mint_claimed_at": time.Now().Add(-time.Hour),
	}).Error)

	c.txID = "0xsecond"
	txID, err := NewWorker(f.ledger, c, nil, Config{ClaimLease: time.Minute}).MintToken(context.Background(), f.token.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyMinted)
	assert.False(t, retryable(err))
	assert.Empty(t, txID)
	assert.Len(t, c.submitted, 1)
	tok := f.reload(t)
	assert.False(t, tok.HasMintTx())
}

func TestMintToken_FeeTooHigh(t *testing.T) {
	f := newFixture(t, wallet)
	c := &stubChain{price: chain.GweiToWei(250)}
	w := NewWorker(f.ledger, c, nil, Config{MaxGasPrice: chain.GweiToWei(200)})

	_, err := w.MintToken(context.Background(), f.token.ID)
	assert.ErrorIs(t, err, models.ErrFeeTooHigh)
	assert.True(t, retryable(err))
	assert.Empty(t, c.submitted)
	assert.Nil(t, f.reload(t).MintClaimID, "no claim is taken before the fee check")
}

func TestMintToken_SubmitFailureReleasesClaim(t *testing.T) {
	f := newFixture(t, wallet)
	c := &stubChain{submitErr: errors.New("relay 502")}
	w := NewWorker(f.ledger, c, nil, Config{})

	_, err := w.MintToken(context.Background(), f.token.ID)
	require.Error(t, err)
	assert.True(t, retryable(err))

	stored := f.reload(t)
	assert.False(t, stored.HasMintTx())
	assert.Nil(t, stored.MintClaimID)

	c.submitErr = nil
	c.txID = "0x2"
	_, err = w.MintToken(context.Background(), f.token.ID)
	assert.NoError(t, err)
}

func TestMintToken_LiveClaimIsRetryable(t *testing.T) {
	f := newFixture(t, wallet)
	require.NoError(t, f.ledger.ClaimMint(context.Background(), f.token.ID, "other-worker", time.Hour))

	c := &stubChain{txID: "0x1"}
	_, err := NewWorker(f.ledger, c, nil, Config{}).MintToken(context.Background(), f.token.ID)
	assert.ErrorIs(t, err, models.ErrMintInProgress)
	assert.True(t, retryable(err))
	assert.Empty(t, c.submitted)
}

func TestMintToken_MissingWallet(t *testing.T) {
	f := newFixture(t, "")
	c := &stubChain{}
	_, err := NewWorker(f.ledger, c, nil, Config{}).MintToken(context.Background(), f.token.ID)
	assert.ErrorIs(t, err, models.ErrAuthorizationFailure)
	assert.Empty(t, c.submitted)
}

func TestMintToken_MissingToken(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	_, err := NewWorker(ledger.New(db), &stubChain{}, nil, Config{}).MintToken(context.Background(), 999)
	assert.ErrorIs(t, err, &models.AppError{Code: models.CodeNotFound})
	assert.False(t, retryable(err))
}

type unrecordingLedger struct{ Ledger }

func (unrecordingLedger) RecordMintSubmission(context.Context, uint, string, string, *string) error {
	return errors.New("connection reset")
}

func TestMintToken_RelayedButUnrecordedIsNotRetried(t *testing.T) {
	f := newFixture(t, wallet)
	c := &stubChain{txID: "0xabc"}
	txID, err := NewWorker(unrecordingLedger{f.ledger}, c, nil, Config{}).MintToken(context.Background(), f.token.ID)

	require.Error(t, err)
	assert.Equal(t, "0xabc", txID)
	assert.False(t, retryable(err))
}

func TestStrategyFor(t *testing.T) {
	s, err := StrategyFor(nil)
	require.NoError(t, err)
	assert.Equal(t, chain.StrategyLegacy, s)

	s, err = StrategyFor(&models.Collection{Version: models.CollectionV2})
	require.NoError(t, err)
	assert.Equal(t, chain.StrategyV2, s)

	_, err = StrategyFor(&models.Collection{Version: 7})
	assert.Error(t, err)
}
