package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPurchaseStatus_Transitions(t *testing.T) {
	all := []PurchaseStatus{PurchaseCreated, PurchasePending, PurchaseFailed, PurchaseCompleted, PurchaseCanceled}

	allowed := map[PurchaseStatus][]PurchaseStatus{
		PurchaseCreated:   {PurchasePending, PurchaseFailed, PurchaseCanceled},
		PurchasePending:   {PurchaseCompleted, PurchaseFailed, PurchaseCanceled},
		PurchaseFailed:    {PurchasePending, PurchaseCanceled},
		PurchaseCompleted: nil,
		PurchaseCanceled:  nil,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestPurchaseStatus_TerminalNeverPredecessor(t *testing.T) {
	for _, s := range []PurchaseStatus{PurchaseCreated, PurchasePending, PurchaseFailed, PurchaseCompleted, PurchaseCanceled} {
		assert.True(t, s.Valid())
		for _, p := range s.Predecessors() {
			assert.False(t, p.Terminal(), "%s lists terminal predecessor %s", s, p)
		}
	}
	assert.False(t, PurchaseStatus("SHIPPED").Valid())
}

func TestMintStatus_Valid(t *testing.T) {
	assert.True(t, MintPending.Valid())
	assert.True(t, MintConfirmed.Valid())
	assert.True(t, MintUnverifiable.Valid())
	assert.False(t, MintStatus("true").Valid())
}

func TestAppStatus_CanSell(t *testing.T) {
	assert.True(t, AppDefault.CanSell())
	assert.True(t, AppPending.CanSell())
	assert.False(t, AppBanned.CanSell())
	assert.False(t, AppRestricted.CanSell())
}
