package models

// PurchaseStatus is the lifecycle state of a Purchase.
type PurchaseStatus string

const (
	PurchaseCreated   PurchaseStatus = "CREATED"
	PurchasePending   PurchaseStatus = "PENDING"
	PurchaseFailed    PurchaseStatus = "FAILED"
	PurchaseCompleted PurchaseStatus = "COMPLETED"
	PurchaseCanceled  PurchaseStatus = "CANCELED"
)

// TerminalPurchaseStatuses accept no further transitions.
var TerminalPurchaseStatuses = []PurchaseStatus{PurchaseCompleted, PurchaseCanceled}

// Valid reports whether s is a known status.
func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseCreated, PurchasePending, PurchaseFailed, PurchaseCompleted, PurchaseCanceled:
		return true
	}
	return false
}

// Terminal reports whether s is an end state.
func (s PurchaseStatus) Terminal() bool {
	switch s {
	case PurchaseCompleted, PurchaseCanceled:
		return true
	case PurchaseCreated, PurchasePending, PurchaseFailed:
		return false
	}
	return false
}

// Predecessors lists the statuses a purchase may move into s from.
// Terminal statuses never appear here, so every guarded update refuses to
// overwrite COMPLETED or CANCELED.
func (s PurchaseStatus) Predecessors() []PurchaseStatus {
	switch s {
	case PurchaseCreated:
		return nil
	case PurchasePending:
		return []PurchaseStatus{PurchaseCreated, PurchaseFailed}
	case PurchaseFailed:
		return []PurchaseStatus{PurchaseCreated, PurchasePending}
	case PurchaseCompleted:
		return []PurchaseStatus{PurchasePending}
	case PurchaseCanceled:
		return []PurchaseStatus{PurchaseCreated, PurchasePending, PurchaseFailed}
	}
	return nil
}

// CanTransitionTo reports whether s may move to next.
func (s PurchaseStatus) CanTransitionTo(next PurchaseStatus) bool {
	for _, p := range next.Predecessors() {
		if p == s {
			return true
		}
	}
	return false
}

// MintStatus tracks whether a token's mint has been observed on-chain.
type MintStatus string

const (
	// MintPending tokens are re-checked by the unminted-token sweep.
	MintPending MintStatus = "pending"
	// MintConfirmed tokens were observed on-chain.
	MintConfirmed MintStatus = "confirmed"
	// MintUnverifiable tokens belong to legacy factories with no existence query.
	MintUnverifiable MintStatus = "unverifiable"
)

// Valid reports whether s is a known mint status.
func (s MintStatus) Valid() bool {
	switch s {
	case MintPending, MintConfirmed, MintUnverifiable:
		return true
	}
	return false
}

// CollectionVersion selects the minting strategy for a collection.
type CollectionVersion int

const (
	CollectionLegacy CollectionVersion = 0
	CollectionV2     CollectionVersion = 2
	CollectionV3     CollectionVersion = 3
)

// AppStatus is the moderation state of a creator app.
type AppStatus string

const (
	AppPending    AppStatus = "PEND"
	AppDefault    AppStatus = "DFLT"
	AppBanned     AppStatus = "BNND"
	AppRestricted AppStatus = "RSRT"
)

// CanSell reports whether the app may accept new purchases.
func (s AppStatus) CanSell() bool {
	return s != AppBanned && s != AppRestricted
}
