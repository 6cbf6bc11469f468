// Package jobs defines the job types the settlement pipeline enqueues and
// their payload schemas.
package jobs

import (
	"context"
	"strconv"
	"time"

	"editions/internal/queue"
)

// Job type names.
const (
	TypeMintToken                = "mintToken"
	TypeSendEmail                = "sendEmail"
	TypeApplyCRM                 = "applyCRM"
	TypeApplyMultiCRM            = "applyMultiCRM"
	TypeCreateInboxNotifications = "createInboxNotifications"
)

const (
	backoff = 5 * time.Second
	ttl     = 5 * time.Minute
)

// Definition is the retry policy and worker pool size of one job type.
type Definition struct {
	Type        string
	Options     queue.Options
	Concurrency int
}

// Definitions lists every job type the workers process.
var Definitions = []Definition{
	{Type: TypeMintToken, Options: queue.Options{Attempts: 5, Backoff: backoff, TTL: ttl}, Concurrency: 1},
	{Type: TypeSendEmail, Options: queue.Options{Attempts: 1, Backoff: backoff, TTL: ttl}, Concurrency: 1},
	{Type: TypeApplyCRM, Options: queue.Options{Attempts: 2, Backoff: backoff, TTL: ttl}, Concurrency: 1},
	{Type: TypeApplyMultiCRM, Options: queue.Options{Attempts: 2, Backoff: backoff, TTL: ttl}, Concurrency: 1},
	{Type: TypeCreateInboxNotifications, Options: queue.Options{Attempts: 5, Backoff: backoff, TTL: ttl}, Concurrency: 5},
}

// Register defines every job type on q.
func Register(q *queue.Queue) {
	for _, d := range Definitions {
		q.Define(d.Type, d.Options)
	}
}

// Creator enqueues jobs. *queue.Queue satisfies it.
type Creator interface {
	Create(ctx context.Context, jobType string, priority queue.Priority, payload any) (string, error)
}

// MintToken asks a settlement worker to mint one token on-chain.
type MintToken struct {
	TokenID uint `json:"tokenId"`
}

// IdempotencyKey collapses repeated mint requests for the same token.
func (p MintToken) IdempotencyKey() string {
	return "token:" + strconv.FormatUint(uint64(p.TokenID), 10)
}

// SendEmail is one transactional email.
type SendEmail struct {
	To      string `json:"to"`
	From    string `json:"from"`
	ReplyTo string `json:"replyTo,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
}

// ApplyCRM upserts one user's CRM record.
type ApplyCRM struct {
	UserID  uint           `json:"userId"`
	Updates map[string]any `json:"updates"`
}

// ApplyMultiCRM upserts several CRM records in one job.
type ApplyMultiCRM struct {
	Infos []ApplyCRM `json:"infos"`
}

// CreateInboxNotifications fans a new release out to one page of an app's
// subscribers. OffsetID is the last subscription id already handled.
type CreateInboxNotifications struct {
	OffsetID  uint   `json:"offsetId"`
	AppID     uint   `json:"appId"`
	PostID    uint   `json:"postId"`
	CreatorID uint   `json:"creatorId"`
	Title     string `json:"title"`
	Link      string `json:"link,omitempty"`
}

// IdempotencyKey identifies one page of one release's fan-out.
func (p CreateInboxNotifications) IdempotencyKey() string {
	return "post:" + strconv.FormatUint(uint64(p.PostID), 10) + ":after:" + strconv.FormatUint(uint64(p.OffsetID), 10)
}
