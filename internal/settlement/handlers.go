package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"editions/internal/crm"
	"editions/internal/inbox"
	"editions/internal/jobs"
	"editions/internal/models"
	"editions/internal/queue"

	"golang.org/x/sync/errgroup"
)

// Mailer delivers sendEmail payloads.
type Mailer interface {
	Send(ctx context.Context, e jobs.SendEmail) error
}

// CRM upserts account records.
type CRM interface {
	Apply(ctx context.Context, userID uint, updates map[string]any) error
	ApplyMany(ctx context.Context, updates []crm.Update) error
}

// Subscribers pages through an app's active subscriptions.
type Subscribers interface {
	SubscriberPage(ctx context.Context, appID, afterID uint, limit int) ([]models.SubscriberContact, error)
}

// Inbox stores release notifications.
type Inbox interface {
	NewPost(userIDs []uint, appID, postID, creatorID uint, title, link string) []inbox.Notification
	Put(ctx context.Context, notes []inbox.Notification) error
}

// Handlers binds every job type to its side effect.
type Handlers struct {
	Worker      *Worker
	Mailer      Mailer
	CRM         CRM
	Subscribers Subscribers
	Inbox       Inbox
	Jobs        jobs.Creator
	// PageLimit is how many subscribers one inbox job handles.
	PageLimit int
}

// Routes maps job types to queue handlers.
func (h *Handlers) Routes() map[string]queue.Handler {
	return map[string]queue.Handler{
		jobs.TypeMintToken:                h.mintToken,
		jobs.TypeSendEmail:                h.sendEmail,
		jobs.TypeApplyCRM:                 h.applyCRM,
		jobs.TypeApplyMultiCRM:            h.applyMultiCRM,
		jobs.TypeCreateInboxNotifications: h.createInboxNotifications,
	}
}

// Run processes every defined job type until ctx is canceled.
func Run(ctx context.Context, q *queue.Queue, h *Handlers) error {
	jobs.Register(q)
	routes := h.Routes()
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range jobs.Definitions {
		handler, ok := routes[d.Type]
		if !ok {
			return fmt.Errorf("no handler for job type %s", d.Type)
		}
		g.Go(func() error {
			return q.Process(ctx, d.Type, d.Concurrency, handler)
		})
	}
	return g.Wait()
}

func (h *Handlers) mintToken(ctx context.Context, job *queue.Job) error {
	var p jobs.MintToken
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	txID, err := h.Worker.MintToken(ctx, p.TokenID)
	if err != nil {
		if !retryable(err) {
			return queue.Permanent(err)
		}
		return err
	}
	h.Worker.logger.InfoContext(ctx, "mint submitted",
		slog.Uint64("token_id", uint64(p.TokenID)), slog.String("tx_id", txID))
	return nil
}

func (h *Handlers) sendEmail(ctx context.Context, job *queue.Job) error {
	var p jobs.SendEmail
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	return h.Mailer.Send(ctx, p)
}

func (h *Handlers) applyCRM(ctx context.Context, job *queue.Job) error {
	var p jobs.ApplyCRM
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	return h.CRM.Apply(ctx, p.UserID, p.Updates)
}

func (h *Handlers) applyMultiCRM(ctx context.Context, job *queue.Job) error {
	var p jobs.ApplyMultiCRM
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	updates := make([]crm.Update, 0, len(p.Infos))
	for _, info := range p.Infos {
		updates = append(updates, crm.Update{UserID: info.UserID, Fields: info.Updates})
	}
	return h.CRM.ApplyMany(ctx, updates)
}

// createInboxNotifications writes one page of notifications and enqueues the
// job for the following page. A retry rewrites the same page; the next page
// job collapses on its idempotency key.
func (h *Handlers) createInboxNotifications(ctx context.Context, job *queue.Job) error {
	var p jobs.CreateInboxNotifications
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	limit := h.PageLimit
	if limit <= 0 {
		limit = inbox.MaxBatch
	}

	page, err := h.Subscribers.SubscriberPage(ctx, p.AppID, p.OffsetID, limit)
	if err != nil {
		return fmt.Errorf("load subscribers of app %d: %w", p.AppID, err)
	}
	if len(page) == 0 {
		return nil
	}

	userIDs := make([]uint, len(page))
	for i, s := range page {
		userIDs[i] = s.SubscriberID
	}
	notes := h.Inbox.NewPost(userIDs, p.AppID, p.PostID, p.CreatorID, p.Title, p.Link)
	if err := h.Inbox.Put(ctx, notes); err != nil {
		return err
	}

	if len(page) < limit {
		return nil
	}
	next := p
	next.OffsetID = page[len(page)-1].SubscriptionID
	if _, err := h.Jobs.Create(ctx, jobs.TypeCreateInboxNotifications, queue.PriorityLow, next); err != nil {
		return fmt.Errorf("enqueue next inbox page: %w", err)
	}
	return nil
}
