package service

import (
	"context"
	"errors"
	"log/slog"

	"editions/internal/cache"
	"editions/internal/jobs"
	"editions/internal/ledger"
	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/notifications"
	"editions/internal/observability"
	"editions/internal/queue"
)

// ReleaseLedger is the ledger surface the checkout services use.
type ReleaseLedger interface {
	GetPost(ctx context.Context, id uint) (*models.Post, error)
	GetApp(ctx context.Context, id uint) (*models.App, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
}

// ClaimLedger reserves free tokens.
type ClaimLedger interface {
	ReleaseLedger
	ReserveFreeToken(ctx context.Context, in ledger.FreeClaim) (*models.Token, error)
}

// Publisher delivers realtime events to users.
type Publisher interface {
	PublishEvent(ctx context.Context, userID uint, eventType string, data any) error
}

type ClaimService struct {
	ledger    ClaimLedger
	jobs      jobs.Creator
	publisher Publisher
	cache     *cache.Cache
}

type ClaimInput struct {
	UserID uint
	PostID uint
	IP     string
}

// TokenClaimed is the realtime payload for a successful free claim.
type TokenClaimed struct {
	TokenID uint `json:"token_id"`
	PostID  uint `json:"post_id"`
}

func NewClaimService(l ClaimLedger, j jobs.Creator, p Publisher, c *cache.Cache) *ClaimService {
	return &ClaimService{ledger: l, jobs: j, publisher: p, cache: c}
}

// loadRelease returns the post and its app, served from the cache when warm.
// Supply is never read from here; the ledger re-checks it under lock.
func loadRelease(ctx context.Context, l ReleaseLedger, c *cache.Cache, postID uint) (*models.Post, *models.App, error) {
	var post models.Post
	err := c.Aside(ctx, cache.PostKey(postID), &post, cache.PostTTL, func() error {
		p, err := l.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		post = *p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !post.Active {
		return nil, nil, models.NewValidationError("Release is not active")
	}

	var app models.App
	err = c.Aside(ctx, cache.AppKey(post.AppID), &app, cache.AppTTL, func() error {
		a, err := l.GetApp(ctx, post.AppID)
		if err != nil {
			return err
		}
		app = *a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &post, &app, nil
}

// Claim issues one free token of a post to the caller and queues its mint.
// The token is committed before the job is created, so a failed enqueue is
// picked up later by the stuck-mint retry.
func (s *ClaimService) Claim(ctx context.Context, in ClaimInput) (*models.Token, error) {
	post, _, err := loadRelease(ctx, s.ledger, s.cache, in.PostID)
	if err != nil {
		return nil, err
	}
	if !post.IsFree() {
		return nil, models.NewValidationError("Release must be purchased")
	}

	token, err := s.ledger.ReserveFreeToken(ctx, ledger.FreeClaim{
		PostID:    post.ID,
		UserID:    in.UserID,
		CreatorID: post.CreatorID,
		AppID:     post.AppID,
		IP:        in.IP,
	})
	if err != nil {
		observability.LedgerRejections.WithLabelValues(rejectionCode(err)).Inc()
		return nil, err
	}

	if _, err := s.jobs.Create(ctx, jobs.TypeMintToken, queue.PriorityNormal, jobs.MintToken{TokenID: token.ID}); err != nil {
		middleware.Logger.ErrorContext(ctx, "enqueue mint after claim",
			slog.Uint64("token_id", uint64(token.ID)), slog.String("error", err.Error()))
	}
	if s.publisher != nil {
		if err := s.publisher.PublishEvent(ctx, in.UserID, notifications.EventTokenClaimed,
			TokenClaimed{TokenID: token.ID, PostID: post.ID}); err != nil {
			middleware.Logger.WarnContext(ctx, "publish claim event", slog.String("error", err.Error()))
		}
	}
	return token, nil
}

func rejectionCode(err error) string {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return models.CodeInternal
}
