package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"editions/internal/ledger"
	"editions/internal/middleware"
	"editions/internal/models"

	"gorm.io/gorm"
)

// Options sizes the seeded catalog.
type Options struct {
	Creators          int
	PostsPerApp       int
	SubscribersPerApp int
	// ClaimsPerPost is how many subscribers claim each free post.
	ClaimsPerPost int
	Seed          int64
}

func (o Options) withDefaults() Options {
	if o.Creators <= 0 {
		o.Creators = 5
	}
	if o.PostsPerApp <= 0 {
		o.PostsPerApp = 4
	}
	if o.SubscribersPerApp <= 0 {
		o.SubscribersPerApp = 10
	}
	if o.ClaimsPerPost < 0 {
		o.ClaimsPerPost = 0
	}
	return o
}

// Summary counts what a run inserted.
type Summary struct {
	Users         int
	Apps          int
	Posts         int
	Subscriptions int
	Claims        int
}

// Seeder writes demo catalogs. Free claims go through the ledger so supply
// counts stay consistent with the tokens issued.
type Seeder struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	factory *Factory
	opts    Options
}

func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	opts = opts.withDefaults()
	return &Seeder{db: db, ledger: ledger.New(db), factory: NewFactory(opts.Seed), opts: opts}
}

// ClearAll deletes every ledger row, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, m := range []any{
		&models.Token{},
		&models.Purchase{},
		&models.Payout{},
		&models.Subscription{},
		&models.Post{},
		&models.Collection{},
		&models.App{},
		&models.User{},
	} {
		if err := tx.Delete(m).Error; err != nil {
			return fmt.Errorf("clear %T: %w", m, err)
		}
	}
	middleware.Logger.Info("seed data cleared")
	return nil
}

var versions = []models.CollectionVersion{models.CollectionLegacy, models.CollectionV2, models.CollectionV3}

// Run seeds creators with apps, releases and subscribers, then claims free
// releases for the first subscribers.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	db := s.db.WithContext(ctx)

	for i := 0; i < s.opts.Creators; i++ {
		creator := s.factory.Creator()
		if err := db.Create(creator).Error; err != nil {
			return sum, fmt.Errorf("create creator: %w", err)
		}
		app := s.factory.App(creator.ID)
		if err := db.Create(app).Error; err != nil {
			return sum, fmt.Errorf("create app: %w", err)
		}
		sum.Users++
		sum.Apps++

		subscribers := make([]*models.User, 0, s.opts.SubscribersPerApp)
		for j := 0; j < s.opts.SubscribersPerApp; j++ {
			u := s.factory.User()
			if err := db.Create(u).Error; err != nil {
				return sum, fmt.Errorf("create subscriber: %w", err)
			}
			if err := db.Create(&models.Subscription{AppID: app.ID, SubscriberID: u.ID, Active: true}).Error; err != nil {
				return sum, fmt.Errorf("create subscription: %w", err)
			}
			subscribers = append(subscribers, u)
			sum.Users++
			sum.Subscriptions++
		}

		for j := 0; j < s.opts.PostsPerApp; j++ {
			collection := s.factory.Collection(versions[(i+j)%len(versions)])
			if err := db.Create(collection).Error; err != nil {
				return sum, fmt.Errorf("create collection: %w", err)
			}

			var price int64
			if j%2 == 1 {
				price = s.factory.Price()
			}
			post := s.factory.Post(app, &collection.ID, 25*(j+1), price)
			if err := db.Create(post).Error; err != nil {
				return sum, fmt.Errorf("create post: %w", err)
			}
			sum.Posts++

			if !post.IsFree() {
				continue
			}
			n, err := s.claim(ctx, post, subscribers)
			sum.Claims += n
			if err != nil {
				return sum, err
			}
		}
	}

	middleware.Logger.Info("seed complete",
		slog.Int("users", sum.Users),
		slog.Int("apps", sum.Apps),
		slog.Int("posts", sum.Posts),
		slog.Int("claims", sum.Claims))
	return sum, nil
}

func (s *Seeder) claim(ctx context.Context, post *models.Post, subscribers []*models.User) (int, error) {
	claimed := 0
	for _, u := range subscribers[:min(s.opts.ClaimsPerPost, len(subscribers))] {
		_, err := s.ledger.ReserveFreeToken(ctx, ledger.FreeClaim{
			PostID:    post.ID,
			UserID:    u.ID,
			CreatorID: post.CreatorID,
			AppID:     post.AppID,
			IP:        "127.0.0.1",
		})
		switch {
		case errors.Is(err, models.ErrSupplyExhausted):
			return claimed, nil
		case err != nil:
			return claimed, fmt.Errorf("claim post %d: %w", post.ID, err)
		}
		claimed++
	}
	return claimed, nil
}
