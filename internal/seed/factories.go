// Package seed creates demo catalogs for local development and tests.
package seed

import (
	"fmt"
	"strings"

	"editions/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

// Factory builds unsaved ledger rows from fake data. Sequence numbers keep
// unique columns unique across calls.
type Factory struct {
	faker *gofakeit.Faker
	seq   int
}

// NewFactory builds a Factory. A zero seed picks a random one.
func NewFactory(seed int64) *Factory {
	return &Factory{faker: gofakeit.New(seed)}
}

func (f *Factory) next() int {
	f.seq++
	return f.seq
}

func (f *Factory) address() string {
	return f.faker.Numerify("0x########################################")
}

// User builds a subscriber with a wallet.
func (f *Factory) User() *models.User {
	n := f.next()
	wallet := f.address()
	return &models.User{
		Username:             fmt.Sprintf("%s%d", strings.ToLower(f.faker.Username()), n),
		Email:                fmt.Sprintf("user%d.%s", n, strings.ToLower(f.faker.Email())),
		WalletAddress:        &wallet,
		DailyDigestSubscribe: f.faker.Bool(),
	}
}

// Creator builds a user with a connected payout account.
func (f *Factory) Creator() *models.User {
	u := f.User()
	account := "acct_" + strings.ReplaceAll(f.faker.UUID(), "-", "")[:16]
	u.StripeAccountID = &account
	return u
}

// App builds a storefront for creatorID.
func (f *Factory) App(creatorID uint) *models.App {
	n := f.next()
	company := f.faker.Company()
	return &models.App{
		CreatorID: creatorID,
		Subdomain: fmt.Sprintf("%s-%d", slug(company), n),
		Name:      company,
		Status:    models.AppDefault,
	}
}

// Collection builds a contract binding; v2 and v3 collections carry token metadata.
func (f *Factory) Collection(version models.CollectionVersion) *models.Collection {
	n := f.next()
	word := f.faker.Word()
	return &models.Collection{
		ContractURI:    fmt.Sprintf("ipfs://seed-collection-%d-%s", n, slug(word)),
		Version:        version,
		CreatorAddress: f.address(),
		RoyaltyAddress: f.address(),
		RoyaltyRate:    f.faker.Number(0, 10) * 100,
		TokenName:      strings.ToUpper(word[:1]) + word[1:],
		TokenSymbol:    strings.ToUpper(word[:min(3, len(word))]),
	}
}

// Post builds a release. priceCents of zero makes it a free claim.
func (f *Factory) Post(app *models.App, collectionID *uint, supplyCap int, priceCents int64) *models.Post {
	n := f.next()
	p := &models.Post{
		AppID:        app.ID,
		CreatorID:    app.CreatorID,
		CollectionID: collectionID,
		Title:        strings.TrimSuffix(f.faker.Sentence(4), "."),
		Active:       true,
		TokenURI:     fmt.Sprintf("ipfs://seed-release-%d", n),
		TokenRoyalty: f.faker.Number(0, 10) * 100,
	}
	if supplyCap > 0 {
		p.SupplyCap = &supplyCap
	}
	if priceCents > 0 {
		p.TokenPrice = &priceCents
	}
	return p
}

// Price picks a price in whole dollars between 5 and 50.
func (f *Factory) Price() int64 {
	return int64(f.faker.Number(5, 50)) * 100
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
