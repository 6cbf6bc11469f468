package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"editions/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSalesforce(t *testing.T, accounts map[string]map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var logins atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.Form.Get("grant_type"))
		assert.Equal(t, "ops@example.com", r.Form.Get("username"))
		logins.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","instance_url":"x"}`))
	})
	mux.HandleFunc("/services/data/v53.0/sobjects/Account/Cent_ID__c/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		id := r.PathValue("id")
		switch r.Method {
		case http.MethodGet:
			acc, ok := accounts[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(acc)
		case http.MethodPatch:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for k, v := range body {
				accounts[id][k] = v
			}
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("POST /services/data/v53.0/sobjects/Account", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		accounts[body[FieldUserID].(string)] = body
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"001","success":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &logins
}

type stubDirectory struct {
	users map[uint]*models.User
	apps  map[uint]*models.App
}

func (d *stubDirectory) GetUser(_ context.Context, id uint) (*models.User, error) {
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, models.NewNotFoundError("User", id)
}

func (d *stubDirectory) AppByCreator(_ context.Context, id uint) (*models.App, error) {
	if a, ok := d.apps[id]; ok {
		return a, nil
	}
	return nil, models.NewNotFoundError("App for creator", id)
}

func TestSyncer_UpdatesExistingAndCreatesMissing(t *testing.T) {
	accounts := map[string]map[string]any{"1": {FieldUserID: "1"}}
	srv, logins := newSalesforce(t, accounts)
	client := NewClient(Config{
		Host: srv.URL, ClientID: "id", ClientSecret: "secret",
		Username: "ops@example.com", Password: "pw",
	}, srv.Client())

	wallet := "0x00000000000000000000000000000000000000b0"
	dir := &stubDirectory{
		users: map[uint]*models.User{
			2: {ID: 2, Email: "creator@example.com", Username: "creator", WalletAddress: &wallet, CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
		apps: map[uint]*models.App{2: {ID: 9, Subdomain: "shop"}},
	}
	s := NewSyncer(client, dir)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, 1, map[string]any{FieldPaymentAccountStatus: "Enabled"}))
	assert.Equal(t, "Enabled", accounts["1"][FieldPaymentAccountStatus])

	require.NoError(t, s.Apply(ctx, 2, map[string]any{FieldTotalSales: 12.5}))
	created := accounts["2"]
	require.NotNil(t, created)
	assert.Equal(t, "creator@example.com", created[FieldEmail])
	assert.Equal(t, AccountTypeCreator, created[FieldAccountType])
	assert.Equal(t, "shop", created[FieldSubdomain])
	assert.Equal(t, wallet, created[FieldBlockchainAddress])
	assert.Equal(t, "2025-05-01", created[FieldCreateDateForUser])
	assert.Equal(t, 12.5, created[FieldTotalSales])

	assert.EqualValues(t, 1, logins.Load(), "session is reused between calls")
}

type flakyAccounts struct {
	getErrs []error
	resets  int
	updated []uint
}

func (f *flakyAccounts) GetAccount(_ context.Context, _ uint) (map[string]any, error) {
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return nil, err
	}
	return map[string]any{}, nil
}

func (f *flakyAccounts) UpdateAccount(_ context.Context, id uint, _ map[string]any) error {
	f.updated = append(f.updated, id)
	return nil
}

func (f *flakyAccounts) CreateAccount(context.Context, map[string]any) error { return nil }

func (f *flakyAccounts) ResetToken() { f.resets++ }

func TestSyncer_ReauthenticatesOnce(t *testing.T) {
	acc := &flakyAccounts{getErrs: []error{errors.New("session expired")}}
	s := NewSyncer(acc, &stubDirectory{})
	require.NoError(t, s.Apply(context.Background(), 5, nil))
	assert.Equal(t, 1, acc.resets)
	assert.Equal(t, []uint{5}, acc.updated)

	acc = &flakyAccounts{getErrs: []error{errors.New("down"), errors.New("still down")}}
	s = NewSyncer(acc, &stubDirectory{})
	assert.Error(t, s.Apply(context.Background(), 5, nil))
}

func TestSyncer_ApplyManyContinuesPastFailures(t *testing.T) {
	acc := &flakyAccounts{getErrs: []error{errors.New("a"), errors.New("b")}}
	s := NewSyncer(acc, &stubDirectory{})
	err := s.ApplyMany(context.Background(), []Update{{UserID: 1}, {UserID: 2}})
	assert.Error(t, err)
	assert.Equal(t, []uint{2}, acc.updated)
}
