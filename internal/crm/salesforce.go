// Package crm keeps Salesforce account records in sync with platform users.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

const apiVersion = "v53.0"

// ErrNotFound is returned when no account carries the requested external id.
var ErrNotFound = errors.New("crm: account not found")

// Account field names.
const (
	FieldUserID               = "Cent_ID__c"
	FieldStripeID             = "Stripe_ID__c"
	FieldEmail                = "PersonEmail"
	FieldLastName             = "LastName"
	FieldAccountType          = "Account_Type__c"
	FieldBlockchainAddress    = "Blockchain_Address__pc"
	FieldSubdomain            = "Subdomain__pc"
	FieldPaymentCountry       = "Payment_Country__pc"
	FieldPaymentCurrency      = "Payment_Currency__pc"
	FieldPaymentEmail         = "Payment_Email__pc"
	FieldPaymentAccountStatus = "Payment_Account_Status__pc"
	FieldPaymentSignupDate    = "Payment_Signup_Date__pc"
	FieldTotalSubscribers     = "Total_Number_of_Subscribers__pc"
	FieldTotalSales           = "Total_Sales__pc"
	FieldTotalUnitsSold       = "Total_Units_Sold__pc"
	FieldCreateDateForUser    = "Create_Date_For_User__pc"
)

// Account types.
const (
	AccountTypeSubscriber = "Subscriber"
	AccountTypeCreator    = "Creator"
)

// Config holds the Salesforce connected-app credentials.
type Config struct {
	Host         string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Client is a Salesforce REST client authenticated with the OAuth2 password grant.
type Client struct {
	cfg  Config
	base *http.Client

	mu     sync.Mutex
	client *http.Client
}

// NewClient builds a client. base carries timeouts and transport; nil uses http.DefaultClient.
func NewClient(cfg Config, base *http.Client) *Client {
	if base == nil {
		base = http.DefaultClient
	}
	return &Client{cfg: cfg, base: base}
}

func (c *Client) session(ctx context.Context) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	oc := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(c.cfg.Host, "/") + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	tok, err := oc.PasswordCredentialsToken(ctx, c.cfg.Username, c.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("salesforce authentication: %w", err)
	}
	c.client = oc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, c.base), tok)
	return c.client, nil
}

// ResetToken drops the cached session so the next call authenticates again.
func (c *Client) ResetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	hc, err := c.session(ctx)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode salesforce request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.Host, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		c.ResetToken()
		return fmt.Errorf("salesforce %s %s: session expired", method, path)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("salesforce %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func accountPath(field, id string) string {
	return "/services/data/" + apiVersion + "/sobjects/Account/" + field + "/" + url.PathEscape(id)
}

// GetAccount loads the account keyed by user id.
func (c *Client) GetAccount(ctx context.Context, userID uint) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, accountPath(FieldUserID, strconv.FormatUint(uint64(userID), 10)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAccount patches the account keyed by user id.
func (c *Client) UpdateAccount(ctx context.Context, userID uint, updates map[string]any) error {
	return c.do(ctx, http.MethodPatch, accountPath(FieldUserID, strconv.FormatUint(uint64(userID), 10)), updates, nil)
}

// CreateAccount inserts a new account record.
func (c *Client) CreateAccount(ctx context.Context, record map[string]any) error {
	return c.do(ctx, http.MethodPost, "/services/data/"+apiVersion+"/sobjects/Account", record, nil)
}
