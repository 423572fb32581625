package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrNotConfigured = errors.New("identity api not configured")
	ErrNoEmail       = errors.New("user has no email address")
)

// ClientConfig holds the identity provider's backend API settings.
type ClientConfig struct {
	APIURL    string
	SecretKey string
	Timeout   time.Duration
}

type emailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type userResponse struct {
	ID                    string         `json:"id"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []emailAddress `json:"email_addresses"`
}

// Client reads user records from the identity provider.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.clerk.com"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Configured() bool {
	return c.cfg.SecretKey != ""
}

// PrimaryEmail returns the primary email address of the user with the given
// subject. Users without a marked primary fall back to their first address.
func (c *Client) PrimaryEmail(ctx context.Context, subject string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	endpoint := strings.TrimSuffix(c.cfg.APIURL, "/") + "/v1/users/" + url.PathEscape(subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get user: status %d", resp.StatusCode)
	}

	var ur userResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("decode user: %w", err)
	}

	for _, e := range ur.EmailAddresses {
		if e.ID == ur.PrimaryEmailAddressID && e.EmailAddress != "" {
			return e.EmailAddress, nil
		}
	}
	if len(ur.EmailAddresses) > 0 && ur.EmailAddresses[0].EmailAddress != "" {
		return ur.EmailAddresses[0].EmailAddress, nil
	}
	return "", ErrNoEmail
}
