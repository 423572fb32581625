package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

// ErrNotConfigured is returned when no server token is set.
var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark endpoint.
func WithAPIURL(url string) Option {
	return func(cl *Client) {
		cl.apiURL = url
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      defaultAPIURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream,omitempty"`
}

// SubscriptionNotice describes a billing status change for the account owner.
type SubscriptionNotice struct {
	PlanName  string
	Status    string
	PeriodEnd *time.Time
}

// SendSubscriptionNotice emails the owner about a subscription status change.
func (c *Client) SendSubscriptionNotice(ctx context.Context, toEmail string, n SubscriptionNotice) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	billingURL := c.baseURL + "/dashboard/billing"
	var subject, text string
	switch n.Status {
	case "active":
		subject = fmt.Sprintf("Your StayScan %s plan is active", n.PlanName)
		text = fmt.Sprintf("Thanks for subscribing. Your %s plan is now active.", n.PlanName)
		if n.PeriodEnd != nil {
			text += fmt.Sprintf(" It renews on %s.", n.PeriodEnd.Format("2 January 2006"))
		}
	case "past_due":
		subject = "Payment failed for your StayScan subscription"
		text = fmt.Sprintf("We couldn't collect payment for your %s plan. Please update your payment details to keep your properties online.", n.PlanName)
	case "canceled":
		subject = "Your StayScan subscription has been canceled"
		text = fmt.Sprintf("Your %s plan has been canceled. Properties beyond the Free allowance will no longer be editable.", n.PlanName)
	default:
		subject = "Your StayScan subscription has changed"
		text = fmt.Sprintf("Your %s plan status is now %q.", n.PlanName, n.Status)
	}

	textBody := fmt.Sprintf("%s\n\nManage billing: %s", text, billingURL)
	htmlBody := fmt.Sprintf(`<p>%s</p><p><a href="%s">Manage billing</a></p>`, text, billingURL)

	return c.send(ctx, postmarkEmail{
		From:          c.fromEmail,
		To:            toEmail,
		Subject:       subject,
		HtmlBody:      htmlBody,
		TextBody:      textBody,
		MessageStream: "outbound",
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
