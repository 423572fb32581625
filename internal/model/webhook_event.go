package model

import "time"

// WebhookEvent is a ledger entry for one Stripe event delivery.
type WebhookEvent struct {
	ID              int64
	EventID         string
	EventType       string
	EventCreated    int64
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
	ProcessingError string
}
