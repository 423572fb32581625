package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/stayscan/internal/model"
)

// WebhookEventStore is the ledger of Stripe event deliveries.
type WebhookEventStore struct {
	db *sql.DB
}

func NewWebhookEventStore(db *sql.DB) *WebhookEventStore {
	return &WebhookEventStore{db: db}
}

func scanWebhookEvent(scanner interface{ Scan(...any) error }) (*model.WebhookEvent, error) {
	var e model.WebhookEvent
	var processedAt sql.NullTime
	err := scanner.Scan(&e.ID, &e.EventID, &e.EventType, &e.EventCreated, &e.ReceivedAt, &processedAt, &e.ProcessingError)
	if err != nil {
		return nil, err
	}
	e.ProcessedAt = timePtr(processedAt)
	return &e, nil
}

const webhookEventCols = `id, event_id, event_type, event_created, received_at, processed_at, processing_error`

// Record stores the event if it has not been seen before and returns the
// ledger entry. A non-nil ProcessedAt means an earlier delivery finished it.
func (s *WebhookEventStore) Record(ctx context.Context, eventID, eventType string, created int64) (*model.WebhookEvent, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, event_created) VALUES (?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, created,
	)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	return s.GetByEventID(ctx, eventID)
}

func (s *WebhookEventStore) GetByEventID(ctx context.Context, eventID string) (*model.WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookEventCols+` FROM webhook_events WHERE event_id = ?`, eventID)
	e, err := scanWebhookEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return e, nil
}

// MarkProcessed closes the entry. A non-empty procErr is kept for
// inspection and leaves the event open for redelivery.
func (s *WebhookEventStore) MarkProcessed(ctx context.Context, eventID, procErr string) error {
	var err error
	if procErr == "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE webhook_events SET processed_at = CURRENT_TIMESTAMP, processing_error = '' WHERE event_id = ?`,
			eventID,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE webhook_events SET processing_error = ? WHERE event_id = ?`,
			procErr, eventID,
		)
	}
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}

// DeleteProcessedBefore prunes finished entries older than the given number of days.
func (s *WebhookEventStore) DeleteProcessedBefore(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_events
		 WHERE processed_at IS NOT NULL AND processed_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", days),
	)
	if err != nil {
		return 0, fmt.Errorf("prune webhook events: %w", err)
	}
	return res.RowsAffected()
}
