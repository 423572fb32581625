package billing

import (
	"context"
	"log/slog"

	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/stayscan/internal/email"
	"github.com/dukerupert/stayscan/internal/model"
	"github.com/dukerupert/stayscan/internal/websocket"
)

// UserBroadcaster pushes a message to a user's open sessions.
type UserBroadcaster interface {
	SendToUser(userID int64, msg websocket.Message)
}

// Mailer sends subscription notices.
type Mailer interface {
	Configured() bool
	SendSubscriptionNotice(ctx context.Context, toEmail string, n email.SubscriptionNotice) error
}

// Notifications fans status changes out to websockets and email.
type Notifications struct {
	hub    UserBroadcaster
	mail   Mailer
	logger *slog.Logger
}

func NewNotifications(hub UserBroadcaster, mail Mailer, logger *slog.Logger) *Notifications {
	return &Notifications{hub: hub, mail: mail, logger: logger}
}

// emailStatuses are the transitions worth an email.
var emailStatuses = map[string]bool{
	model.StatusActive:   true,
	model.StatusPastDue:  true,
	model.StatusCanceled: true,
}

func (n *Notifications) SubscriptionChanged(ctx context.Context, customer *stripe.Customer, prev, cur *model.Subscription) {
	if n.hub != nil {
		n.hub.SendToUser(cur.UserID, websocket.NewMessage("subscription", "updated", cur.ID, cur))
	}

	if n.mail == nil || !n.mail.Configured() || !emailStatuses[cur.Status] {
		return
	}
	if customer == nil || customer.Email == "" {
		n.logger.Debug("no email for subscription notice", "user_id", cur.UserID)
		return
	}

	notice := email.SubscriptionNotice{
		PlanName:  cur.Name,
		Status:    cur.Status,
		PeriodEnd: cur.CurrentPeriodEnd,
	}
	if err := n.mail.SendSubscriptionNotice(context.WithoutCancel(ctx), customer.Email, notice); err != nil {
		n.logger.Error("send subscription notice", "user_id", cur.UserID, "status", cur.Status, "error", err)
	}
}
