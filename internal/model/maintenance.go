package model

import "time"

const (
	IssueOpen       = "Open"
	IssueInProgress = "In Progress"
	IssueResolved   = "Resolved"
)

type MaintenanceIssue struct {
	ID         int64     `json:"id"`
	PropertyID int64     `json:"propertyId"`
	Title      string    `json:"title"`
	Issue      string    `json:"issue"`
	Status     string    `json:"status"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	// PropertyName is filled on list queries for display.
	PropertyName string `json:"propertyName,omitempty"`
}
