package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/stayscan/internal/model"
)

type MaintenanceStore struct {
	db *sql.DB
}

func NewMaintenanceStore(db *sql.DB) *MaintenanceStore {
	return &MaintenanceStore{db: db}
}

func scanIssue(scanner interface{ Scan(...any) error }) (*model.MaintenanceIssue, error) {
	var m model.MaintenanceIssue
	err := scanner.Scan(
		&m.ID, &m.PropertyID, &m.Title, &m.Issue, &m.Status, &m.Details,
		&m.CreatedAt, &m.UpdatedAt, &m.PropertyName,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const issueCols = `m.id, m.property_id, m.title, m.issue, m.status, m.details,
	m.created_at, m.updated_at, p.name`

const issueFrom = ` FROM maintenance_issues m JOIN properties p ON p.id = m.property_id`

func (s *MaintenanceStore) Create(ctx context.Context, m *model.MaintenanceIssue) (*model.MaintenanceIssue, error) {
	status := m.Status
	if status == "" {
		status = model.IssueOpen
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO maintenance_issues (property_id, title, issue, status, details) VALUES (?, ?, ?, ?, ?)`,
		m.PropertyID, m.Title, m.Issue, status, m.Details,
	)
	if err != nil {
		return nil, fmt.Errorf("insert maintenance issue: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *MaintenanceStore) GetByID(ctx context.Context, id int64) (*model.MaintenanceIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueCols+issueFrom+` WHERE m.id = ?`, id)
	m, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get maintenance issue: %w", err)
	}
	return m, nil
}

// GetForUser returns the issue only when its property belongs to userID.
func (s *MaintenanceStore) GetForUser(ctx context.Context, id, userID int64) (*model.MaintenanceIssue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueCols+issueFrom+` WHERE m.id = ? AND p.user_id = ?`, id, userID,
	)
	m, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get maintenance issue: %w", err)
	}
	return m, nil
}

// ListByUser returns the issues across a user's properties, newest first.
// A non-zero propertyID narrows the list to that property.
func (s *MaintenanceStore) ListByUser(ctx context.Context, userID, propertyID int64) ([]model.MaintenanceIssue, error) {
	query := `SELECT ` + issueCols + issueFrom + ` WHERE p.user_id = ?`
	args := []any{userID}
	if propertyID != 0 {
		query += ` AND m.property_id = ?`
		args = append(args, propertyID)
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list maintenance issues: %w", err)
	}
	defer rows.Close()

	issues := []model.MaintenanceIssue{}
	for rows.Next() {
		m, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan maintenance issue: %w", err)
		}
		issues = append(issues, *m)
	}
	return issues, rows.Err()
}

func (s *MaintenanceStore) Update(ctx context.Context, m *model.MaintenanceIssue) (*model.MaintenanceIssue, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE maintenance_issues SET title = ?, issue = ?, status = ?, details = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		m.Title, m.Issue, m.Status, m.Details, m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update maintenance issue: %w", err)
	}
	return s.GetByID(ctx, m.ID)
}

func (s *MaintenanceStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM maintenance_issues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete maintenance issue: %w", err)
	}
	return nil
}
