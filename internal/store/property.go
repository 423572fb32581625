package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/stayscan/internal/model"
)

type PropertyStore struct {
	db *sql.DB
}

func NewPropertyStore(db *sql.DB) *PropertyStore {
	return &PropertyStore{db: db}
}

func scanProperty(scanner interface{ Scan(...any) error }) (*model.Property, error) {
	var p model.Property
	var images string
	err := scanner.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Location, &p.Description, &p.Status, &p.Amenities, &images,
		&p.LocalFood, &p.RubbishAndBins, &p.WifiName, &p.WifiPasswordEnc, &p.ApplianceGuides,
		&p.HouseRules, &p.CheckoutTime, &p.CheckoutInstructions, &p.EmergencyContact,
		&p.NearbyPlaces, &p.DigitalGuide, &p.QRScans, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	return &p, nil
}

const propertyCols = `id, user_id, name, location, description, status, amenities, images,
	local_food, rubbish_and_bins, wifi_name, wifi_password_enc, appliance_guides,
	house_rules, checkout_time, checkout_instructions, emergency_contact,
	nearby_places, digital_guide, qr_scans, created_at, updated_at`

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	b, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encode images: %w", err)
	}
	return string(b), nil
}

// CreateWithinLimit inserts p for its owner only while the owner has fewer
// than limit properties. The count and insert run as one statement so
// concurrent creates cannot overshoot the limit.
func (s *PropertyStore) CreateWithinLimit(ctx context.Context, p *model.Property, limit int) (*model.Property, error) {
	images, err := encodeImages(p.Images)
	if err != nil {
		return nil, err
	}
	status := p.Status
	if status == "" {
		status = "draft"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (
			user_id, name, location, description, status, amenities, images,
			local_food, rubbish_and_bins, wifi_name, wifi_password_enc, appliance_guides,
			house_rules, checkout_time, checkout_instructions, emergency_contact,
			nearby_places, digital_guide
		 )
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE (SELECT COUNT(*) FROM properties WHERE user_id = ?) < ?`,
		p.UserID, p.Name, p.Location, p.Description, status, p.Amenities, images,
		p.LocalFood, p.RubbishAndBins, p.WifiName, p.WifiPasswordEnc, p.ApplianceGuides,
		p.HouseRules, p.CheckoutTime, p.CheckoutInstructions, p.EmergencyContact,
		p.NearbyPlaces, p.DigitalGuide,
		p.UserID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("insert property: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrLimitReached
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *PropertyStore) GetByID(ctx context.Context, id int64) (*model.Property, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+propertyCols+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

func (s *PropertyStore) ListByUser(ctx context.Context, userID int64) ([]model.Property, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+propertyCols+` FROM properties WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	props := []model.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func (s *PropertyStore) CountByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count properties: %w", err)
	}
	return n, nil
}

// Update writes every editable column of p.
func (s *PropertyStore) Update(ctx context.Context, p *model.Property) (*model.Property, error) {
	images, err := encodeImages(p.Images)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE properties SET
			name = ?, location = ?, description = ?, status = ?, amenities = ?, images = ?,
			local_food = ?, rubbish_and_bins = ?, wifi_name = ?, wifi_password_enc = ?,
			appliance_guides = ?, house_rules = ?, checkout_time = ?, checkout_instructions = ?,
			emergency_contact = ?, nearby_places = ?, digital_guide = ?,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		p.Name, p.Location, p.Description, p.Status, p.Amenities, images,
		p.LocalFood, p.RubbishAndBins, p.WifiName, p.WifiPasswordEnc,
		p.ApplianceGuides, p.HouseRules, p.CheckoutTime, p.CheckoutInstructions,
		p.EmergencyContact, p.NearbyPlaces, p.DigitalGuide,
		p.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update property: %w", err)
	}
	return s.GetByID(ctx, p.ID)
}

func (s *PropertyStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	return nil
}

// IncrementScans bumps the QR scan counter and returns the new count.
// It returns sql.ErrNoRows when the property does not exist.
func (s *PropertyStore) IncrementScans(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE properties SET qr_scans = qr_scans + 1 WHERE id = ? RETURNING qr_scans`, id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment scans: %w", err)
	}
	return n, nil
}
