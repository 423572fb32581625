package model

import "time"

type Property struct {
	ID                   int64     `json:"id"`
	UserID               int64     `json:"userId"`
	Name                 string    `json:"name"`
	Location             string    `json:"location"`
	Description          string    `json:"description"`
	Status               string    `json:"status"`
	Amenities            string    `json:"amenities"`
	Images               []string  `json:"images"`
	LocalFood            string    `json:"localFood"`
	RubbishAndBins       string    `json:"rubbishAndBins"`
	WifiName             string    `json:"wifiName"`
	WifiPassword         string    `json:"wifiPassword"`
	ApplianceGuides      string    `json:"applianceGuides"`
	HouseRules           string    `json:"houseRules"`
	CheckoutTime         string    `json:"checkoutTime"`
	CheckoutInstructions string    `json:"checkoutInstructions"`
	EmergencyContact     string    `json:"emergencyContact"`
	NearbyPlaces         string    `json:"nearbyPlaces"`
	DigitalGuide         string    `json:"digitalGuide"`
	QRScans              int64     `json:"qrScans"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`

	// WifiPasswordEnc is the sealed form persisted in the database.
	WifiPasswordEnc []byte `json:"-"`
}
