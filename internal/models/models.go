package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LeadSource classifies why a Lead was touched.
type LeadSource string

const (
	LeadSourceLead        LeadSource = "lead"
	LeadSourceCustomer    LeadSource = "customer"
	LeadSourceAbandonment LeadSource = "abandonment"
)

// EventName is the semantic conversion event forwarded to the attribution API.
type EventName string

const (
	EventPurchase         EventName = "Purchase"
	EventInitiateCheckout EventName = "InitiateCheckout"
	EventLead             EventName = "Lead"
)

// DeliveryStatus tracks the outcome of one outbound delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryError   DeliveryStatus = "ERROR"
)

// Lead is a contact identity, keyed by normalized email.
// Re-ingestion of the same email updates the existing row (upsert).
type Lead struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	Phone      *string    `json:"phone,omitempty"`
	FirstName  *string    `json:"first_name,omitempty"`
	LastName   *string    `json:"last_name,omitempty"`
	ZipCode    *string    `json:"zip_code,omitempty"`
	City       *string    `json:"city,omitempty"`
	State      *string    `json:"state,omitempty"`
	FBP        *string    `json:"fbp,omitempty"`
	FBC        *string    `json:"fbc,omitempty"`
	LeadSource LeadSource `json:"lead_source"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LeadFields is the mutable portion of a Lead applied on every upsert.
type LeadFields struct {
	Phone      *string
	FirstName  *string
	LastName   *string
	ZipCode    *string
	City       *string
	State      *string
	FBP        *string
	FBC        *string
	LeadSource LeadSource
}

// LineItem is one purchased product line.
type LineItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is a realized purchase, keyed by the platform's own order id.
type Order struct {
	ID              uuid.UUID  `json:"id"`
	LeadID          uuid.UUID  `json:"lead_id"`
	PlatformOrderID string     `json:"platform_order_id"`
	Status          string     `json:"status"`
	Amount          float64    `json:"amount"`
	Currency        string     `json:"currency"`
	Products        []LineItem `json:"products"`
	PaymentMethod   *string    `json:"payment_method,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// OrderFields is the mutable portion of an Order applied on every upsert.
type OrderFields struct {
	Status        string
	Amount        float64
	Currency      string
	Products      []LineItem
	PaymentMethod *string
}

// CapiEvent logs one attempt to forward a conversion to the attribution API.
// The Lead reference is nullable so the log survives Lead deletion.
type CapiEvent struct {
	ID         uuid.UUID       `json:"id"`
	LeadID     *uuid.UUID      `json:"lead_id,omitempty"`
	EventName  EventName       `json:"event_name"`
	EventID    string          `json:"event_id"`
	UserAgent  *string         `json:"user_agent,omitempty"`
	IPAddress  *string         `json:"ip_address,omitempty"`
	SourceURL  *string         `json:"source_url,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FBStatus   DeliveryStatus  `json:"fb_status"`
	FBResponse json.RawMessage `json:"fb_response,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Ptr returns a pointer to s, or nil when s is empty. Nullable text columns
// store absent values as NULL rather than "".
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
