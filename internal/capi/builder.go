// Package capi builds and delivers server-side conversion events to the
// Meta Conversions API. PII is SHA-256 hashed before it leaves the process;
// absent fields are omitted rather than hashed as empty strings.
package capi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gexcorp/capi-bridge/internal/models"
)

// defaultCountry is assumed when the payload carries no country information.
const defaultCountry = "br"

// UserData carries the hashed identity fields plus unhashed technical ids.
type UserData struct {
	Email      []string `json:"em,omitempty"`
	Phone      []string `json:"ph,omitempty"`
	FirstName  []string `json:"fn,omitempty"`
	LastName   []string `json:"ln,omitempty"`
	ZipCode    []string `json:"zp,omitempty"`
	City       []string `json:"ct,omitempty"`
	State      []string `json:"st,omitempty"`
	Country    []string `json:"country,omitempty"`
	ExternalID []string `json:"external_id,omitempty"`

	ClientIPAddress string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
	FBP             string `json:"fbp,omitempty"`
	FBC             string `json:"fbc,omitempty"`
}

// Content is one line item inside custom_data.contents.
type Content struct {
	ID        string  `json:"id"`
	Quantity  int     `json:"quantity"`
	ItemPrice float64 `json:"item_price"`
}

// CustomData carries the monetary and product detail of the event.
// Currency and Value are always present.
type CustomData struct {
	Currency    string    `json:"currency"`
	Value       float64   `json:"value"`
	Contents    []Content `json:"contents,omitempty"`
	ContentIDs  []string  `json:"content_ids,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	ContentName string    `json:"content_name,omitempty"`
	NumItems    int       `json:"num_items,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
}

// Event is one conversion event in the API's wire format.
type Event struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	ActionSource   string     `json:"action_source"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	UserData       UserData   `json:"user_data"`
	CustomData     CustomData `json:"custom_data"`
	EventID        string     `json:"event_id"`
}

// Envelope is the POST body: a data array plus an optional sandbox routing
// code.
type Envelope struct {
	Data          []Event `json:"data"`
	TestEventCode string  `json:"test_event_code,omitempty"`
}

// EventInput is everything the builder needs to assemble one Event.
type EventInput struct {
	EventName models.EventName
	EventID   string
	// ExternalID improves match quality; hashed like the PII fields.
	ExternalID string

	Lead *models.Lead

	UserAgent string
	IPAddress string
	SourceURL string

	Amount   float64
	Currency string
	OrderID  string

	// Items populates contents when structured line items exist;
	// ContentIDs is the simpler alternative for unstructured product ids.
	Items       []models.LineItem
	ContentIDs  []string
	ContentName string
}

// HashField normalizes (trim, lowercase) and SHA-256 hashes one PII value.
// Empty input returns "" so callers can omit the field entirely.
func HashField(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// hashed wraps a value as the single-element hashed list the API expects,
// or nil when the value is absent.
func hashed(v string) []string {
	h := HashField(v)
	if h == "" {
		return nil
	}
	return []string{h}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// BuildEvent assembles the outbound conversion event for one ingested
// webhook. now is injected so event_time is testable.
func BuildEvent(in EventInput, now time.Time) Event {
	ud := UserData{
		Country:         hashed(defaultCountry),
		ExternalID:      hashed(in.ExternalID),
		ClientIPAddress: in.IPAddress,
		ClientUserAgent: in.UserAgent,
	}
	if in.Lead != nil {
		ud.Email = hashed(in.Lead.Email)
		ud.Phone = hashed(deref(in.Lead.Phone))
		ud.FirstName = hashed(deref(in.Lead.FirstName))
		ud.LastName = hashed(deref(in.Lead.LastName))
		ud.ZipCode = hashed(deref(in.Lead.ZipCode))
		ud.City = hashed(deref(in.Lead.City))
		ud.State = hashed(deref(in.Lead.State))
		ud.FBP = deref(in.Lead.FBP)
		ud.FBC = deref(in.Lead.FBC)
	}

	cd := CustomData{
		Currency:    in.Currency,
		Value:       in.Amount,
		OrderID:     in.OrderID,
		ContentName: in.ContentName,
	}
	if cd.Currency == "" {
		cd.Currency = "BRL"
	}

	if len(in.Items) > 0 {
		contents := make([]Content, 0, len(in.Items))
		numItems := 0
		for _, item := range in.Items {
			qty := item.Quantity
			if qty <= 0 {
				qty = 1
			}
			contents = append(contents, Content{
				ID:        item.Name,
				Quantity:  qty,
				ItemPrice: item.Price,
			})
			numItems += qty
		}
		cd.Contents = contents
		cd.NumItems = numItems
		cd.ContentType = "product"
	} else if len(in.ContentIDs) > 0 {
		cd.ContentIDs = in.ContentIDs
	}

	return Event{
		EventName:      string(in.EventName),
		EventTime:      now.Unix(),
		ActionSource:   "website",
		EventSourceURL: in.SourceURL,
		UserData:       ud,
		CustomData:     cd,
		EventID:        in.EventID,
	}
}

// Marshal renders an envelope exactly as it is sent, for persistence on the
// delivery log.
func (e Envelope) Marshal() (json.RawMessage, error) {
	return json.Marshal(e)
}
