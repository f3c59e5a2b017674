// Package laddel implements the HTTP client for the Laddel charging cloud.
// Resource payloads are kept as raw JSON with typed accessors on top, so new
// provider fields pass through untouched.
package laddel

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Session is the current charging session. A nil *Session means no session is
// active, which the provider reports either as a 404 or as an error-key body.
type Session struct {
	SessionID     string
	Type          string
	ChargerID     string
	FacilityID    string
	OperatingMode string
	Raw           json.RawMessage
}

func parseSession(raw []byte) *Session {
	return &Session{
		SessionID:     gjson.GetBytes(raw, "sessionId").String(),
		Type:          gjson.GetBytes(raw, "type").String(),
		ChargerID:     gjson.GetBytes(raw, "chargerId").String(),
		FacilityID:    gjson.GetBytes(raw, "facilityId").String(),
		OperatingMode: gjson.GetBytes(raw, "chargerOperatingMode").String(),
		Raw:           raw,
	}
}

// Subscription is the account's subscription status payload.
type Subscription struct {
	Raw json.RawMessage
}

// FacilityID returns the facility id of the first active subscription, or ""
// when the account has none.
func (s *Subscription) FacilityID() string {
	return gjson.GetBytes(s.Raw, "activeSubscriptions.0.facilityId").String()
}

// Facility is the facility information payload.
type Facility struct {
	Raw json.RawMessage
}

func (f *Facility) ID() string   { return gjson.GetBytes(f.Raw, "facilityId").String() }
func (f *Facility) Name() string { return gjson.GetBytes(f.Raw, "facilityName").String() }

// OperatingMode is the per-charger operating mode payload.
type OperatingMode struct {
	ChargerID string
	Raw       json.RawMessage
}

func (m *OperatingMode) Mode() string { return gjson.GetBytes(m.Raw, "operatingMode").String() }

// ChargerList is the latest-used-chargers payload, most recent first.
type ChargerList struct {
	Raw json.RawMessage
}

// LatestChargerID returns the most recently used charger id, or "".
func (l *ChargerList) LatestChargerID() string {
	return gjson.GetBytes(l.Raw, "chargers.0.chargerId").String()
}

// SessionPage is one page of session history / receipts.
type SessionPage struct {
	Page int
	Raw  json.RawMessage
}
