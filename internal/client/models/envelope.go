package models

import (
	"encoding/json"
	"time"
)

// Envelope is the wire form of a message: ciphertext plus routing metadata.
// Field names follow the server contract (snake_case, "encrypted_message").
type Envelope struct {
	ID          string
	SenderID    string
	RecipientID string
	Ciphertext  string
	Timestamp   time.Time
	// StoreHistory is false in anonymous mode; the server then must not
	// persist the envelope.
	StoreHistory bool
}

type envelopeWire struct {
	ID           string `json:"id,omitempty"`
	SenderID     string `json:"sender_id"`
	SenderUserID string `json:"sender_user_id,omitempty"`
	RecipientID  string `json:"recipient_id"`
	Ciphertext   string `json:"encrypted_message"`
	Timestamp    string `json:"timestamp,omitempty"`
	StoreHistory bool   `json:"store_history"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	w := envelopeWire{
		ID:           e.ID,
		SenderID:     e.SenderID,
		RecipientID:  e.RecipientID,
		Ciphertext:   e.Ciphertext,
		StoreHistory: e.StoreHistory,
	}
	if !e.Timestamp.IsZero() {
		w.Timestamp = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

// UnmarshalJSON tolerates the aliases and omissions real delivery events
// exhibit: sender may come as sender_user_id, id and timestamp may be absent
// (the caller defaults them), timestamps may lack a zone.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.ID = w.ID
	e.SenderID = NormalizeID(w.SenderID, w.SenderUserID)
	e.RecipientID = w.RecipientID
	e.Ciphertext = w.Ciphertext
	e.StoreHistory = w.StoreHistory
	e.Timestamp = time.Time{}
	if w.Timestamp != "" {
		ts, err := ParseTimestamp(w.Timestamp)
		if err != nil {
			return err
		}
		e.Timestamp = ts
	}
	return nil
}

// timestampLayouts are tried in order. The history store emits naive
// ISO-8601 without a zone suffix; treat those as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the timestamp formats upstream collaborators send.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
