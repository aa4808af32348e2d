package models

import (
	"encoding/base64"
	"time"
)

// Message is the decrypted cache form. ID is the de-duplication key and
// Timestamp the sort key. Messages are never mutated after creation.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Text        string
	Timestamp   time.Time
}

func decodeKey(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func encodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
