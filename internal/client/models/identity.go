// Package models defines the client-side data model: identities, messages,
// and the wire envelope. External collaborators are inconsistent about field
// naming ("id" vs "user_id"), so every type that crosses a boundary
// normalizes here before anything enters the engine.
package models

import "encoding/json"

// Identity is a registered user as seen by this client. ID is the only
// stable correlation key; PublicKey is present once learned from the
// directory.
type Identity struct {
	ID        string
	Username  string
	PublicKey []byte
}

// identityWire mirrors the directory response. The server labels the
// correlation key "id" in some responses and "user_id" in others; both must
// resolve to the same identity.
type identityWire struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	PublicKey string `json:"public_key"`
}

// UnmarshalJSON accepts either id or user_id, preferring id when both are
// present, and decodes the base64 public key if any.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var w identityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	i.ID = NormalizeID(w.ID, w.UserID)
	i.Username = w.Username
	i.PublicKey = nil
	if w.PublicKey != "" {
		key, err := decodeKey(w.PublicKey)
		if err != nil {
			return err
		}
		i.PublicKey = key
	}
	return nil
}

func (i Identity) MarshalJSON() ([]byte, error) {
	w := identityWire{ID: i.ID, Username: i.Username}
	if len(i.PublicKey) > 0 {
		w.PublicKey = encodeKey(i.PublicKey)
	}
	return json.Marshal(w)
}

// NormalizeID collapses the id/user_id aliasing: the first non-empty
// candidate wins. One person must never fork into two identities because an
// upstream response renamed the field.
func NormalizeID(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
