package domain

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Cursor is a keyset pagination position.
// Results are ordered by (Timestamp desc, ImageID desc); a page continues
// strictly after the cursor, so records inserted later never shift a page
// that was already fetched.
type Cursor struct {
	Timestamp int64  `json:"t"`
	ImageID   string `json:"i"`
}

// CursorFor returns the position of a record in recency order.
func CursorFor(ts time.Time, imageID string) Cursor {
	return Cursor{Timestamp: ts.UTC().UnixNano(), ImageID: imageID}
}

// IsZero reports whether the cursor points at the start of a listing.
func (c Cursor) IsZero() bool {
	return c.Timestamp == 0 && c.ImageID == ""
}

// After reports whether the position (ts, imageID) comes after the cursor
// in (timestamp desc, imageID desc) order.
func (c Cursor) After(ts int64, imageID string) bool {
	if c.IsZero() {
		return true
	}
	if ts != c.Timestamp {
		return ts < c.Timestamp
	}
	return imageID < c.ImageID
}

// Encode returns the opaque token form of the cursor.
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	data, _ := json.Marshal(c) //nolint:errcheck // plain struct cannot fail
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque token. An empty token is the zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, NewValidationError("cursor", "malformed token")
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, NewValidationError("cursor", "malformed token")
	}
	if c.ImageID == "" {
		return Cursor{}, NewValidationError("cursor", "missing position")
	}
	return c, nil
}
