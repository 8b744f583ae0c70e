package scan

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyCode is returned when a decoder hands over a blank payload.
var ErrEmptyCode = errors.New("scan: code value is empty")

// Location is a device position in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate reports whether the coordinates are on the globe.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("scan: latitude %v out of range", l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("scan: longitude %v out of range", l.Longitude)
	}
	return nil
}

// ScanEvent is a pending or completed clock action.
//
// Fields are exported for serialization only; treat a ScanEvent as a value
// and never mutate it after NewEvent returns.
type ScanEvent struct {
	ID         string    `json:"id"`
	CodeValue  string    `json:"codeValue"`
	Location   *Location `json:"location"`
	CapturedAt time.Time `json:"capturedAt"`
}

// NewEvent builds a ScanEvent from a decoded code.
//
// The code is trimmed and NFC-normalized so that visually identical payloads
// from different decoders compare equal. The location is copied; nil means
// geolocation was unavailable. capturedAt is stored in UTC.
func NewEvent(code string, loc *Location, capturedAt time.Time, ids IDGenerator) (ScanEvent, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return ScanEvent{}, ErrEmptyCode
	}

	var locCopy *Location
	if loc != nil {
		if err := loc.Validate(); err != nil {
			return ScanEvent{}, err
		}
		l := *loc
		locCopy = &l
	}

	return ScanEvent{
		ID:         ids.Generate(),
		CodeValue:  normalized,
		Location:   locCopy,
		CapturedAt: capturedAt.UTC(),
	}, nil
}

// NormalizeCode trims whitespace and applies Unicode NFC.
func NormalizeCode(code string) string {
	return norm.NFC.String(strings.TrimSpace(code))
}
