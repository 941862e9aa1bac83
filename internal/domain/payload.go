package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// GeoPayload is the signed position reading produced by the mobile client.
type GeoPayload struct {
	Latitude  float64
	Longitude float64
	// Timestamp is the capture time in epoch milliseconds.
	Timestamp int64
	DeviceID  string
}

// Canonical returns the byte sequence covered by the payload signature:
//
//	{"latitude":<num>,"longitude":<num>,"timestamp":<int>,"deviceId":<string>}
//
// Field order is fixed. Numbers always carry a fraction digit and switch to E
// notation outside [1e-3, 1e7), which is what the mobile client's encoder emits.
func (p GeoPayload) Canonical() ([]byte, error) {
	lat, err := formatCoordinate(p.Latitude)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	lng, err := formatCoordinate(p.Longitude)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	device, err := quoteString(p.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("deviceId: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"latitude":`)
	buf.WriteString(lat)
	buf.WriteString(`,"longitude":`)
	buf.WriteString(lng)
	buf.WriteString(`,"timestamp":`)
	buf.WriteString(strconv.FormatInt(p.Timestamp, 10))
	buf.WriteString(`,"deviceId":`)
	buf.Write(device)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// quoteString JSON-quotes s the way the client does: <, > and & and the line
// and paragraph separators U+2028/U+2029 are written raw.
func quoteString(s string) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte('"')
	start := 0
	for i, r := range s {
		if r != '\u2028' && r != '\u2029' {
			continue
		}
		if err := writeQuotedBody(&out, s[start:i]); err != nil {
			return nil, err
		}
		out.WriteRune(r)
		start = i + utf8.RuneLen(r)
	}
	if err := writeQuotedBody(&out, s[start:]); err != nil {
		return nil, err
	}
	out.WriteByte('"')
	return out.Bytes(), nil
}

// writeQuotedBody appends the escaped contents of s, without quotes.
func writeQuotedBody(out *bytes.Buffer, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	quoted := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	out.Write(quoted[1 : len(quoted)-1])
	return nil
}
