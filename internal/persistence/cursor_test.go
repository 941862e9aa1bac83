package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/smartcheck/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{CheckInAt: time.Date(2025, 5, 2, 8, 30, 0, 123456789, time.UTC), ID: "rec-1"}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.True(t, in.CheckInAt.Equal(out.CheckInAt))
	require.Equal(t, in.ID, out.ID)
}

func TestCursorEmpty(t *testing.T) {
	require.Equal(t, "", EncodeCursor(nil))

	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)

	_, err = DecodeCursor(base64.RawURLEncoding.EncodeToString([]byte("no-separator")))
	require.Error(t, err)

	_, err = DecodeCursor(base64.RawURLEncoding.EncodeToString([]byte("yesterday|rec-1")))
	require.Error(t, err)
}
