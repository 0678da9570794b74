package transactions_repo

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	original := Cursor{
		CreatedAt: time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC),
		ID:        "tx-42",
	}

	token := EncodeCursor(original)
	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(original.CreatedAt))
	assert.Equal(t, original.ID, decoded.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%% not base64 %%%")
	assert.Error(t, err)

	// Valid base64, wrong shape.
	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("no separator")))
	assert.Error(t, err)

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("not-a-time|tx-1")))
	assert.Error(t, err)

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("2025-03-14T09:26:53Z|")))
	assert.Error(t, err)
}
