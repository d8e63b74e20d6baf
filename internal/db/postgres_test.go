package db

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantLimit, wantSkip int
	}{
		{1, 10, 10, 0},
		{3, 10, 10, 20},
		{0, 0, defaultPageSize, 0},
		{2, maxPageSize + 1, defaultPageSize, defaultPageSize},
	}
	for _, tt := range tests {
		limit, skip := pageBounds(tt.page, tt.limit)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantSkip, skip)
	}
}

func TestNullFloatRoundTrip(t *testing.T) {
	assert.Nil(t, nullFloat(math.NaN()))
	assert.Nil(t, nullFloat(math.Inf(1)))
	require.NotNil(t, nullFloat(0.25))
	assert.Equal(t, 0.25, *nullFloat(0.25))

	assert.True(t, math.IsNaN(fromNull(nil)))
	v := 2.0
	assert.Equal(t, 2.0, fromNull(&v))
}

func TestUUIDConversion(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, id, fromUUID(toUUID(id)))
	assert.False(t, toUUID("not-a-uuid").Valid)
	assert.Equal(t, "", fromUUID(toUUID("")))
}

func TestCellText(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "", cellText(nil))
	assert.Equal(t, "aave.eth", cellText("aave.eth"))
	assert.Equal(t, id.String(), cellText([16]byte(id)))
	assert.Equal(t, "2024-05-01T12:00:00Z", cellText(ts))
	assert.Equal(t, `{"p1":2}`, cellText(map[string]any{"p1": 2.0}))
	assert.Equal(t, "3", cellText(int64(3)))
}
