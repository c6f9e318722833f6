package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 13, 45, 0, 0, time.UTC)

	w, err := NormalizeWindow(nil, nil, 48*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC), w.To)
	assert.Equal(t, time.Date(2024, 5, 8, 13, 0, 0, 0, time.UTC), w.From)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w, err = NormalizeWindow(&from, nil, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, from, w.From)

	_, err = NormalizeWindow(&now, &from, time.Hour, now)
	assert.Error(t, err)
}
