package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)

	got, ok := ParseTime("2024-10-10T10:10:10Z")
	require.True(t, ok)
	assert.True(t, want.Equal(got))

	got, ok = ParseTime(strconv.FormatInt(want.Unix(), 10))
	require.True(t, ok)
	assert.True(t, want.Equal(got))
	assert.Equal(t, time.UTC, got.Location())

	got, ok = ParseTime("2024-10-10")
	require.True(t, ok)
	assert.Equal(t, want.Truncate(24*time.Hour), got)

	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
	_, ok = ParseTime("")
	assert.False(t, ok)
}

func TestParseWindow(t *testing.T) {
	from, to, err := ParseWindow("", "")
	require.NoError(t, err)
	assert.Nil(t, from)
	assert.Nil(t, to)

	from, to, err = ParseWindow("2024-01-01", "2024-02-01")
	require.NoError(t, err)
	require.NotNil(t, from)
	require.NotNil(t, to)
	assert.Equal(t, 31*24*time.Hour, to.Sub(*from))

	_, _, err = ParseWindow("2024-02-01", "2024-01-01")
	assert.Error(t, err)
	_, _, err = ParseWindow("soon", "")
	assert.Error(t, err)
}
