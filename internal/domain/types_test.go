package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from    BookingStatus
		to      BookingStatus
		allowed bool
	}{
		{BookingPending, BookingConfirmed, true},
		{BookingPending, BookingCancelled, true},
		{BookingPending, BookingCompleted, false},
		{BookingConfirmed, BookingCancelled, true},
		{BookingConfirmed, BookingCompleted, true},
		{BookingConfirmed, BookingPending, false},
		{BookingCancelled, BookingPending, false},
		{BookingCancelled, BookingConfirmed, false},
		{BookingCompleted, BookingCancelled, false},
		{BookingCompleted, BookingConfirmed, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestBookingStatus_Terminal(t *testing.T) {
	assert.False(t, BookingPending.Terminal())
	assert.False(t, BookingConfirmed.Terminal())
	assert.True(t, BookingCancelled.Terminal())
	assert.True(t, BookingCompleted.Terminal())
}

func TestSeatNumbers(t *testing.T) {
	seats := SeatNumbers(2, 4)
	require.Len(t, seats, 8)
	assert.Equal(t, []string{"1A", "1B", "1C", "1D", "2A", "2B", "2C", "2D"}, seats)
}

func TestSeatNumbers_SkipsLetterI(t *testing.T) {
	seats := SeatNumbers(1, 10)
	require.Len(t, seats, 10)
	assert.NotContains(t, seats, "1I")
	assert.Contains(t, seats, "1J")
	assert.Contains(t, seats, "1K")
}

func TestSeatNumbers_InvalidLayout(t *testing.T) {
	assert.Nil(t, SeatNumbers(0, 4))
	assert.Nil(t, SeatNumbers(4, 0))
	assert.Nil(t, SeatNumbers(4, 11))
	assert.Nil(t, SeatNumbers(-1, -1))
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(0, 0))
	assert.True(t, ValidCoordinates(-90, -180))
	assert.True(t, ValidCoordinates(90, 180))
	assert.False(t, ValidCoordinates(90.1, 0))
	assert.False(t, ValidCoordinates(-90.1, 0))
	assert.False(t, ValidCoordinates(0, 180.1))
	assert.False(t, ValidCoordinates(0, -180.1))
}
