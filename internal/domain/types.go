package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// transitions lists the allowed booking status changes. Cancelled and
// Completed are terminal.
var transitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCancelled, BookingCompleted},
}

// CanTransition reports whether a booking may move from s to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether a booking in status s is immutable.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type GatewayProvider string

const (
	GatewaySwiftPay GatewayProvider = "swiftpay"
	GatewayTransPay GatewayProvider = "transpay"
)

type Route struct {
	Origin      string
	Destination string
	Stops       []string
	DistanceKM  int
	DurationMin int
}

type Schedule struct {
	DepartsAt  time.Time
	ArrivesAt  time.Time
	Recurrence string // "", "daily", "weekly"
}

type Bus struct {
	ID           int64
	Name         string
	Route        Route
	Schedule     Schedule
	SeatRows     int
	SeatCols     int
	TotalSeats   int
	PriceCents   int
	Active       bool
	LastLocation *Location
}

// Seat is a single element of a bus's seat map. A seat is either free
// (BookingID nil) or held by exactly one booking.
type Seat struct {
	BusID     int64
	Number    string
	Booked    bool
	BookingID *uuid.UUID
	HeldAt    *time.Time
}

type Booking struct {
	ID          uuid.UUID
	UserID      int64
	BusID       int64
	SeatNumbers []string
	TravelDate  time.Time
	TotalCents  int
	Status      BookingStatus
	PaymentID   *uuid.UUID
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// Payment row. The row ID doubles as the correlation identifier echoed back
// by the gateway on callback. At most one completed payment exists per
// booking; status moves only Initiated→Completed or Initiated→Failed.
type Payment struct {
	ID            uuid.UUID
	UserID        int64
	BookingID     uuid.UUID
	TransactionID string
	AmountCents   int
	Gateway       GatewayProvider
	Status        PaymentStatus
	CreatedAt     time.Time
}

// VerificationCode gates booking eligibility. The code value is stored
// hashed and is single-use.
type VerificationCode struct {
	UserID    int64
	CodeHash  string
	ExpiresAt time.Time
}

type Location struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

type LocationSample struct {
	BusID int64     `json:"bus_id"`
	Lat   float64   `json:"lat"`
	Lng   float64   `json:"lng"`
	At    time.Time `json:"at"`
}

// ValidCoordinates checks a sample against WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

const seatColumns = "ABCDEFGHJK"

// SeatNumbers generates the deterministic seat map for a rows×cols layout:
// "1A", "1B", ..., "2A", ... Column letters skip "I". The map is generated
// once when the bus is created and never regenerated.
func SeatNumbers(rows, cols int) []string {
	if rows <= 0 || cols <= 0 || cols > len(seatColumns) {
		return nil
	}
	out := make([]string, 0, rows*cols)
	for r := 1; r <= rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, fmt.Sprintf("%d%c", r, seatColumns[c]))
		}
	}
	return out
}
