package httpgin

import "time"

type CreateBookingRequest struct {
	BusID       int64    `json:"bus_id" binding:"required"`
	SeatNumbers []string `json:"seat_numbers" binding:"required,min=1,dive,required"`
	TravelDate  string   `json:"travel_date" binding:"required"`
}

type CreateBookingResponse struct {
	BookingID  string `json:"booking_id"`
	Status     string `json:"status"`
	TotalCents int    `json:"total_cents"`
}

type InitiatePaymentRequest struct {
	BookingID string `json:"booking_id" binding:"required,uuid"`
	Gateway   string `json:"gateway" binding:"required"`
}

type InitiatePaymentResponse struct {
	PaymentID   string `json:"payment_id"`
	RedirectURL string `json:"redirect_url"`
}

// swiftPayCallback is the JSON body SwiftPay posts to our callback URL.
// charge_ref echoes the correlation ID we issued at initiation.
type swiftPayCallback struct {
	ChargeRef string `json:"charge_ref" binding:"required"`
	Status    string `json:"status"`
}

type CallbackResponse struct {
	Outcome string `json:"outcome"`
}

type VerifyCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

// PublishLocationRequest uses pointer fields so that lat 0 (equator) and
// lng 0 (prime meridian) pass the required check; range validation happens
// in the tracking service.
type PublishLocationRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

type CreateBusRequest struct {
	Name        string   `json:"name" binding:"required"`
	Origin      string   `json:"origin" binding:"required"`
	Destination string   `json:"destination" binding:"required"`
	Stops       []string `json:"stops"`
	DistanceKM  int      `json:"distance_km"`
	DurationMin int      `json:"duration_min"`
	DepartsAt   string   `json:"departs_at" binding:"required"`
	ArrivesAt   string   `json:"arrives_at" binding:"required"`
	Recurrence  string   `json:"recurrence"`
	SeatRows    int      `json:"seat_rows" binding:"required,gt=0"`
	SeatCols    int      `json:"seat_cols" binding:"required,gt=0"`
	PriceCents  int      `json:"price_cents" binding:"required,gt=0"`
}

type CreateBusResponse struct {
	BusID int64 `json:"bus_id"`
}

type SetBusActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
