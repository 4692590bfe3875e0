package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "busline_bookings_created_total",
			Help: "Pending bookings created",
		},
	)

	bookingsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "busline_bookings_cancelled_total",
			Help: "Bookings cancelled, by trigger",
		},
		[]string{"trigger"},
	)

	holdsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "busline_seat_holds_rejected_total",
			Help: "Seat holds that lost to an existing hold",
		},
	)

	gatewayVerify = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "busline_gateway_verify_seconds",
			Help:    "Latency of gateway verification round trips",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"gateway", "outcome"},
	)

	locationPublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "busline_location_publishes_total",
			Help: "Accepted location samples",
		},
	)

	locationSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "busline_location_subscribers",
			Help: "Current live-location subscribers per bus",
		},
		[]string{"bus_id"},
	)
)

func BookingCreated() {
	bookingsCreated.Inc()
}

func BookingCancelled(trigger string) {
	bookingsCancelled.WithLabelValues(trigger).Inc()
}

func HoldRejected() {
	holdsRejected.Inc()
}

func GatewayVerify(gateway, outcome string, d time.Duration) {
	gatewayVerify.WithLabelValues(gateway, outcome).Observe(d.Seconds())
}

func LocationPublished() {
	locationPublishes.Inc()
}

func SetLocationSubscribers(busID int64, n int) {
	locationSubscribers.WithLabelValues(strconv.FormatInt(busID, 10)).Set(float64(n))
}
