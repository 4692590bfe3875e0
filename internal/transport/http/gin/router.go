package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/narvaro/busline/internal/domain"
	redisrepo "github.com/narvaro/busline/internal/repository/redis"
	"github.com/narvaro/busline/internal/service"
	"github.com/narvaro/busline/internal/service/account"
	"github.com/narvaro/busline/internal/service/booking"
	"github.com/narvaro/busline/internal/service/fleet"
	"github.com/narvaro/busline/internal/service/inventory"
	"github.com/narvaro/busline/internal/service/payment"
	svctracking "github.com/narvaro/busline/internal/service/tracking"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	jwtSecret string,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health + metrics
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public API
	r.GET("/buses", handleListBuses(svcs))
	r.GET("/buses/:id", handleGetBus(svcs))
	r.GET("/buses/:id/availability", handleGetAvailability(svcs))
	r.GET("/buses/:id/location/stream", handleLocationStream(svcs))
	r.GET("/locations", handleLocationSnapshot(svcs))

	// Gateway callbacks. The payload is only a hint; the handler triggers a
	// second round trip against the gateway before anything is confirmed.
	r.POST("/payments/callbacks/swiftpay", handleSwiftPayCallback(svcs))
	r.POST("/payments/callbacks/transpay", handleTransPayCallback(svcs))

	// Passenger API
	auth := r.Group("/", Auth(jwtSecret))
	{
		auth.POST("/bookings", handleCreateBooking(svcs, idem, limiter))
		auth.GET("/bookings", handleListBookings(svcs))
		auth.GET("/bookings/:id", handleGetBooking(svcs))
		auth.POST("/bookings/:id/cancel", handleCancelBooking(svcs))

		auth.POST("/payments", handleInitiatePayment(svcs))

		auth.POST("/account/verification", handleRequestCode(svcs))
		auth.POST("/account/verification/confirm", handleVerifyCode(svcs))
	}

	// Driver API
	driver := r.Group("/", Auth(jwtSecret), RequireRole("driver", "admin"))
	{
		driver.POST("/buses/:id/location", handlePublishLocation(svcs))
	}

	// Admin API
	admin := r.Group("/admin", Auth(jwtSecret), RequireRole("admin"))
	{
		admin.POST("/buses", handleCreateBus(svcs))
		admin.PATCH("/buses/:id/active", handleSetBusActive(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List active buses
// @Param    limit  query  int  false "page size"
// @Param    offset query  int  false "offset"
// @Success  200  {array}  domain.Bus
// @Router   /buses [get]
func handleListBuses(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 100)
		offset := parseIntDefault(c.Query("offset"), 0)

		buses, err := svcs.Fleet.ListActive(c.Request.Context(), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, buses, "public, max-age=30", true)
	}
}

// @Summary  Get bus with last known location
// @Param    id  path  int  true  "Bus ID"
// @Success  200  {object}  domain.Bus
// @Failure  404  {object}  ErrorResponse
// @Router   /buses/{id} [get]
func handleGetBus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Fleet.GetBus(c.Request.Context(), busID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, b, "public, max-age=60", true)
	}
}

// @Summary  Seat availability map
// @Param    id  path  int  true  "Bus ID"
// @Success  200  {object}  map[string]bool
// @Failure  404  {object}  ErrorResponse
// @Router   /buses/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		seats, err := svcs.Inventory.Availability(c.Request.Context(), busID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, seats, "public, max-age=10", true)
	}
}

// @Summary  Create booking (idempotent)
// @Param    req body  CreateBookingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CreateBookingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seats unavailable / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /bookings [post]
func handleCreateBooking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBookingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		travelDate, err := parseRFC3339(req.TravelDate)
		if err != nil {
			badRequest(c, "invalid travel_date (RFC3339)")
			return
		}

		uid := userID(c)

		if limiter != nil {
			allowed, _, retryAfter, err := limiter.Allow(
				c.Request.Context(),
				"user:"+strconv.FormatInt(uid, 10),
			)
			if err == nil && !allowed {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				c.JSON(
					http.StatusTooManyRequests,
					ErrorResponse{Error: "rate limited"},
				)
				return
			}
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBooking(req.BusID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		b, err := svcs.Booking.Create(
			c.Request.Context(),
			uid,
			req.BusID,
			req.SeatNumbers,
			travelDate,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := CreateBookingResponse{
			BookingID:  b.ID.String(),
			Status:     string(b.Status),
			TotalCents: b.TotalCents,
		}

		if idemStorageKey != "" && idem != nil {
			payload, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(payload))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  List own bookings
// @Param    limit  query  int  false "page size"
// @Param    offset query  int  false "offset"
// @Success  200  {array}  domain.Booking
// @Router   /bookings [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 50)
		offset := parseIntDefault(c.Query("offset"), 0)

		out, err := svcs.Booking.ListByUser(c.Request.Context(), userID(c), limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Get own booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Router   /bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Booking.Get(c.Request.Context(), bookingID, userID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// @Summary  Cancel own booking and release its seats
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  204
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "already terminal"
// @Router   /bookings/{id}/cancel [post]
func handleCancelBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		bookingID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		if err := svcs.Booking.Cancel(c.Request.Context(), bookingID, userID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Initiate payment for a pending booking
// @Param    req body  InitiatePaymentRequest true "payload"
// @Success  201 {object} InitiatePaymentResponse
// @Failure  409 {object} ErrorResponse
// @Failure  502 {object} ErrorResponse "gateway unreachable"
// @Router   /payments [post]
func handleInitiatePayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InitiatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			badRequest(c, "invalid booking_id")
			return
		}

		h, err := svcs.Payment.Initiate(
			c.Request.Context(),
			userID(c),
			bookingID,
			domain.GatewayProvider(req.Gateway),
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, InitiatePaymentResponse{
			PaymentID:   h.PaymentID.String(),
			RedirectURL: h.RedirectURL,
		})
	}
}

// @Summary  SwiftPay payment callback
// @Param    req body  swiftPayCallback true "payload"
// @Success  200 {object} CallbackResponse
// @Failure  404 {object} ErrorResponse
// @Failure  502 {object} ErrorResponse "verification unreachable, retry later"
// @Router   /payments/callbacks/swiftpay [post]
func handleSwiftPayCallback(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req swiftPayCallback
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		reconcile(c, svcs, domain.GatewaySwiftPay, req.ChargeRef)
	}
}

// @Summary  TransPay payment callback
// @Param    txn_ref formData string true "correlation reference"
// @Success  200 {object} CallbackResponse
// @Failure  404 {object} ErrorResponse
// @Failure  502 {object} ErrorResponse "verification unreachable, retry later"
// @Router   /payments/callbacks/transpay [post]
func handleTransPayCallback(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := c.PostForm("txn_ref")
		if ref == "" {
			badRequest(c, "missing txn_ref")
			return
		}
		reconcile(c, svcs, domain.GatewayTransPay, ref)
	}
}

func reconcile(
	c *gin.Context,
	svcs *service.Services,
	provider domain.GatewayProvider,
	ref string,
) {
	correlationID, err := uuid.Parse(ref)
	if err != nil {
		badRequest(c, "invalid correlation reference")
		return
	}

	outcome, err := svcs.Payment.Reconcile(c.Request.Context(), provider, correlationID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, CallbackResponse{Outcome: string(outcome)})
}

// @Summary  Request a verification code
// @Success  202
// @Router   /account/verification [post]
func handleRequestCode(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svcs.Account.RequestCode(c.Request.Context(), userID(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	}
}

// @Summary  Confirm a verification code
// @Param    req body  VerifyCodeRequest true "payload"
// @Success  204
// @Failure  409 {object} ErrorResponse "expired / mismatch"
// @Router   /account/verification/confirm [post]
func handleVerifyCode(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := svcs.Account.VerifyCode(c.Request.Context(), userID(c), req.Code); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  Publish a location sample for a bus
// @Param    id  path  int  true  "Bus ID"
// @Param    req body  PublishLocationRequest true "payload"
// @Success  202
// @Failure  400 {object} ErrorResponse "coordinates out of range"
// @Router   /buses/{id}/location [post]
func handlePublishLocation(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req PublishLocationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := svcs.Tracking.Publish(
			c.Request.Context(),
			busID,
			*req.Lat,
			*req.Lng,
		); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	}
}

// @Summary  Stream location updates for a bus (SSE)
// @Param    id  path  int  true  "Bus ID"
// @Produce  text/event-stream
// @Router   /buses/{id}/location/stream [get]
func handleLocationStream(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		connID := uuid.New().String()
		ch := svcs.Tracking.Subscribe(connID, busID)
		defer svcs.Tracking.Drop(connID)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		// heartbeat keeps intermediaries from closing an idle stream
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case s, open := <-ch:
				if !open {
					return false
				}
				c.SSEvent("location", s)
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}

// @Summary  Last known locations for all active buses
// @Success  200 {object} map[int64]domain.Location
// @Router   /locations [get]
func handleLocationSnapshot(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := svcs.Tracking.Snapshot(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, snap, "public, max-age=5", true)
	}
}

// @Summary  Create bus and generate its seat map
// @Param    req body  CreateBusRequest true "payload"
// @Success  201 {object} CreateBusResponse
// @Failure  400 {object} ErrorResponse "bad layout"
// @Router   /admin/buses [post]
func handleCreateBus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		departs, err := parseRFC3339(req.DepartsAt)
		if err != nil {
			badRequest(c, "invalid departs_at (RFC3339)")
			return
		}
		arrives, err := parseRFC3339(req.ArrivesAt)
		if err != nil {
			badRequest(c, "invalid arrives_at (RFC3339)")
			return
		}

		b := &domain.Bus{
			Name: req.Name,
			Route: domain.Route{
				Origin:      req.Origin,
				Destination: req.Destination,
				Stops:       req.Stops,
				DistanceKM:  req.DistanceKM,
				DurationMin: req.DurationMin,
			},
			Schedule: domain.Schedule{
				DepartsAt:  departs,
				ArrivesAt:  arrives,
				Recurrence: req.Recurrence,
			},
			SeatRows:   req.SeatRows,
			SeatCols:   req.SeatCols,
			PriceCents: req.PriceCents,
			Active:     true,
		}

		id, err := svcs.Fleet.CreateBus(c.Request.Context(), b)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateBusResponse{BusID: id})
	}
}

// @Summary  Toggle whether a bus accepts bookings
// @Param    id  path  int  true  "Bus ID"
// @Param    req body  SetBusActiveRequest true "payload"
// @Success  204
// @Failure  404 {object} ErrorResponse
// @Router   /admin/buses/{id}/active [patch]
func handleSetBusActive(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req SetBusActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := svcs.Fleet.SetActive(c.Request.Context(), busID, *req.Active); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// booking service
	case errors.Is(err, booking.ErrAccountNotVerified):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "account not verified"})
		return
	case errors.Is(err, booking.ErrBusNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "bus not found"})
		return
	case errors.Is(err, booking.ErrBusInactive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "bus is not active"})
		return
	case errors.Is(err, booking.ErrSeatsUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seats unavailable"})
		return
	case errors.Is(err, booking.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	case errors.Is(err, booking.ErrAlreadyCancelled):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking already terminal"})
		return
	case errors.Is(err, booking.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid booking state"})
		return
	// payment service
	case errors.Is(err, payment.ErrInvalidBooking):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "booking missing or not pending"})
		return
	case errors.Is(err, payment.ErrUnknownPayment):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown payment"})
		return
	case errors.Is(err, payment.ErrUnsupportedGateway):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unsupported gateway"})
		return
	case errors.Is(err, payment.ErrAmountMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "amount mismatch"})
		return
	case errors.Is(err, payment.ErrGatewayUnreachable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "gateway unreachable"})
		return
	// account service
	case errors.Is(err, account.ErrNoCode):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no code outstanding"})
		return
	case errors.Is(err, account.ErrCodeExpired):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "code expired"})
		return
	case errors.Is(err, account.ErrCodeMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "code mismatch"})
		return
	case errors.Is(err, account.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	// inventory service
	case errors.Is(err, inventory.ErrBusNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "bus not found"})
		return
	case errors.Is(err, inventory.ErrSeatsUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seats unavailable"})
		return
	// fleet service
	case errors.Is(err, fleet.ErrBusNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "bus not found"})
		return
	case errors.Is(err, fleet.ErrBadLayout):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid seat layout"})
		return
	// tracking service
	case errors.Is(err, svctracking.ErrInvalidCoordinates):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "coordinates out of range"})
		return
	case errors.Is(err, svctracking.ErrBusNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "bus not found"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
