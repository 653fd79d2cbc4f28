package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-booking/internal/booking"
	"github.com/clinicore/clinic-booking/internal/metrics"
)

// BookingService is what the handlers need from the booking core.
type BookingService interface {
	Book(ctx context.Context, p booking.BookParams) (*booking.BookingResult, error)
	Modify(ctx context.Context, p booking.ModifyParams) (*booking.BookingResult, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID, cancelledBy, reason string) (*booking.BookingResult, error)
	CheckIn(ctx context.Context, appointmentID uuid.UUID) (*booking.Appointment, error)
	Complete(ctx context.Context, appointmentID uuid.UUID) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]booking.SlotView, error)

	DeactivateDoctor(ctx context.Context, doctorID uuid.UUID, actor string) (*booking.CascadeResult, error)
	DeactivateTreatmentType(ctx context.Context, treatmentTypeID uuid.UUID, actor string) (*booking.CascadeResult, error)
	SuspendSchedule(ctx context.Context, scheduleID uuid.UUID, actor string) (*booking.CascadeResult, error)
	AdjustSlotCapacity(ctx context.Context, slotID uuid.UUID, newTotalMinutes int) (*booking.TimeSlot, error)
	RemoveBlacklist(ctx context.Context, patientID uuid.UUID, role string) error
}

type RouterConfig struct {
	Service BookingService
	Metrics *metrics.Metrics
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
	Log     zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health and metrics endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Booking endpoints
	r.Post("/bookings", createBookingHandler(cfg.Service, cfg.Metrics))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
	r.Patch("/bookings/{id}", modifyBookingHandler(cfg.Service, cfg.Metrics))
	r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Service, cfg.Metrics))
	r.Post("/bookings/{id}/check-in", checkInHandler(cfg.Service))
	r.Post("/bookings/{id}/complete", completeHandler(cfg.Service))

	r.Get("/patients/{id}/bookings", listPatientBookingsHandler(cfg.Service))
	r.Get("/doctors/{id}/slots", listDoctorSlotsHandler(cfg.Service))

	// Administrative endpoints
	r.Route("/admin", func(admin chi.Router) {
		admin.Post("/doctors/{id}/deactivate", deactivateDoctorHandler(cfg.Service))
		admin.Post("/treatment-types/{id}/deactivate", deactivateTreatmentHandler(cfg.Service))
		admin.Post("/schedules/{id}/suspend", suspendScheduleHandler(cfg.Service))
		admin.Patch("/slots/{id}", adjustSlotHandler(cfg.Service))
		admin.Delete("/blacklist/{patientId}", removeBlacklistHandler(cfg.Service))
	})

	return r
}
