/*
handlers.go - HTTP API handlers for meters and date/time utilities

PURPOSE:
  Exposes the meter service and the datetime package via REST API. Handles
  HTTP request/response and JSON serialization, and delegates to the
  domain packages.

ENDPOINTS:
  Meters:
    GET    /api/meters                 List all meters with live values
    POST   /api/meters                 Create meter from JSON
    GET    /api/meters/{id}            Get one meter
    DELETE /api/meters/{id}            Stop and delete a meter
    POST   /api/meters/{id}/spend      Decrease (accept/reject)
    POST   /api/meters/{id}/refund     Increase (accept/reject)
    GET    /api/meters/{id}/entries    Ledger, newest first (?limit=)

  Date/time:
    GET    /api/datetime/format        ?value=&layout=&template=
    GET    /api/datetime/range         ?start=&end=&layout=&template=

  Presets:
    GET    /api/presets                List predefined meters
    POST   /api/presets/load           Create a meter from a preset

  Admin:
    POST   /api/admin/checkpoint       Save every live value now

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (factory.NumberFactory for meter configs)
  3. Call meter.Service or datetime
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid config, bad amount, malformed JSON or date
  - 404: Meter not found
  - 409: Reused idempotency key
  - 500: Internal errors

  A rejected spend/refund is NOT an error: it returns 200 with
  "accepted": false.

SEE ALSO:
  - dto.go: Request/response data structures
  - presets.go: Predefined meter loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/regen-engine/datetime"
	"github.com/warp/regen-engine/factory"
	"github.com/warp/regen-engine/meter"
)

// maxRangeDays caps /api/datetime/range so one request cannot allocate an
// unbounded list.
const maxRangeDays = 3660

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Meters        *meter.Service
	NumberFactory *factory.NumberFactory
	Clock         datetime.Clock

	logger zerolog.Logger
}

// NewHandler creates a new handler around the meter service.
func NewHandler(meters *meter.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		Meters:        meters,
		NumberFactory: factory.NewNumberFactory(),
		Clock:         datetime.SystemClock{},
		logger:        logger,
	}
}

// Health reports liveness and the number of live meters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Meters: len(h.Meters.List())})
}

// =============================================================================
// METER HANDLERS
// =============================================================================

// ListMeters returns all live meters.
func (h *Handler) ListMeters(w http.ResponseWriter, r *http.Request) {
	statuses := h.Meters.List()

	dtos := make([]MeterDTO, len(statuses))
	for i, st := range statuses {
		dtos[i] = toMeterDTO(st)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// CreateMeter creates and starts a new meter.
func (h *Handler) CreateMeter(w http.ResponseWriter, r *http.Request) {
	var req CreateMeterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg, err := h.NumberFactory.FromJSON(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid meter configuration", err)
		return
	}

	st, err := h.Meters.Create(r.Context(), req.Name, cfg)
	if err != nil {
		h.writeServiceError(w, "Failed to create meter", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMeterDTO(st))
}

// GetMeter returns a single meter.
func (h *Handler) GetMeter(w http.ResponseWriter, r *http.Request) {
	st, err := h.Meters.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "Failed to get meter", err)
		return
	}

	writeJSON(w, http.StatusOK, toMeterDTO(st))
}

// DeleteMeter stops a meter and removes it.
func (h *Handler) DeleteMeter(w http.ResponseWriter, r *http.Request) {
	if err := h.Meters.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, "Failed to delete meter", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Spend decreases a meter.
// POST /api/meters/{id}/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, meter.EntrySpend)
}

// Refund increases a meter.
// POST /api/meters/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, meter.EntryRefund)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request, typ meter.EntryType) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required", nil)
		return
	}

	id := chi.URLParam(r, "id")
	var (
		res meter.Result
		err error
	)
	if typ == meter.EntrySpend {
		res, err = h.Meters.Spend(r.Context(), id, *req.Amount, req.IdempotencyKey)
	} else {
		res, err = h.Meters.Refund(r.Context(), id, *req.Amount, req.IdempotencyKey)
	}
	if err != nil {
		h.writeServiceError(w, fmt.Sprintf("Failed to %s", typ), err)
		return
	}

	writeJSON(w, http.StatusOK, MoveResponse{
		Accepted: res.Accepted,
		Value:    res.Value,
		EntryID:  res.Entry.ID,
	})
}

// ListEntries returns a meter's ledger, newest first.
// GET /api/meters/{id}/entries?limit=50
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := h.Meters.Entries(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeServiceError(w, "Failed to load entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Checkpoint saves every live meter value immediately.
// POST /api/admin/checkpoint
func (h *Handler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	saved, err := h.Meters.Checkpoint(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Checkpoint failed", err)
		return
	}

	writeJSON(w, http.StatusOK, CheckpointResponse{Saved: saved})
}

// =============================================================================
// DATE/TIME HANDLERS
// =============================================================================

// FormatDate parses value (or takes now) and renders it with template.
// GET /api/datetime/format?value=2015-01-01&layout=Y-m-d&template=w, f d
func (h *Handler) FormatDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	d, err := datetime.CreateWithClock(h.Clock, q.Get("value"), q.Get("layout"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	writeJSON(w, http.StatusOK, FormatResponse{
		Timestamp: d.Now(),
		Formatted: d.Format(q.Get("template")),
	})
}

// DateRange lists one date per day from start to end inclusive.
// GET /api/datetime/range?start=2014-12-01&end=2014-12-31&layout=Y-m-d
func (h *Handler) DateRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	layout := q.Get("layout")

	if q.Get("start") == "" || q.Get("end") == "" {
		writeError(w, http.StatusBadRequest, "start and end are required", nil)
		return
	}

	start, err := datetime.CreateWithClock(h.Clock, q.Get("start"), layout)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start", err)
		return
	}
	end, err := datetime.CreateWithClock(h.Clock, q.Get("end"), layout)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end", err)
		return
	}

	if days := (end.Now() - start.Now()) / datetime.MillisPerDay; days >= maxRangeDays {
		writeError(w, http.StatusBadRequest, "Range too large",
			fmt.Errorf("%d days exceeds the limit of %d", days+1, maxRangeDays))
		return
	}

	template := q.Get("template")
	dates := start.DatesInRange(end)
	formatted := make([]string, len(dates))
	for i, d := range dates {
		formatted[i] = d.Format(template)
	}

	writeJSON(w, http.StatusOK, RangeResponse{Count: len(formatted), Dates: formatted})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps meter.Service errors to status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case meter.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Meter not found", err)
	case meter.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case meter.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, meter.ErrServiceClosed):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.logger.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
