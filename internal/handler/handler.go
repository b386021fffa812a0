package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"awards-miles-api/internal/awards"
	"awards-miles-api/internal/models"
	"awards-miles-api/internal/service"
	"awards-miles-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	clock       func() time.Time
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		clock:       time.Now,
	}
}

// Routes mounts the awards endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/customers/{customer_id}", func(r chi.Router) {
		r.Post("/account", h.RegisterToProgram)
		r.Post("/account/activate", h.ActivateAccount)
		r.Post("/account/deactivate", h.DeactivateAccount)
		r.Put("/profile", h.UpsertProfile)
		r.Post("/miles", h.RegisterMiles)
		r.Get("/miles", h.ListMiles)
		r.Post("/miles/removals", h.RemoveMiles)
		r.Get("/balance", h.Balance)
	})
}

// RegisterToProgram handles POST /customers/{customer_id}/account
func (h *Handler) RegisterToProgram(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}

	// The body is optional here.
	var req models.CreateAccountRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	response, err := h.service.RegisterToProgram(r.Context(), customerID(r), req.Active, asOf)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, response)
}

// ActivateAccount handles POST /customers/{customer_id}/account/activate
func (h *Handler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.ActivateAccount(r.Context(), customerID(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// DeactivateAccount handles POST /customers/{customer_id}/account/deactivate
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.DeactivateAccount(r.Context(), customerID(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// UpsertProfile handles PUT /customers/{customer_id}/profile
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	response, err := h.service.UpsertProfile(r.Context(), customerID(r), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// RegisterMiles handles POST /customers/{customer_id}/miles
func (h *Handler) RegisterMiles(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}

	var req models.RegisterMilesRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.TransitID = validation.SanitizeString(req.TransitID)

	if err := validation.ValidateRegisterMiles(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		batch models.MilesBatch
		err   error
	)
	if req.NonExpiring {
		batch, err = h.service.RegisterNonExpiringMiles(r.Context(), customerID(r), req.Amount, asOf)
	} else {
		batch, err = h.service.RegisterMiles(r.Context(), customerID(r), req.TransitID, asOf)
	}
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, batch)
}

// RemoveMiles handles POST /customers/{customer_id}/miles/removals
func (h *Handler) RemoveMiles(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}

	var req models.RemoveMilesRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	response, err := h.service.RemoveMiles(r.Context(), customerID(r), req.Miles, asOf)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// ListMiles handles GET /customers/{customer_id}/miles
func (h *Handler) ListMiles(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}

	response, err := h.service.ListMiles(r.Context(), customerID(r), asOf)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// Balance handles GET /customers/{customer_id}/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}

	response, err := h.service.Balance(r.Context(), customerID(r), asOf)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

func customerID(r *http.Request) string {
	return validation.SanitizeString(chi.URLParam(r, "customer_id"))
}

// asOf parses the optional 'now' query parameter, defaulting to the server
// clock. It writes the error response itself when the parameter is invalid.
func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	nowParam := r.URL.Query().Get("now")
	if nowParam == "" {
		return h.clock().UTC(), true
	}

	parsed, err := validation.ValidateTimeString(validation.SanitizeString(nowParam))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid 'now' parameter, must be RFC3339 format")
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// decode reads a JSON body into dst. It writes the error response itself
// and reports false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return true
			}
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, awards.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, awards.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, awards.ErrInactiveAccount), errors.Is(err, awards.ErrAccountExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	h.respondError(w, status, message)
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
