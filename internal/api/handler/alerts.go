package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/api/respond"
	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/cache"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/notifications"
)

// AlertsCachePrefix namespaces location lookups in the response cache.
const AlertsCachePrefix = "alerts:location:"

// operatorDispatchTimeout bounds an operator alert's create and delivery pass.
const operatorDispatchTimeout = 2 * time.Minute

// CreateAlertResponse is returned by the operator route. DispatchError is set
// when the alert was committed but the delivery pass failed.
type CreateAlertResponse struct {
	Alert         alert.Alert                  `json:"alert"`
	Dispatch      notifications.DispatchResult `json:"dispatch"`
	DispatchError string                       `json:"dispatchError,omitempty"`
}

// GetAlertsForLocation returns the active alerts covering a point.
// @Summary Active alerts for a location
// @Description Returns unexpired alerts whose affected area contains the point, newest first, at most 10.
// @Tags alerts
// @Produce json
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Success 200 {array} alert.Alert
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /alerts/location [get]
func (h *Handler) GetAlertsForLocation(w http.ResponseWriter, r *http.Request) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")
	if latStr == "" || lngStr == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_COORDINATES", "Latitude and longitude are required")
		return
	}

	lat, errLat := strconv.ParseFloat(latStr, 64)
	lng, errLng := strconv.ParseFloat(lngStr, 64)
	if errLat != nil || errLng != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_COORDINATES", "Latitude and longitude must be numbers")
		return
	}
	p := geo.Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_COORDINATES", "Coordinates out of range", err.Error())
		return
	}

	cacheKey := AlertsCachePrefix + strconv.FormatFloat(lat, 'f', -1, 64) + ":" + strconv.FormatFloat(lng, 'f', -1, 64)
	ttl := h.alertsTTL()

	if data, etag, left, ok := h.cache.Lookup(cacheKey); ok {
		if cacheCheck(r, etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, left, true)
		return
	}

	alerts, err := h.alerts.FindActiveNear(r.Context(), p)
	if err != nil {
		h.logger.Error("Find alerts failed", "lat", lat, "lng", lng, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}

	data, err := json.Marshal(alerts)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	ttl = expiryCappedTTL(alerts, ttl, h.cache.Now())
	etag := h.cache.Set(cacheKey, data, ttl)
	if cacheCheck(r, etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}

// GetAlert returns one alert by ID, expired or not.
// @Summary Get alert
// @Description Returns a single alert. Target of the push payload deep link.
// @Tags alerts
// @Produce json
// @Param alertID path string true "Alert ID"
// @Success 200 {object} alert.Alert
// @Failure 404 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /alerts/{alertID} [get]
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertID")
	a, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("Get alert failed", "alert_id", id, "error", err)
		}
		respond.WriteAppError(w, err, "Alert not found")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, a)
}

// CreateAlert commits an operator candidate and dispatches it synchronously.
// @Summary Create operator alert
// @Description Commits an alert for a GeoJSON polygon or point+radius area and pushes it to every subscriber inside. Requires the operator bearer token.
// @Tags alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body alert.CandidateRequest true "Alert candidate"
// @Success 201 {object} CreateAlertResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 401 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /alerts [post]
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alert.CandidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON")
		return
	}
	c, err := req.Candidate()
	if err != nil {
		respond.WriteAppError(w, err, "Invalid alert candidate")
		return
	}

	// The alert is committed before fan-out, so delivery must not stop when
	// the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), operatorDispatchTimeout)
	defer cancel()

	a, res, err := h.processor.ProcessCandidate(ctx, c, notifications.SourceOperator)
	if err != nil && a.ID == "" {
		if !isClientError(err) {
			h.logger.Error("Create alert failed", "type", c.Type, "error", err)
		}
		respond.WriteAppError(w, err, "Alert could not be created")
		return
	}
	h.cache.PurgePrefix(AlertsCachePrefix)

	resp := CreateAlertResponse{Alert: a, Dispatch: res}
	if err != nil {
		h.logger.Warn("Operator alert committed but dispatch failed", "alert_id", a.ID, "error", err)
		resp.DispatchError = err.Error()
	}
	respond.WriteJSONObject(w, http.StatusCreated, resp)
}

func (h *Handler) alertsTTL() time.Duration {
	if h.cfg != nil {
		return h.cfg.AlertsCacheTTL
	}
	return 0
}

// expiryCappedTTL shortens ttl so a cached lookup never outlives the earliest
// expiresAt among the alerts it holds.
func expiryCappedTTL(alerts []alert.Alert, ttl time.Duration, now time.Time) time.Duration {
	for _, a := range alerts {
		if left := a.ExpiresAt.Sub(now); left < ttl {
			ttl = left
		}
	}
	return ttl
}

func cacheCheck(r *http.Request, etag string) bool {
	return cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag)
}

func isClientError(err error) bool {
	return apperr.IsValidation(err) || apperr.IsNotFound(err)
}
