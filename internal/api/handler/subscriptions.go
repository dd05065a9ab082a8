package handler

import (
	"encoding/json"
	"net/http"

	"github.com/climaguard/alerts/internal/api/respond"
	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/subscription"
)

// pushSubscription mirrors the browser PushSubscription JSON.
type pushSubscription struct {
	Endpoint string            `json:"endpoint"`
	Keys     subscription.Keys `json:"keys"`
}

// SubscribeRequest accepts the nested browser shape
// {subscription:{endpoint,keys},location} as well as the flat
// {endpoint,keys,location} shape.
type SubscribeRequest struct {
	Subscription *pushSubscription `json:"subscription,omitempty"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Keys         subscription.Keys `json:"keys"`
	Location     *geo.Point        `json:"location"`
}

func (req SubscribeRequest) resolve() (string, subscription.Keys) {
	if req.Subscription != nil && req.Subscription.Endpoint != "" {
		return req.Subscription.Endpoint, req.Subscription.Keys
	}
	return req.Endpoint, req.Keys
}

// UnsubscribeRequest is the body of the unsubscribe route.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// MessageResponse is the body of the subscription routes.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// Subscribe registers a push endpoint at a location, or moves an existing one.
// @Summary Subscribe to location alerts
// @Description Registers a Web Push subscription at a location. Re-subscribing from the same endpoint updates keys and location.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param body body SubscribeRequest true "Push subscription and location"
// @Success 200 {object} MessageResponse
// @Success 201 {object} MessageResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /subscriptions/subscribe [post]
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON")
		return
	}

	endpoint, keys := req.resolve()
	sub, created, err := h.subs.Upsert(r.Context(), endpoint, keys, req.Location, r.UserAgent())
	if err != nil {
		if apperr.IsValidation(err) {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Subscription and location are required", err.Error())
			return
		}
		h.logger.Error("Subscribe failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}

	if created {
		h.logger.Info("Subscription created", "id", sub.ID, "location", sub.Location.String())
		respond.WriteJSONObject(w, http.StatusCreated, MessageResponse{Message: "Subscription saved successfully", ID: sub.ID})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, MessageResponse{Message: "Subscription updated successfully", ID: sub.ID})
}

// Unsubscribe removes a push endpoint. Unknown endpoints succeed.
// @Summary Unsubscribe
// @Description Removes the subscription registered for the endpoint.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param body body UnsubscribeRequest true "Endpoint to remove"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /subscriptions/unsubscribe [post]
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON")
		return
	}

	if err := h.subs.Remove(r.Context(), req.Endpoint); err != nil {
		if apperr.IsValidation(err) {
			respond.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Endpoint is required")
			return
		}
		h.logger.Error("Unsubscribe failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, MessageResponse{Message: "Unsubscribed successfully"})
}

// VAPIDPublicKey returns the application server key browsers subscribe with.
// @Summary VAPID public key
// @Description Returns the VAPID public key used as applicationServerKey in PushManager.subscribe.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} respond.ErrorResponse
// @Router /push/vapid-public-key [get]
func (h *Handler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil || h.cfg.VAPIDPublicKey == "" {
		respond.WriteError(w, http.StatusServiceUnavailable, "PUSH_DISABLED", "Push notifications are not configured")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]string{"publicKey": h.cfg.VAPIDPublicKey})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
