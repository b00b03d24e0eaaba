package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-notification-relay/pkg/dispatch"
)

// Dispatcher is the core send seam the HTTP surface shares with the broker path.
type Dispatcher interface {
	Dispatch(ctx context.Context, task dispatch.NotificationTask) (dispatch.DeliveryResult, error)
}

type NotificationAPI struct {
	Dispatcher Dispatcher
	Receipts   dispatch.ReceiptStore
	Logger     *slog.Logger
}

func NewNotificationAPI(dispatcher Dispatcher, receipts dispatch.ReceiptStore, logger *slog.Logger) *NotificationAPI {
	if receipts == nil {
		receipts = dispatch.NopReceiptStore{}
	}
	return &NotificationAPI{
		Dispatcher: dispatcher,
		Receipts:   receipts,
		Logger:     logger.With("component", "NotificationAPI"),
	}
}

type SendRequest struct {
	Token        string                 `json:"token"`
	Notification *dispatch.Notification `json:"notification"`
	Data         map[string]any         `json:"data,omitempty"`
}

type BulkSendRequest struct {
	Tokens       []string               `json:"tokens"`
	Notification *dispatch.Notification `json:"notification"`
	Data         map[string]any         `json:"data,omitempty"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (api *NotificationAPI) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Notification service is up and running"})
}

func (api *NotificationAPI) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" || req.Notification == nil {
		response.WriteJSONError(w, http.StatusBadRequest, "Device token and notification are required")
		return
	}

	api.dispatch(w, r, dispatch.NotificationTask{
		To:           dispatch.SingleRecipient(req.Token),
		Notification: req.Notification,
		Data:         req.Data,
		Type:         string(dispatch.KindSingle),
	})
}

func (api *NotificationAPI) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Tokens) == 0 || req.Notification == nil {
		response.WriteJSONError(w, http.StatusBadRequest, "An array of device tokens and a notification are required")
		return
	}

	api.dispatch(w, r, dispatch.NotificationTask{
		To:           dispatch.RecipientList(req.Tokens),
		Notification: req.Notification,
		Data:         req.Data,
		Type:         string(dispatch.KindBulk),
	})
}

func (api *NotificationAPI) dispatch(w http.ResponseWriter, r *http.Request, task dispatch.NotificationTask) {
	result, err := api.Dispatcher.Dispatch(r.Context(), task)
	if err != nil {
		var verr *dispatch.ValidationError
		if errors.As(err, &verr) {
			response.WriteJSONError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		api.Logger.Error("Dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to send notification")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: result})
}

// GetReceipt serves the last recorded state of a broker message.
func (api *NotificationAPI) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing message id")
		return
	}

	receipt, err := api.Receipts.Fetch(r.Context(), id)
	if errors.Is(err, dispatch.ErrReceiptNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "delivery receipt not found")
		return
	}
	if err != nil {
		api.Logger.Error("Failed to fetch receipt", "msg_id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: receipt})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
