package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/bizsync/registry-sync/pkg/app/errors"
	apphttp "github.com/bizsync/registry-sync/pkg/app/http"
	"github.com/bizsync/registry-sync/pkg/syncer"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// SyncRequest is the optional body of POST /sync.
type SyncRequest struct {
	Date string `json:"date,omitempty" validate:"omitempty,datetime=20060102"`
}

// WebhookRequest is the body of POST /webhook/sync and POST /sync/reset.
type WebhookRequest struct {
	Secret  string `json:"secret,omitempty"`
	Trigger string `json:"trigger,omitempty" validate:"omitempty,oneof=manual scheduled"`
	Force   bool   `json:"force,omitempty"`
	Date    string `json:"date,omitempty" validate:"omitempty,datetime=20060102"`
}

// Summary is the run-scoped part of a sync response.
type Summary struct {
	RunID          string   `json:"runId"`
	TotalProcessed int      `json:"totalProcessed"`
	NewRecords     int      `json:"newRecords"`
	UpdatedRecords int      `json:"updatedRecords"`
	Duplicates     int      `json:"duplicates"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors"`
	DurationMs     int64    `json:"durationMs"`
}

// SyncResponse is returned by the sync triggers on success.
type SyncResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Summary Summary `json:"summary"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	auth    *WebhookAuth
	logger  *zap.Logger
}

// RegisterRoutes registers the sync trigger endpoints on the given chi router
func RegisterRoutes(r chi.Router, service Service, auth *WebhookAuth, logger *zap.Logger) {
	h := &HTTP{
		service: service,
		auth:    auth,
		logger:  logger,
	}

	r.Post("/sync", apphttp.HandleError(h.sync))
	r.Get("/sync/status", apphttp.HandleError(h.status))
	r.Post("/sync/reset", apphttp.HandleError(h.reset))
	r.Post("/webhook/sync", apphttp.HandleError(h.webhook))
}

func (h *HTTP) sync(w http.ResponseWriter, r *http.Request) error {
	var req SyncRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	res, err := h.service.Sync(r.Context(), req.Date)
	if err != nil {
		return syncError(err)
	}

	h.writeJSON(w, http.StatusOK, toSyncResponse(res, "sync completed"))
	return nil
}

func (h *HTTP) webhook(w http.ResponseWriter, r *http.Request) error {
	var req WebhookRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := h.auth.Verify(r, req.Secret); err != nil {
		h.logger.Warn("Webhook authentication failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return apperrors.UnAuthorizedError(err, "authentication failed")
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	h.logger.Info("Webhook sync received", zap.String("trigger", trigger), zap.Bool("force", req.Force))

	res, err := h.service.Sync(r.Context(), req.Date)
	if err != nil {
		return syncError(err)
	}

	h.writeJSON(w, http.StatusOK, toSyncResponse(res, "sync completed via webhook"))
	return nil
}

func (h *HTTP) status(w http.ResponseWriter, r *http.Request) error {
	resp, err := h.service.Status(r.Context())
	if err != nil {
		return apperrors.GeneralError(err)
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) reset(w http.ResponseWriter, r *http.Request) error {
	var req WebhookRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := h.auth.Verify(r, req.Secret); err != nil {
		h.logger.Warn("Reset authentication failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return apperrors.UnAuthorizedError(err, "authentication failed")
	}

	if err := h.service.Reset(r.Context()); err != nil {
		if isConflict(err) {
			return apperrors.ConflictError(err, "sync in progress, cannot reset")
		}
		return apperrors.GeneralError(err)
	}

	h.writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "sync state reset"})
	return nil
}

// decode reads an optional JSON body into dst and validates it. An empty body leaves dst zero-valued.
func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			return apperrors.BadRequestError(err, "invalid JSON")
		}
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.BadRequestError(err, "invalid request: date must be YYYYMMDD and trigger manual or scheduled")
	}
	return nil
}

func syncError(err error) error {
	if isConflict(err) {
		return apperrors.ConflictError(err, "sync already in progress")
	}
	return apperrors.InternalError(err, "sync failed")
}

func toSyncResponse(res *syncer.Result, message string) SyncResponse {
	return SyncResponse{
		Success: true,
		Message: message,
		Summary: Summary{
			RunID:          res.RunID,
			TotalProcessed: res.TotalProcessed,
			NewRecords:     res.NewRecords,
			UpdatedRecords: res.UpdatedRecords,
			Duplicates:     res.Duplicates,
			Skipped:        res.Skipped,
			Errors:         res.Errors,
			DurationMs:     res.Duration.Milliseconds(),
		},
	}
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}
