package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/brain/internal/integrity"
	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/storage"
)

func (h *Handlers) auditID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid audit record id")
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps audit store errors to responses.
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "audit record not found")
	case errors.Is(err, storage.ErrLegalHold):
		writeError(w, r, http.StatusConflict, model.ErrCodeLegalHold, "audit record is under legal hold")
	case errors.Is(err, model.ErrInvalidRecord):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		h.writeInternalError(w, r, msg, err)
	}
}

func (h *Handlers) writeAudit(w http.ResponseWriter, r *http.Request, status int, rec model.AuditRecord) {
	valid := integrity.VerifyRecordHash(rec)
	if !valid {
		h.logger.Error("audit record failed integrity check", "audit_id", rec.ID, "run_id", rec.RunID)
	}
	writeJSON(w, r, status, model.AuditView{AuditRecord: rec, IntegrityValid: valid})
}

// HandleGetAudit handles GET /v1/admin/audit/{id}.
func (h *Handlers) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auditID(w, r)
	if !ok {
		return
	}
	rec, err := h.store.GetAudit(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "failed to get audit record", err)
		return
	}
	h.writeAudit(w, r, http.StatusOK, rec)
}

// HandleSetLegalHold handles PUT /v1/admin/audit/{id}/hold.
func (h *Handlers) HandleSetLegalHold(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auditID(w, r)
	if !ok {
		return
	}
	var req model.SetLegalHoldRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := h.store.SetLegalHold(r.Context(), id, req.Hold); err != nil {
		h.writeStoreError(w, r, "failed to set legal hold", err)
		return
	}
	h.logger.Info("audit legal hold changed", "audit_id", id, "hold", req.Hold, "actor", ClaimsFromContext(r.Context()).Actor())

	rec, err := h.store.GetAudit(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "failed to get audit record", err)
		return
	}
	h.writeAudit(w, r, http.StatusOK, rec)
}

// HandleDeleteAudit handles DELETE /v1/admin/audit/{id}. Records are soft
// deleted; the row and its hash remain.
func (h *Handlers) HandleDeleteAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auditID(w, r)
	if !ok {
		return
	}
	var req model.DeleteAuditRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "reason is required")
		return
	}

	actor := ClaimsFromContext(r.Context()).Actor()
	del := model.DeletionRequest{Reason: reason, Actor: actor, Admin: true}
	if err := h.store.SoftDelete(r.Context(), id, del, time.Now().UTC()); err != nil {
		h.writeStoreError(w, r, "failed to delete audit record", err)
		return
	}
	h.logger.Warn("audit record soft-deleted", "audit_id", id, "actor", actor, "reason", reason)

	rec, err := h.store.GetAudit(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "failed to get audit record", err)
		return
	}
	h.writeAudit(w, r, http.StatusOK, rec)
}
