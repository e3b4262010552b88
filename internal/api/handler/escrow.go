package handler

import (
	"encoding/json"
	"net/http"

	"github.com/voyagepay/settlement-engine/internal/service"
)

// EscrowHandler serves the escrow lifecycle endpoints.
type EscrowHandler struct {
	escrows *service.EscrowService
}

// NewEscrowHandler creates a new EscrowHandler instance.
func NewEscrowHandler(escrows *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{escrows: escrows}
}

// GetEscrow handles GET /v1/escrows/{id}.
func (h *EscrowHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	escrowID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	escrow, err := h.escrows.GetEscrow(r.Context(), escrowID)
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, escrow)
}

// ReleaseRequest is the request body for the release endpoint.
type ReleaseRequest struct {
	Amount         int64  `json:"amount,omitempty"`
	ReleaseAll     bool   `json:"release_all,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Damages        int64  `json:"damages,omitempty"`
	Penalties      int64  `json:"penalties,omitempty"`
	AdditionalFees int64  `json:"additional_fees,omitempty"`
}

// Release handles POST /v1/escrows/{id}/release.
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	escrowID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	resp, err := h.escrows.ReleaseEscrow(r.Context(), service.ReleaseEscrowRequest{
		EscrowID:       escrowID,
		Amount:         req.Amount,
		ReleaseAll:     req.ReleaseAll,
		Reason:         req.Reason,
		Damages:        req.Damages,
		Penalties:      req.Penalties,
		AdditionalFees: req.AdditionalFees,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, resp)
}

// DisputeRequest is the request body for the dispute endpoint.
type DisputeRequest struct {
	Reason   string `json:"reason"`
	Evidence string `json:"evidence,omitempty"`
}

// Dispute handles POST /v1/escrows/{id}/dispute.
func (h *EscrowHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	escrowID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	escrow, err := h.escrows.DisputeEscrow(r.Context(), service.DisputeEscrowRequest{
		EscrowID: escrowID,
		Reason:   req.Reason,
		Evidence: req.Evidence,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, escrow)
}

// ResolveRequest is the request body for the resolve endpoint.
type ResolveRequest struct {
	Resolution     string `json:"resolution"`
	TravelerAmount int64  `json:"traveler_amount,omitempty"`
	Note           string `json:"note,omitempty"`
}

// Resolve handles POST /v1/escrows/{id}/resolve. Admin only.
func (h *EscrowHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	escrowID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	if !isAdmin {
		RespondError(w, http.StatusForbidden, "forbidden", "dispute resolution requires the admin role")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	resp, err := h.escrows.ResolveDispute(r.Context(), service.ResolveDisputeRequest{
		EscrowID:       escrowID,
		Resolution:     req.Resolution,
		TravelerAmount: req.TravelerAmount,
		ResolvedBy:     &actorID,
		Note:           req.Note,
	})
	if err != nil {
		RespondServiceError(w, err)
		return
	}
	RespondData(w, http.StatusOK, resp)
}
