package handler

import (
	"clinic-ledger/internal/adapter/http/dto"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"
	"clinic-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PayoutHandler handles payout and refund endpoints.
type PayoutHandler struct {
	payoutSvc ports.PayoutService
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(payoutSvc ports.PayoutService) *PayoutHandler {
	return &PayoutHandler{payoutSvc: payoutSvc}
}

// InvoicePayout handles POST /api/v1/payouts/invoice.
func (h *PayoutHandler) InvoicePayout(c *gin.Context) {
	var req dto.InvoicePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	txn, err := h.payoutSvc.PayInvoicePayout(c.Request.Context(), ports.InvoicePayoutRequest{
		InvoiceID:         invoiceID,
		CommissionPercent: req.CommissionPercent,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// PractitionerPayout handles POST /api/v1/payouts/practitioner.
func (h *PayoutHandler) PractitionerPayout(c *gin.Context) {
	var req dto.PractitionerPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid practitioner id"))
		return
	}

	svcReq := ports.PractitionerPayoutRequest{
		PractitionerID: practitionerID,
		Amount:         req.Amount,
		AttemptID:      req.AttemptID,
	}
	if req.InvoiceID != nil {
		id, err := uuid.Parse(*req.InvoiceID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid invoice id"))
			return
		}
		svcReq.InvoiceID = &id
	}

	txn, err := h.payoutSvc.PayoutToPractitioner(c.Request.Context(), svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// Refund handles POST /api/v1/refunds.
func (h *PayoutHandler) Refund(c *gin.Context) {
	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	txn, err := h.payoutSvc.ProcessRefund(c.Request.Context(), ports.RefundRequest{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		AttemptID: req.AttemptID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}
