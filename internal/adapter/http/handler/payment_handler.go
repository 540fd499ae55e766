package handler

import (
	"time"

	"clinic-ledger/internal/adapter/http/dto"
	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"
	"clinic-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles payment application endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// GatewayPayment handles POST /api/v1/payments/gateway. Gateways retry
// webhooks, so replays of the same provider reference return the original
// transaction with 201.
func (h *PaymentHandler) GatewayPayment(c *gin.Context) {
	var req dto.GatewayPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	txn, err := h.paymentSvc.ApplyGatewayPayment(c.Request.Context(), ports.GatewayPaymentRequest{
		InvoiceID:   invoiceID,
		ProviderRef: req.ProviderRef,
		Amount:      req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// ManualPayment handles POST /api/v1/payments/manual.
func (h *PaymentHandler) ManualPayment(c *gin.Context) {
	var req dto.ManualPaymentRequest
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

	txn, err := h.paymentSvc.ApplyManualPayment(c.Request.Context(), ports.ManualPaymentRequest{
		InvoiceID:  invoiceID,
		Method:     domain.PaymentMethod(req.Method),
		Amount:     req.Amount,
		ReceiptRef: req.ReceiptRef,
		AttemptID:  req.AttemptID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// toTransactionResponse converts domain.Transaction to DTO.
func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:              tx.ID.String(),
		Amount:          tx.Amount,
		Type:            string(tx.Type),
		DirectionSource: string(tx.DirectionSource),
		ProviderRef:     tx.ProviderRef,
		Status:          string(tx.Status),
		CreatedAt:       tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.FromWalletID != nil {
		s := tx.FromWalletID.String()
		resp.FromWalletID = &s
	}
	if tx.ToWalletID != nil {
		s := tx.ToWalletID.String()
		resp.ToWalletID = &s
	}
	if tx.InvoiceID != nil {
		s := tx.InvoiceID.String()
		resp.InvoiceID = &s
	}
	if tx.PaymentMethod != nil {
		m := string(*tx.PaymentMethod)
		resp.PaymentMethod = &m
	}
	return resp
}

// toTransactionList wraps a page of transactions.
func toTransactionList(txns []domain.Transaction, total int64, page, pageSize int) dto.TransactionListResponse {
	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
