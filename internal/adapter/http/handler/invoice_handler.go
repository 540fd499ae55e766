package handler

import (
	"strconv"
	"time"

	"clinic-ledger/internal/adapter/http/dto"
	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/pkg/apperror"
	"clinic-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceHandler handles invoice endpoints.
type InvoiceHandler struct {
	invoiceSvc   ports.InvoiceService
	reportingSvc ports.ReportingService
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(invoiceSvc ports.InvoiceService, reportingSvc ports.ReportingService) *InvoiceHandler {
	return &InvoiceHandler{invoiceSvc: invoiceSvc, reportingSvc: reportingSvc}
}

// Create handles POST /api/v1/invoices.
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req dto.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	invoiceableID, err := uuid.Parse(req.InvoiceableID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoiceable id"))
		return
	}
	customerOwnerID, err := uuid.Parse(req.CustomerOwnerID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid customer owner id"))
		return
	}

	lineItems, err := toDomainLineItems(req.LineItems)
	if err != nil {
		response.Error(c, err)
		return
	}

	svcReq := ports.CreateInvoiceRequest{
		InvoiceableKind:   domain.InvoiceableKind(req.InvoiceableKind),
		InvoiceableID:     invoiceableID,
		CustomerOwnerKind: domain.OwnerKind(req.CustomerOwnerKind),
		CustomerOwnerID:   customerOwnerID,
		Subtotal:          req.Subtotal,
		TaxTotal:          req.TaxTotal,
		LineItems:         lineItems,
	}
	if req.PractitionerID != nil {
		pid, err := uuid.Parse(*req.PractitionerID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid practitioner id"))
			return
		}
		svcReq.PrimaryPractitioner = &pid
	}

	inv, err := h.invoiceSvc.Create(c.Request.Context(), svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toInvoiceResponse(inv, nil))
}

// GeneratePractitioner handles POST /api/v1/invoices/practitioner.
func (h *InvoiceHandler) GeneratePractitioner(c *gin.Context) {
	var req dto.PractitionerInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid practitioner id"))
		return
	}

	events := make([]domain.BillableEvent, 0, len(req.Events))
	for _, ev := range req.Events {
		id, err := uuid.Parse(ev.ID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid event id"))
			return
		}
		events = append(events, domain.BillableEvent{
			ID:          id,
			Price:       ev.Price,
			CompletedAt: ev.CompletedAt,
		})
	}

	inv, err := h.invoiceSvc.GeneratePractitionerInvoice(c.Request.Context(), ports.PractitionerInvoiceRequest{
		PractitionerID: practitionerID,
		Events:         events,
		TargetAmount:   req.TargetAmount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toInvoiceResponse(inv, nil))
}

// Get handles GET /api/v1/invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}

	inv, err := h.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	remaining, err := h.invoiceSvc.RemainingBalance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toInvoiceResponse(inv, &remaining))
}

// ListTransactions handles GET /api/v1/invoices/:id/transactions.
func (h *InvoiceHandler) ListTransactions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid invoice id"))
		return
	}
	page, pageSize := paging(c)

	txns, total, err := h.reportingSvc.ListInvoiceTransactions(c.Request.Context(), id, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionList(txns, total, page, pageSize))
}

// paging reads page/page_size query parameters with defaults.
func paging(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func toDomainLineItems(items []dto.LineItem) ([]domain.LineItem, error) {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		li := domain.LineItem{Description: it.Description, Amount: it.Amount}
		if it.EventID != nil {
			id, err := uuid.Parse(*it.EventID)
			if err != nil {
				return nil, apperror.Validation("invalid line item event id")
			}
			li.EventID = &id
		}
		out = append(out, li)
	}
	return out, nil
}

func toInvoiceResponse(inv *domain.Invoice, remaining *decimal.Decimal) dto.InvoiceResponse {
	resp := dto.InvoiceResponse{
		ID:              inv.ID.String(),
		InvoiceableKind: string(inv.InvoiceableKind),
		InvoiceableID:   inv.InvoiceableID.String(),
		Subtotal:        inv.Subtotal,
		TaxTotal:        inv.TaxTotal,
		Price:           inv.Price,
		Status:          string(inv.Status),
		Remaining:       remaining,
		CreatedAt:       inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.PaymentMethod != nil {
		m := string(*inv.PaymentMethod)
		resp.PaymentMethod = &m
	}
	if inv.PaidAt != nil {
		s := inv.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &s
	}
	for _, li := range inv.Meta.LineItems {
		item := dto.LineItem{Description: li.Description, Amount: li.Amount}
		if li.EventID != nil {
			id := li.EventID.String()
			item.EventID = &id
		}
		resp.LineItems = append(resp.LineItems, item)
	}
	return resp
}
