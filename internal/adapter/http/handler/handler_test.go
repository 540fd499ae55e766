package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinic-ledger/internal/adapter/http/dto"
	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/internal/core/ports/mocks"
	"clinic-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func postJSON(t *testing.T, body interface{}) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	c.Request.Header.Set("Content-Type", "application/json")
	return w, c
}

func getRequest(t *testing.T, params gin.Params) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = params
	return w, c
}

func responseData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

// --- Invoice Handler Tests ---

func TestCreateInvoice_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	invoiceSvc := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoiceSvc, mocks.NewMockReportingService(ctrl))

	patientID := uuid.New()
	appointmentID := uuid.New()
	created := &domain.Invoice{
		ID:              uuid.New(),
		InvoiceableKind: domain.InvoiceableSystem,
		InvoiceableID:   appointmentID,
		Subtotal:        decimal.RequireFromString("140.00"),
		TaxTotal:        decimal.RequireFromString("10.00"),
		Price:           decimal.RequireFromString("150.00"),
		Status:          domain.InvoiceStatusPending,
		CreatedAt:       time.Now().UTC(),
	}

	invoiceSvc.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.CreateInvoiceRequest) (*domain.Invoice, error) {
			assert.Equal(t, domain.InvoiceableSystem, req.InvoiceableKind)
			assert.Equal(t, patientID, req.CustomerOwnerID)
			assert.True(t, req.Subtotal.Equal(decimal.RequireFromString("140.00")))
			return created, nil
		})

	w, c := postJSON(t, dto.CreateInvoiceRequest{
		InvoiceableKind:   "system",
		InvoiceableID:     appointmentID.String(),
		CustomerOwnerKind: "patient",
		CustomerOwnerID:   patientID.String(),
		Subtotal:          decimal.RequireFromString("140.00"),
		TaxTotal:          decimal.RequireFromString("10.00"),
	})
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, created.ID.String(), data["id"])
	assert.Equal(t, "pending", data["status"])
}

func TestCreateInvoice_BindingError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewInvoiceHandler(mocks.NewMockInvoiceService(ctrl), mocks.NewMockReportingService(ctrl))

	w, c := postJSON(t, map[string]interface{}{})
	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeneratePractitionerInvoice_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	invoiceSvc := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoiceSvc, mocks.NewMockReportingService(ctrl))

	practitionerID := uuid.New()
	created := &domain.Invoice{
		ID:              uuid.New(),
		InvoiceableKind: domain.InvoiceablePractitioner,
		InvoiceableID:   practitionerID,
		Price:           decimal.RequireFromString("120.00"),
		Status:          domain.InvoiceStatusPending,
		CreatedAt:       time.Now().UTC(),
	}

	invoiceSvc.EXPECT().GeneratePractitionerInvoice(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.PractitionerInvoiceRequest) (*domain.Invoice, error) {
			assert.Equal(t, practitionerID, req.PractitionerID)
			require.Len(t, req.Events, 1)
			return created, nil
		})

	w, c := postJSON(t, dto.PractitionerInvoiceRequest{
		PractitionerID: practitionerID.String(),
		Events: []dto.BillableEvent{
			{ID: uuid.New().String(), Price: decimal.RequireFromString("120.00"), CompletedAt: time.Now().UTC()},
		},
	})
	h.GeneratePractitioner(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "practitioner", data["invoiceable_kind"])
}

func TestGeneratePractitionerInvoice_NothingAvailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	invoiceSvc := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoiceSvc, mocks.NewMockReportingService(ctrl))

	invoiceSvc.EXPECT().GeneratePractitionerInvoice(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrNoAvailableAmount())

	w, c := postJSON(t, dto.PractitionerInvoiceRequest{
		PractitionerID: uuid.New().String(),
		Events: []dto.BillableEvent{
			{ID: uuid.New().String(), Price: decimal.RequireFromString("50.00"), CompletedAt: time.Now().UTC()},
		},
	})
	h.GeneratePractitioner(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "PAY_003")
}

func TestGetInvoice_WithRemaining(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	invoiceSvc := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoiceSvc, mocks.NewMockReportingService(ctrl))

	inv := &domain.Invoice{
		ID:              uuid.New(),
		InvoiceableKind: domain.InvoiceableSystem,
		InvoiceableID:   uuid.New(),
		Price:           decimal.RequireFromString("150.00"),
		Status:          domain.InvoiceStatusPartial,
		CreatedAt:       time.Now().UTC(),
	}

	invoiceSvc.EXPECT().GetByID(gomock.Any(), inv.ID).Return(inv, nil)
	invoiceSvc.EXPECT().RemainingBalance(gomock.Any(), inv.ID).
		Return(decimal.RequireFromString("100.00"), nil)

	w, c := getRequest(t, gin.Params{{Key: "id", Value: inv.ID.String()}})
	h.Get(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "partial", data["status"])
	assert.Equal(t, "100", data["remaining"])
}

func TestGetInvoice_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	invoiceSvc := mocks.NewMockInvoiceService(ctrl)
	h := NewInvoiceHandler(invoiceSvc, mocks.NewMockReportingService(ctrl))

	id := uuid.New()
	invoiceSvc.EXPECT().GetByID(gomock.Any(), id).Return(nil, apperror.ErrNotFound("invoice"))

	w, c := getRequest(t, gin.Params{{Key: "id", Value: id.String()}})
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "PAY_002")
}

func TestGetInvoice_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewInvoiceHandler(mocks.NewMockInvoiceService(ctrl), mocks.NewMockReportingService(ctrl))

	w, c := getRequest(t, gin.Params{{Key: "id", Value: "not-a-uuid"}})
	h.Get(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListInvoiceTransactions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reportingSvc := mocks.NewMockReportingService(ctrl)
	h := NewInvoiceHandler(mocks.NewMockInvoiceService(ctrl), reportingSvc)

	invoiceID := uuid.New()
	reportingSvc.EXPECT().ListInvoiceTransactions(gomock.Any(), invoiceID, 1, 20).
		Return([]domain.Transaction{
			{ID: uuid.New(), Type: domain.TransactionTypeInvoicePayment, Amount: decimal.RequireFromString("50.00"), Status: domain.TransactionStatusCompleted},
		}, int64(1), nil)

	w, c := getRequest(t, gin.Params{{Key: "id", Value: invoiceID.String()}})
	h.ListTransactions(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(1), data["total"])
}

// --- Payment Handler Tests ---

func TestGatewayPayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	paymentSvc := mocks.NewMockPaymentService(ctrl)
	h := NewPaymentHandler(paymentSvc)

	invoiceID := uuid.New()
	txn := &domain.Transaction{
		ID:              uuid.New(),
		InvoiceID:       &invoiceID,
		Amount:          decimal.RequireFromString("150.00"),
		Type:            domain.TransactionTypeInvoicePayment,
		DirectionSource: domain.SourceExternalGateway,
		Status:          domain.TransactionStatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}

	paymentSvc.EXPECT().ApplyGatewayPayment(gomock.Any(), ports.GatewayPaymentRequest{
		InvoiceID:   invoiceID,
		ProviderRef: "pi_abc123",
	}).Return(txn, nil)

	w, c := postJSON(t, dto.GatewayPaymentRequest{
		InvoiceID:   invoiceID.String(),
		ProviderRef: "pi_abc123",
	})
	h.GatewayPayment(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, txn.ID.String(), data["id"])
	assert.Equal(t, "external_gateway", data["direction_source"])
}

func TestGatewayPayment_MissingProviderRef(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewPaymentHandler(mocks.NewMockPaymentService(ctrl))

	w, c := postJSON(t, map[string]interface{}{"invoice_id": uuid.New().String()})
	h.GatewayPayment(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualPayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	paymentSvc := mocks.NewMockPaymentService(ctrl)
	h := NewPaymentHandler(paymentSvc)

	invoiceID := uuid.New()
	amount := decimal.RequireFromString("50.00")
	method := domain.MethodCash
	txn := &domain.Transaction{
		ID:              uuid.New(),
		InvoiceID:       &invoiceID,
		Amount:          amount,
		Type:            domain.TransactionTypeInvoicePayment,
		DirectionSource: domain.SourceExternalCash,
		PaymentMethod:   &method,
		Status:          domain.TransactionStatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}

	paymentSvc.EXPECT().ApplyManualPayment(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.ManualPaymentRequest) (*domain.Transaction, error) {
			assert.Equal(t, domain.MethodCash, req.Method)
			assert.Equal(t, "attempt-7f2a", req.AttemptID)
			require.NotNil(t, req.Amount)
			assert.True(t, req.Amount.Equal(amount))
			return txn, nil
		})

	w, c := postJSON(t, dto.ManualPaymentRequest{
		InvoiceID: invoiceID.String(),
		Method:    "cash",
		Amount:    &amount,
		AttemptID: "attempt-7f2a",
	})
	h.ManualPayment(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "cash", data["payment_method"])
}

func TestManualPayment_InvalidMethod(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewPaymentHandler(mocks.NewMockPaymentService(ctrl))

	w, c := postJSON(t, map[string]interface{}{
		"invoice_id": uuid.New().String(),
		"method":     "card",
		"attempt_id": "attempt-1",
	})
	h.ManualPayment(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualPayment_NotPayable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	paymentSvc := mocks.NewMockPaymentService(ctrl)
	h := NewPaymentHandler(paymentSvc)

	paymentSvc.EXPECT().ApplyManualPayment(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrInvoiceNotPayable())

	w, c := postJSON(t, dto.ManualPaymentRequest{
		InvoiceID: uuid.New().String(),
		Method:    "cash",
		AttemptID: "attempt-2",
	})
	h.ManualPayment(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "VAL_006")
}

// --- Payout Handler Tests ---

func TestInvoicePayout_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	payoutSvc := mocks.NewMockPayoutService(ctrl)
	h := NewPayoutHandler(payoutSvc)

	invoiceID := uuid.New()
	txn := &domain.Transaction{
		ID:              uuid.New(),
		InvoiceID:       &invoiceID,
		Amount:          decimal.RequireFromString("90.00"),
		Type:            domain.TransactionTypePayout,
		DirectionSource: domain.SourceInternalWallet,
		Status:          domain.TransactionStatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}

	payoutSvc.EXPECT().PayInvoicePayout(gomock.Any(), ports.InvoicePayoutRequest{InvoiceID: invoiceID}).
		Return(txn, nil)

	w, c := postJSON(t, dto.InvoicePayoutRequest{InvoiceID: invoiceID.String()})
	h.InvoicePayout(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "payout", data["type"])
	assert.Equal(t, "90", data["amount"])
}

func TestInvoicePayout_UnpaidInvoice(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	payoutSvc := mocks.NewMockPayoutService(ctrl)
	h := NewPayoutHandler(payoutSvc)

	payoutSvc.EXPECT().PayInvoicePayout(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrPayoutWithoutPayment())

	w, c := postJSON(t, dto.InvoicePayoutRequest{InvoiceID: uuid.New().String()})
	h.InvoicePayout(c)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "PAY_004")
}

func TestRefund_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	payoutSvc := mocks.NewMockPayoutService(ctrl)
	h := NewPayoutHandler(payoutSvc)

	invoiceID := uuid.New()
	txn := &domain.Transaction{
		ID:              uuid.New(),
		InvoiceID:       &invoiceID,
		Amount:          decimal.RequireFromString("150.00"),
		Type:            domain.TransactionTypeRefund,
		DirectionSource: domain.SourceExternalGateway,
		Status:          domain.TransactionStatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}

	payoutSvc.EXPECT().ProcessRefund(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.RefundRequest) (*domain.Transaction, error) {
			assert.Equal(t, invoiceID, req.InvoiceID)
			assert.Equal(t, "appointment cancelled", req.Reason)
			return txn, nil
		})

	w, c := postJSON(t, dto.RefundRequest{
		InvoiceID: invoiceID.String(),
		Amount:    decimal.RequireFromString("150.00"),
		Reason:    "appointment cancelled",
		AttemptID: "attempt-11aa",
	})
	h.Refund(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := responseData(t, w)
	assert.Equal(t, "refund", data["type"])
}

func TestRefund_ExceedsPaid(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	payoutSvc := mocks.NewMockPayoutService(ctrl)
	h := NewPayoutHandler(payoutSvc)

	payoutSvc.EXPECT().ProcessRefund(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrRefundExceedsPaid())

	w, c := postJSON(t, dto.RefundRequest{
		InvoiceID: uuid.New().String(),
		Amount:    decimal.RequireFromString("500.00"),
		Reason:    "overzealous",
		AttemptID: "attempt-22bb",
	})
	h.Refund(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VAL_005")
}

func TestPractitionerPayout_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	payoutSvc := mocks.NewMockPayoutService(ctrl)
	h := NewPayoutHandler(payoutSvc)

	practitionerID := uuid.New()
	txn := &domain.Transaction{
		ID:              uuid.New(),
		Amount:          decimal.RequireFromString("75.00"),
		Type:            domain.TransactionTypePayout,
		DirectionSource: domain.SourceInternalWallet,
		Status:          domain.TransactionStatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}

	payoutSvc.EXPECT().PayoutToPractitioner(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.PractitionerPayoutRequest) (*domain.Transaction, error) {
			assert.Equal(t, practitionerID, req.PractitionerID)
			return txn, nil
		})

	w, c := postJSON(t, dto.PractitionerPayoutRequest{
		PractitionerID: practitionerID.String(),
		Amount:         decimal.RequireFromString("75.00"),
		AttemptID:      "attempt-33cc",
	})
	h.PractitionerPayout(c)

	assert.Equal(t, http.StatusCreated, w.Code)
}

// --- Wallet Handler Tests ---

func TestGetOwnerWallet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reportingSvc := mocks.NewMockReportingService(ctrl)
	h := NewWalletHandler(reportingSvc)

	ownerID := uuid.New()
	w0 := &domain.Wallet{
		ID:        uuid.New(),
		OwnerKind: domain.OwnerPractitioner,
		OwnerID:   ownerID,
		Balance:   decimal.RequireFromString("210.00"),
		Currency:  "USD",
	}

	reportingSvc.EXPECT().GetOwnerWallet(gomock.Any(), domain.OwnerPractitioner, ownerID).
		Return(w0, nil)

	w, c := getRequest(t, gin.Params{
		{Key: "kind", Value: "practitioner"},
		{Key: "owner_id", Value: ownerID.String()},
	})
	h.GetOwnerWallet(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, w0.ID.String(), data["id"])
	assert.Equal(t, "210", data["balance"])
}

func TestGetOwnerWallet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reportingSvc := mocks.NewMockReportingService(ctrl)
	h := NewWalletHandler(reportingSvc)

	ownerID := uuid.New()
	reportingSvc.EXPECT().GetOwnerWallet(gomock.Any(), domain.OwnerPatient, ownerID).
		Return(nil, apperror.ErrNotFound("wallet"))

	w, c := getRequest(t, gin.Params{
		{Key: "kind", Value: "patient"},
		{Key: "owner_id", Value: ownerID.String()},
	})
	h.GetOwnerWallet(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetWalletStatement(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reportingSvc := mocks.NewMockReportingService(ctrl)
	h := NewWalletHandler(reportingSvc)

	w0 := &domain.Wallet{
		ID:        uuid.New(),
		OwnerKind: domain.OwnerSystem,
		OwnerID:   uuid.New(),
		Balance:   decimal.RequireFromString("1000.00"),
		Currency:  "USD",
	}
	txns := []domain.Transaction{
		{ID: uuid.New(), Type: domain.TransactionTypeInvoicePayment, Amount: decimal.RequireFromString("150.00"), Status: domain.TransactionStatusCompleted},
		{ID: uuid.New(), Type: domain.TransactionTypePayout, Amount: decimal.RequireFromString("90.00"), Status: domain.TransactionStatusCompleted},
	}

	reportingSvc.EXPECT().GetWalletStatement(gomock.Any(), w0.ID, 1, 20).
		Return(w0, txns, int64(2), nil)

	w, c := getRequest(t, gin.Params{{Key: "id", Value: w0.ID.String()}})
	h.GetStatement(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := responseData(t, w)
	assert.Equal(t, float64(2), data["total"])
	assert.Len(t, data["transactions"], 2)
}

// --- Health Check ---

type healthyChecker struct{ name string }

func (h healthyChecker) Ping(_ context.Context) error { return nil }
func (h healthyChecker) Name() string                 { return h.name }

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(healthyChecker{name: "postgres"}, healthyChecker{name: "redis"})(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Contains(t, w.Body.String(), "clinic-ledger")
}
