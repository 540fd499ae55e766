package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinic-ledger/internal/adapter/http/handler"
	redisStorage "clinic-ledger/internal/adapter/storage/redis"
	"clinic-ledger/internal/core/ports"
	"clinic-ledger/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clinicOwnerID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// testApp wires the real HTTP layer and services over in-memory repositories
// and a miniredis instance, so tests exercise the full request path:
// middleware, handlers, services, the ledger, and the Redis stores.
type testApp struct {
	server   *httptest.Server
	wallets  *inMemoryWalletRepo
	invoices *inMemoryInvoiceRepo
	txns     *inMemoryTransactionRepo
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	idempCache := redisStorage.NewIdempotencyCache(client)
	rateLimitStore := redisStorage.NewRateLimitStore(client)

	wallets := newInMemoryWalletRepo()
	invoices := newInMemoryInvoiceRepo()
	txns := newInMemoryTransactionRepo()
	transactor := newLockingTransactor()

	settings := ports.Settings{
		Currency:                 "USD",
		ClinicOwnerID:            clinicOwnerID,
		DefaultCommissionPercent: decimal.NewFromInt(10),
		OrganizationName:         "Riverside Clinic",
	}
	log := zerolog.Nop()

	invoiceSvc := service.NewInvoiceService(invoices, txns, wallets, transactor, settings, log)
	ledgerSvc := service.NewLedgerService(txns, wallets, invoiceSvc, idempCache, transactor, log)
	notifier := service.NewHTTPNotifier("", &http.Client{Timeout: time.Second}, log)
	paymentSvc := service.NewPaymentService(invoices, txns, wallets, ledgerSvc, notifier, settings, log)
	payoutSvc := service.NewPayoutService(invoices, txns, wallets, ledgerSvc, notifier, settings, log)
	reportingSvc := service.NewReportingService(txns, wallets)

	router := handler.SetupRouter(handler.RouterDeps{
		InvoiceSvc:     invoiceSvc,
		PaymentSvc:     paymentSvc,
		PayoutSvc:      payoutSvc,
		ReportingSvc:   reportingSvc,
		RateLimitStore: rateLimitStore,
		Logger:         log,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testApp{server: srv, wallets: wallets, invoices: invoices, txns: txns}
}

func (a *testApp) request(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (a *testApp) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	return a.request(t, http.MethodPost, path, body)
}

func (a *testApp) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	return a.request(t, http.MethodGet, path, nil)
}

// envelopeData unwraps the standard success envelope.
func envelopeData(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got %v", body)
	return data
}

// createClinicInvoice creates a clinic-owed invoice and returns its id.
func createClinicInvoice(t *testing.T, app *testApp, subtotal, taxTotal string, practitionerID *uuid.UUID) string {
	t.Helper()
	req := map[string]any{
		"invoiceable_kind":    "system",
		"invoiceable_id":      uuid.NewString(),
		"customer_owner_kind": "patient",
		"customer_owner_id":   uuid.NewString(),
		"subtotal":            subtotal,
		"tax_total":           taxTotal,
	}
	if practitionerID != nil {
		req["practitioner_id"] = practitionerID.String()
	}
	status, body := app.post(t, "/api/v1/invoices", req)
	require.Equal(t, http.StatusCreated, status, "create invoice: %v", body)
	return envelopeData(t, body)["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	status, body := app.get(t, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "clinic-ledger", body["service"])
}

func TestInvoiceLifecycle_MixedPayments(t *testing.T) {
	app := newTestApp(t)
	invoiceID := createClinicInvoice(t, app, "140.00", "10.00", nil)

	// Fresh invoice: pending, full balance remaining.
	status, body := app.get(t, "/api/v1/invoices/"+invoiceID)
	require.Equal(t, http.StatusOK, status)
	data := envelopeData(t, body)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "150", data["remaining"])

	// Operator records 50.00 in cash.
	status, body = app.post(t, "/api/v1/payments/manual", map[string]any{
		"invoice_id": invoiceID,
		"method":     "cash",
		"amount":     "50.00",
		"attempt_id": "attempt-cash-1",
	})
	require.Equal(t, http.StatusCreated, status, "manual payment: %v", body)
	assert.Equal(t, "external_cash", envelopeData(t, body)["direction_source"])

	status, body = app.get(t, "/api/v1/invoices/"+invoiceID)
	require.Equal(t, http.StatusOK, status)
	data = envelopeData(t, body)
	assert.Equal(t, "partial", data["status"])
	assert.Equal(t, "100", data["remaining"])

	// Gateway settles the rest; omitted amount defaults to the remainder.
	status, body = app.post(t, "/api/v1/payments/gateway", map[string]any{
		"invoice_id":   invoiceID,
		"provider_ref": "pi_lifecycle_1",
	})
	require.Equal(t, http.StatusCreated, status, "gateway payment: %v", body)
	data = envelopeData(t, body)
	assert.Equal(t, "100", data["amount"])
	assert.Equal(t, "external_gateway", data["direction_source"])

	// The final payment came through the gateway, so the invoice lands on
	// paid, not paid_manual.
	status, body = app.get(t, "/api/v1/invoices/"+invoiceID)
	require.Equal(t, http.StatusOK, status)
	data = envelopeData(t, body)
	assert.Equal(t, "paid", data["status"])
	assert.Equal(t, "0", data["remaining"])
	assert.NotNil(t, data["paid_at"])

	// Both payments landed in the clinic wallet.
	status, body = app.get(t, "/api/v1/wallets/owner/system/"+clinicOwnerID.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "150", envelopeData(t, body)["balance"])

	// The invoice's ledger log shows both entries.
	status, body = app.get(t, "/api/v1/invoices/"+invoiceID+"/transactions")
	require.Equal(t, http.StatusOK, status)
	data = envelopeData(t, body)
	assert.Equal(t, float64(2), data["total"])
}

func TestGatewayPayment_ReplayedWebhook(t *testing.T) {
	app := newTestApp(t)
	invoiceID := createClinicInvoice(t, app, "100.00", "0", nil)

	pay := map[string]any{
		"invoice_id":   invoiceID,
		"provider_ref": "pi_replay_1",
	}

	status, body := app.post(t, "/api/v1/payments/gateway", pay)
	require.Equal(t, http.StatusCreated, status)
	firstID := envelopeData(t, body)["id"].(string)

	// Same provider reference again: the prior transaction comes back, even
	// though the invoice is already paid.
	status, body = app.post(t, "/api/v1/payments/gateway", pay)
	require.Equal(t, http.StatusCreated, status, "replay: %v", body)
	assert.Equal(t, firstID, envelopeData(t, body)["id"])

	// Money moved exactly once.
	status, body = app.get(t, "/api/v1/wallets/owner/system/"+clinicOwnerID.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", envelopeData(t, body)["balance"])
}

func TestManualPayment_OverpayRejected(t *testing.T) {
	app := newTestApp(t)
	invoiceID := createClinicInvoice(t, app, "100.00", "0", nil)

	status, body := app.post(t, "/api/v1/payments/manual", map[string]any{
		"invoice_id": invoiceID,
		"method":     "pos",
		"amount":     "120.00",
		"attempt_id": "attempt-overpay-1",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VAL_001", body["error_code"])
}

func TestInvoicePayout_CommissionApplied(t *testing.T) {
	app := newTestApp(t)
	practitionerID := uuid.New()
	invoiceID := createClinicInvoice(t, app, "100.00", "0", &practitionerID)

	// Payout before payment is rejected.
	status, body := app.post(t, "/api/v1/payouts/invoice", map[string]any{
		"invoice_id": invoiceID,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "PAY_004", body["error_code"])

	status, _ = app.post(t, "/api/v1/payments/gateway", map[string]any{
		"invoice_id":   invoiceID,
		"provider_ref": "pi_payout_1",
	})
	require.Equal(t, http.StatusCreated, status)

	// 10% default commission: 100 gross -> 90 net.
	status, body = app.post(t, "/api/v1/payouts/invoice", map[string]any{
		"invoice_id": invoiceID,
	})
	require.Equal(t, http.StatusCreated, status, "payout: %v", body)
	data := envelopeData(t, body)
	assert.Equal(t, "90", data["amount"])
	assert.Equal(t, "internal_wallet", data["direction_source"])
	payoutID := data["id"].(string)

	// One payout per invoice: repeating returns the same transaction.
	status, body = app.post(t, "/api/v1/payouts/invoice", map[string]any{
		"invoice_id": invoiceID,
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, payoutID, envelopeData(t, body)["id"])

	status, body = app.get(t, "/api/v1/wallets/owner/practitioner/"+practitionerID.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "90", envelopeData(t, body)["balance"])

	status, body = app.get(t, "/api/v1/wallets/owner/system/"+clinicOwnerID.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "10", envelopeData(t, body)["balance"])
}

func TestRefundFlow(t *testing.T) {
	app := newTestApp(t)
	invoiceID := createClinicInvoice(t, app, "150.00", "0", nil)

	status, _ := app.post(t, "/api/v1/payments/gateway", map[string]any{
		"invoice_id":   invoiceID,
		"provider_ref": "pi_refund_1",
	})
	require.Equal(t, http.StatusCreated, status)

	// Partial refund leaves the invoice paid.
	status, body := app.post(t, "/api/v1/refunds", map[string]any{
		"invoice_id": invoiceID,
		"amount":     "50.00",
		"reason":     "billing correction",
		"attempt_id": "attempt-refund-1",
	})
	require.Equal(t, http.StatusCreated, status, "refund: %v", body)
	assert.Equal(t, "external_gateway", envelopeData(t, body)["direction_source"])

	status, body = app.get(t, "/api/v1/invoices/"+invoiceID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid", envelopeData(t, body)["status"])

	// Refunding the rest flips the invoice to refunded.
	status, _ = app.post(t, "/api/v1/refunds", map[string]any{
		"invoice_id": invoiceID,
		"amount":     "100.00",
		"reason":     "patient no-show",
		"attempt_id": "attempt-refund-2",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body = app.get(t, "/api/v1/invoices/"+invoiceID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "refunded", envelopeData(t, body)["status"])

	// Nothing left to refund.
	status, body = app.post(t, "/api/v1/refunds", map[string]any{
		"invoice_id": invoiceID,
		"amount":     "10.00",
		"reason":     "duplicate request",
		"attempt_id": "attempt-refund-3",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VAL_005", body["error_code"])

	// All of it left the clinic wallet again.
	status, body = app.get(t, "/api/v1/wallets/owner/system/"+clinicOwnerID.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "0", envelopeData(t, body)["balance"])
}

func TestPractitionerInvoiceGeneration(t *testing.T) {
	app := newTestApp(t)
	practitionerID := uuid.New()
	event := map[string]any{
		"id":           uuid.NewString(),
		"price":        "200.00",
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}

	// First generation takes 120 of the event's 200.
	status, body := app.post(t, "/api/v1/invoices/practitioner", map[string]any{
		"practitioner_id": practitionerID.String(),
		"events":          []any{event},
		"target_amount":   "120.00",
	})
	require.Equal(t, http.StatusCreated, status, "generate: %v", body)
	data := envelopeData(t, body)
	assert.Equal(t, "practitioner", data["invoiceable_kind"])
	assert.Equal(t, "120", data["price"])

	// Second generation only gets the unallocated remainder.
	status, body = app.post(t, "/api/v1/invoices/practitioner", map[string]any{
		"practitioner_id": practitionerID.String(),
		"events":          []any{event},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "80", envelopeData(t, body)["price"])

	// The event is exhausted.
	status, body = app.post(t, "/api/v1/invoices/practitioner", map[string]any{
		"practitioner_id": practitionerID.String(),
		"events":          []any{event},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "PAY_003", body["error_code"])
}

func TestPractitionerInvoice_SettledByTransfer(t *testing.T) {
	app := newTestApp(t)
	practitionerID := uuid.New()

	// Fund the clinic wallet first.
	funding := createClinicInvoice(t, app, "300.00", "0", nil)
	status, _ := app.post(t, "/api/v1/payments/gateway", map[string]any{
		"invoice_id":   funding,
		"provider_ref": "pi_transfer_funding",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body := app.post(t, "/api/v1/invoices/practitioner", map[string]any{
		"practitioner_id": practitionerID.String(),
		"events": []any{map[string]any{
			"id":           uuid.NewString(),
			"price":        "200.00",
			"completed_at": time.Now().UTC().Format(time.RFC3339),
		}},
	})
	require.Equal(t, http.StatusCreated, status)
	payableID := envelopeData(t, body)["id"].(string)

	// Cash is not how the clinic settles a practitioner payable.
	status, body = app.post(t, "/api/v1/payments/manual", map[string]any{
		"invoice_id": payableID,
		"method":     "cash",
		"amount":     "200.00",
		"attempt_id": "attempt-transfer-0",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VAL_001", body["error_code"])

	status, body = app.post(t, "/api/v1/payments/manual", map[string]any{
		"invoice_id": payableID,
		"method":     "transfer",
		"attempt_id": "attempt-transfer-1",
	})
	require.Equal(t, http.StatusCreated, status, "transfer: %v", body)
	assert.Equal(t, "internal_wallet", envelopeData(t, body)["direction_source"])

	status, body = app.get(t, "/api/v1/invoices/"+payableID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid", envelopeData(t, body)["status"])

	status, body = app.get(t, "/api/v1/wallets/owner/practitioner/"+practitionerID.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "200", envelopeData(t, body)["balance"])

	status, body = app.get(t, "/api/v1/wallets/owner/system/"+clinicOwnerID.String())
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "100", envelopeData(t, body)["balance"])
}

func TestDirectPractitionerPayout_InsufficientFunds(t *testing.T) {
	app := newTestApp(t)

	status, body := app.post(t, "/api/v1/payouts/practitioner", map[string]any{
		"practitioner_id": uuid.NewString(),
		"amount":          "40.00",
		"attempt_id":      "attempt-direct-1",
	})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "PAY_001", body["error_code"])
}

func TestWalletStatement(t *testing.T) {
	app := newTestApp(t)
	invoiceID := createClinicInvoice(t, app, "100.00", "0", nil)

	for i, amount := range []string{"30.00", "30.00", "40.00"} {
		status, _ := app.post(t, "/api/v1/payments/manual", map[string]any{
			"invoice_id": invoiceID,
			"method":     "cash",
			"amount":     amount,
			"attempt_id": "attempt-stmt-" + string(rune('a'+i)),
		})
		require.Equal(t, http.StatusCreated, status)
	}

	clinic, err := app.wallets.GetByOwner(context.Background(), "system", clinicOwnerID)
	require.NoError(t, err)
	require.NotNil(t, clinic)

	status, body := app.get(t, "/api/v1/wallets/"+clinic.ID.String()+"/statement?page=1&page_size=2")
	require.Equal(t, http.StatusOK, status)
	data := envelopeData(t, body)
	assert.Equal(t, float64(3), data["total"])
	assert.Len(t, data["transactions"], 2)
	wallet := data["wallet"].(map[string]any)
	assert.Equal(t, "100", wallet["balance"])
}

func TestGetInvoice_NotFound(t *testing.T) {
	app := newTestApp(t)

	status, body := app.get(t, "/api/v1/invoices/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "PAY_002", body["error_code"])
}
