package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"clinic-ledger/internal/core/domain"
	"clinic-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// notifyRetryIntervals spaces out redelivery attempts after a failed POST.
var notifyRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	5 * time.Minute,
}

// Notification event types
const (
	EventPaymentRecorded = "PAYMENT_RECORDED"
	EventPayoutRecorded  = "PAYOUT_RECORDED"
	EventRefundRecorded  = "REFUND_RECORDED"
)

// NotifyPayload is the JSON structure posted to the notification endpoint.
type NotifyPayload struct {
	EventType string            `json:"event_type"`
	Data      NotifyPayloadData `json:"data"`
}

// NotifyPayloadData holds the event details in the notification.
type NotifyPayloadData struct {
	TransactionID string `json:"transaction_id"`
	InvoiceID     string `json:"invoice_id,omitempty"`
	InvoiceStatus string `json:"invoice_status,omitempty"`
	RecipientID   string `json:"recipient_id"`
	Audience      string `json:"audience"`
	Organization  string `json:"organization"`
	Amount        string `json:"amount"`
	Timestamp     int64  `json:"timestamp"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpNotifier implements ports.Notifier over a single configured endpoint.
// Delivery is asynchronous and best-effort: a committed transaction is never
// rolled back because a notification could not be sent.
type httpNotifier struct {
	url        string
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewHTTPNotifier creates a notifier posting to url. An empty url disables
// delivery.
func NewHTTPNotifier(url string, httpClient HTTPClient, log zerolog.Logger) ports.Notifier {
	return &httpNotifier{
		url:        url,
		httpClient: httpClient,
		log:        log,
	}
}

// Notify enqueues a notification for asynchronous delivery with retries.
func (s *httpNotifier) Notify(_ context.Context, n ports.Notification) error {
	if s.url == "" {
		s.log.Debug().Msg("notify: no endpoint configured, skipping")
		return nil
	}
	if n.Transaction == nil {
		return nil
	}

	eventType := EventPaymentRecorded
	switch n.Transaction.Type {
	case domain.TransactionTypePayout:
		eventType = EventPayoutRecorded
	case domain.TransactionTypeRefund:
		eventType = EventRefundRecorded
	}

	data := NotifyPayloadData{
		TransactionID: n.Transaction.ID.String(),
		RecipientID:   n.RecipientID.String(),
		Audience:      string(n.Audience),
		Organization:  n.Organization,
		Amount:        n.Transaction.Amount.String(),
		Timestamp:     time.Now().Unix(),
	}
	if n.Invoice != nil {
		data.InvoiceID = n.Invoice.ID.String()
		data.InvoiceStatus = string(n.Invoice.Status)
	}

	payload := NotifyPayload{
		EventType: eventType,
		Data:      data,
	}

	go s.deliverWithRetries(payload, data.TransactionID)
	return nil
}

// deliverWithRetries attempts delivery, backing off between attempts.
func (s *httpNotifier) deliverWithRetries(payload NotifyPayload, txID string) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("tx_id", txID).Msg("notify: failed to marshal payload")
		return
	}

	for attempt := 0; attempt <= len(notifyRetryIntervals); attempt++ {
		if attempt > 0 {
			time.Sleep(notifyRetryIntervals[attempt-1])
		}

		req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(payloadBytes))
		if err != nil {
			s.log.Error().Err(err).Str("tx_id", txID).Int("attempt", attempt+1).Msg("notify: failed to create request")
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.log.Warn().Err(err).Str("tx_id", txID).Int("attempt", attempt+1).Msg("notify: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.log.Info().Str("tx_id", txID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("notify: delivered successfully")
			return
		}

		s.log.Warn().Str("tx_id", txID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("notify: non-2xx response, retrying")
	}

	s.log.Error().Str("tx_id", txID).Msg("notify: all retry attempts exhausted")
}
