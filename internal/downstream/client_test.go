package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	breaker := resilience.DefaultBreakerConfig("")
	breaker.Timeout = time.Second
	return Options{
		Registry: resilience.NewRegistry(zerolog.Nop()),
		Breaker:  breaker,
		Retry: resilience.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			Multiplier:      2,
			MaxInterval:     5 * time.Millisecond,
		},
		Logger: zerolog.Nop(),
	}
}

func TestInventoryClient_Reserve(t *testing.T) {
	// Arrange
	var received ReserveRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/inventory/reserve", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"reservationId":"RES-123","productId":"prod456","quantity":2,"orderId":"ORD-1"}`))
	}))
	defer server.Close()
	client := NewInventoryClient(server.URL, testOptions())

	// Act
	reservation, err := client.Reserve(context.Background(), ReserveRequest{OrderID: "ORD-1", ProductID: "prod456", Quantity: 2})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "RES-123", reservation.ReservationID)
	assert.Equal(t, ReserveRequest{OrderID: "ORD-1", ProductID: "prod456", Quantity: 2}, received)
}

func TestInventoryClient_ReserveBusinessRejectionIsNotRetried(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Insufficient stock"}`))
	}))
	defer server.Close()
	client := NewInventoryClient(server.URL, testOptions())

	// Act
	_, err := client.Reserve(context.Background(), ReserveRequest{OrderID: "ORD-1", ProductID: "prod456", Quantity: 999})

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, dtmcli.ErrFailure)
	assert.Equal(t, int32(1), calls.Load())

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadRequest, remote.StatusCode)
	assert.Equal(t, "inventory.reserve", remote.Operation)
}

func TestPaymentClient_ProcessRetriesServerErrors(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transactionId":"TXN-9","orderId":"ORD-1","amount":99.98,"status":"COMPLETED"}`))
	}))
	defer server.Close()
	client := NewPaymentClient(server.URL, testOptions())

	// Act
	payment, err := client.Process(context.Background(), PaymentRequest{OrderID: "ORD-1", TotalAmount: 99.98, PaymentMethod: "credit_card", UserID: "user123"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "TXN-9", payment.TransactionID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPaymentClient_ProcessGivesUpAfterRetries(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	client := NewPaymentClient(server.URL, testOptions())

	// Act
	_, err := client.Process(context.Background(), PaymentRequest{OrderID: "ORD-1"})

	// Assert
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusInternalServerError, remote.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.NotErrorIs(t, err, dtmcli.ErrFailure)
}

func TestPaymentClient_DTMFailureBodyIsNotRetried(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"dtm_result":"FAILURE","message":"card declined"}`))
	}))
	defer server.Close()
	client := NewPaymentClient(server.URL, testOptions())

	// Act
	_, err := client.Process(context.Background(), PaymentRequest{OrderID: "ORD-1"})

	// Assert
	assert.ErrorIs(t, err, dtmcli.ErrFailure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPaymentClient_DTMFailureOnSuccessStatus(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dtm_result":"FAILURE"}`))
	}))
	defer server.Close()
	client := NewPaymentClient(server.URL, testOptions())

	// Act
	_, err := client.Process(context.Background(), PaymentRequest{OrderID: "ORD-1"})

	// Assert
	assert.ErrorIs(t, err, dtmcli.ErrFailure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInventoryClient_ReserveRetriesServerErrorMentioningFailure(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"UPSTREAM_CONNECTION_FAILURE"}`))
	}))
	defer server.Close()
	client := NewInventoryClient(server.URL, testOptions())

	// Act
	_, err := client.Reserve(context.Background(), ReserveRequest{OrderID: "ORD-1", ProductID: "prod456", Quantity: 1})

	// Assert
	require.Error(t, err)
	assert.NotErrorIs(t, err, dtmcli.ErrFailure)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInventoryClient_ReserveAcceptsPayloadMentioningFailure(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"reservationId":"RES-1","productId":"SKU-FAILURE-MODE-KIT","quantity":1,"orderId":"ORD-1"}`))
	}))
	defer server.Close()
	client := NewInventoryClient(server.URL, testOptions())

	// Act
	reservation, err := client.Reserve(context.Background(), ReserveRequest{OrderID: "ORD-1", ProductID: "SKU-FAILURE-MODE-KIT", Quantity: 1})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "RES-1", reservation.ReservationID)
}

func TestNotificationClient_OpenBreakerShortCircuits(t *testing.T) {
	// Arrange
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	opts := testOptions()
	opts.Breaker.MinimumRequests = 2
	client := NewNotificationClient(server.URL, opts)

	// Act
	firstErr := client.SendOrderConfirmation(context.Background(), "ORD-1")
	secondErr := client.SendOrderConfirmation(context.Background(), "ORD-2")

	// Assert
	assert.ErrorIs(t, firstErr, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, secondErr, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "breaker opens after two failures and stops calling")

	stats := opts.Registry.Stats()["notification"]
	require.Len(t, stats, 1)
	assert.Equal(t, "notification.confirmation", stats[0].Name)
	assert.Equal(t, resilience.StateOpen, stats[0].State)
}

func TestNotificationClient_CancellationPath(t *testing.T) {
	// Arrange
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()
	client := NewNotificationClient(server.URL, testOptions())

	// Act
	err := client.SendOrderCancellation(context.Background(), "ORD-1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "/api/notifications/order-cancellation", path)
}

func TestRemoteError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       *RemoteError
		retryable bool
		failure   bool
	}{
		{"server error", &RemoteError{StatusCode: 503}, true, false},
		{"not found", &RemoteError{StatusCode: 404}, false, true},
		{"conflict", &RemoteError{StatusCode: 409}, false, true},
		{"dtm failure on 2xx", &RemoteError{StatusCode: 200, Body: `{"dtm_result":"FAILURE"}`}, false, true},
		{"plain failure body on 2xx", &RemoteError{StatusCode: 200, Body: "FAILURE\n"}, false, true},
		{"failure text inside 2xx payload", &RemoteError{StatusCode: 200, Body: `{"productId":"SKU-FAILURE-KIT"}`}, false, false},
		{"dtm failure body on 5xx", &RemoteError{StatusCode: 500, Body: `{"dtm_result":"FAILURE"}`}, true, false},
		{"failure text inside 5xx payload", &RemoteError{StatusCode: 503, Body: `{"error":"UPSTREAM_CONNECTION_FAILURE"}`}, true, false},
		{"no status", &RemoteError{}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.Retryable())
			assert.Equal(t, tt.retryable, resilience.IsRetryable(tt.err))
			assert.Equal(t, tt.failure, errors.Is(tt.err, dtmcli.ErrFailure))
		})
	}
}
