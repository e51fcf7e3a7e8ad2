package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/draftea/pizza-saga/payments-service/application"
	"github.com/draftea/pizza-saga/payments-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/mocks"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/saga"
	"github.com/draftea/pizza-saga/shared/simulation"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPaymentHandlers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	payments := participant.NewMemoryRepository[*domain.Payment]()
	publisher := mocks.NewRecordingPublisher()

	router := saga.NewRouter(logger)
	NewPaymentEventHandlers(
		application.NewProcessPayment(payments, publisher, simulation.New(simulation.Policy{}), logger),
		application.NewRefundPayment(payments, publisher, 0, logger),
	).Register(router)

	r := chi.NewRouter()
	NewPaymentHandlers(application.NewGetPayment(payments), logger).RegisterRoutes(r)

	orderID := models.GenerateUUID()
	ctx := context.Background()
	require.NoError(t, router.Handle(ctx, events.NewProcessPayment(events.ProcessPaymentCommand{
		OrderID: orderID, CustomerID: "CUST001", Amount: models.NewMoney(1599, "USD"),
	})))
	require.NoError(t, router.Handle(ctx, events.NewRefundPayment(events.RefundPaymentCommand{
		OrderID: orderID, Reason: "Out of ingredients or kitchen capacity full",
	})))

	t.Run("get by order", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments/order/"+orderID.String(), nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got application.GetPaymentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, string(domain.PaymentStatusRefunded), got.Status)
		assert.Equal(t, "Out of ingredients or kitchen capacity full", got.RefundReason)
	})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got []application.GetPaymentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got, 1)
	})

	t.Run("unknown order", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments/order/"+models.GenerateUUID().String(), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed command is rejected", func(t *testing.T) {
		err := router.Handle(ctx, events.NewEvent(orderID, events.ProcessPaymentCommandTopic, []byte(`{"amount": "lots"}`)))
		assert.ErrorIs(t, err, events.ErrRejected)
	})
}
