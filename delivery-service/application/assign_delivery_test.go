package application

import (
	"context"
	"regexp"
	"testing"

	"github.com/draftea/pizza-saga/delivery-service/domain"
	"github.com/draftea/pizza-saga/shared/events"
	"github.com/draftea/pizza-saga/shared/mocks"
	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/draftea/pizza-saga/shared/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fixedDriver(id string) DriverPicker {
	return func() string { return id }
}

func TestRandomDriver(t *testing.T) {
	pattern := regexp.MustCompile(`^DRIVER-\d{3}$`)
	for i := 0; i < 50; i++ {
		assert.Regexp(t, pattern, RandomDriver())
	}
}

func TestAssignDelivery_Execute(t *testing.T) {
	tests := []struct {
		name       string
		decide     simulation.Decision
		picker     DriverPicker
		wantTopic  events.Topic
		wantStatus domain.DeliveryStatus
		wantReason string
	}{
		{
			name:       "driver assigned",
			decide:     simulation.NeverFail,
			picker:     fixedDriver("DRIVER-007"),
			wantTopic:  events.DeliveryAssignedTopic,
			wantStatus: domain.DeliveryStatusAssigned,
		},
		{
			name:       "no drivers",
			decide:     simulation.AlwaysFail,
			picker:     fixedDriver("DRIVER-007"),
			wantTopic:  events.DeliveryFailedTopic,
			wantStatus: domain.DeliveryStatusFailed,
			wantReason: DeclineReason,
		},
		{
			name:       "dispatch error becomes a failure",
			decide:     simulation.NeverFail,
			picker:     fixedDriver(""),
			wantTopic:  events.DeliveryFailedTopic,
			wantStatus: domain.DeliveryStatusFailed,
			wantReason: "Delivery processing error: driver id is required: invalid delivery",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deliveries := participant.NewMemoryRepository[*domain.Delivery]()
			publisher := mocks.NewRecordingPublisher()
			simulator := simulation.New(simulation.Policy{Enabled: true, FailureRate: 0.15, Decide: tt.decide})
			uc := NewAssignDelivery(deliveries, publisher, simulator, tt.picker, zaptest.NewLogger(t))

			orderID := models.GenerateUUID()
			require.NoError(t, uc.Execute(context.Background(), events.AssignDeliveryCommand{OrderID: orderID, DeliveryAddress: "123 Main St"}))

			stored, err := deliveries.FindByOrderID(context.Background(), orderID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)

			published := publisher.Events()
			require.Len(t, published, 1)
			assert.Equal(t, tt.wantTopic, published[0].Topic)

			if tt.wantReason == "" {
				var evt events.DeliveryAssignedEvent
				require.NoError(t, published[0].UnmarshalPayload(&evt))
				assert.Equal(t, "DRIVER-007", evt.DriverID)
				return
			}
			var evt events.DeliveryFailedEvent
			require.NoError(t, published[0].UnmarshalPayload(&evt))
			assert.Equal(t, tt.wantReason, evt.Reason)
		})
	}
}

func TestAssignDelivery_DuplicateReplaysDriver(t *testing.T) {
	deliveries := participant.NewMemoryRepository[*domain.Delivery]()
	publisher := mocks.NewRecordingPublisher()
	calls := 0
	picker := func() string {
		calls++
		return "DRIVER-010"
	}
	uc := NewAssignDelivery(deliveries, publisher, simulation.New(simulation.Policy{}), picker, zaptest.NewLogger(t))

	cmd := events.AssignDeliveryCommand{OrderID: models.GenerateUUID(), DeliveryAddress: "123 Main St"}
	require.NoError(t, uc.Execute(context.Background(), cmd))
	require.NoError(t, uc.Execute(context.Background(), cmd))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, deliveries.Len())
	assert.Len(t, publisher.ByTopic(events.DeliveryAssignedTopic), 2)
}

func TestGetDelivery(t *testing.T) {
	deliveries := participant.NewMemoryRepository[*domain.Delivery]()
	uc := NewAssignDelivery(deliveries, mocks.NewRecordingPublisher(), simulation.New(simulation.Policy{}), nil, zaptest.NewLogger(t))
	orderID := models.GenerateUUID()
	require.NoError(t, uc.Execute(context.Background(), events.AssignDeliveryCommand{OrderID: orderID, DeliveryAddress: "9 Elm St"}))

	get := NewGetDelivery(deliveries)
	got, err := get.ByOrderID(context.Background(), orderID.String())
	require.NoError(t, err)
	assert.Regexp(t, `^DRIVER-\d{3}$`, got.DriverID)
	assert.NotNil(t, got.AssignedAt)

	_, err = get.ByOrderID(context.Background(), models.GenerateUUID().String())
	assert.ErrorIs(t, err, participant.ErrNotFound)

	all, err := get.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
