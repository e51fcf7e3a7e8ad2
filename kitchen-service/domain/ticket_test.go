package domain

import (
	"testing"

	"github.com/draftea/pizza-saga/shared/models"
	"github.com/draftea/pizza-saga/shared/participant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTicket(t *testing.T) {
	tests := []struct {
		name      string
		orderID   models.ID
		pizzaType string
		quantity  int
		wantErr   bool
	}{
		{name: "valid", orderID: models.GenerateUUID(), pizzaType: " Margherita ", quantity: 2},
		{name: "missing order", pizzaType: "Margherita", quantity: 2, wantErr: true},
		{name: "blank pizza", orderID: models.GenerateUUID(), pizzaType: "  ", quantity: 2, wantErr: true},
		{name: "no pizzas", orderID: models.GenerateUUID(), pizzaType: "Margherita", quantity: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket, err := NewTicket(tt.orderID, tt.pizzaType, tt.quantity)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTicket)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Margherita", ticket.PizzaType)
			assert.Equal(t, participant.Pending, ticket.Outcome())
		})
	}
}

func TestTicket_Transitions(t *testing.T) {
	prepared, err := NewTicket(models.GenerateUUID(), "Margherita", 1)
	require.NoError(t, err)
	require.NoError(t, prepared.Prepare())
	assert.Equal(t, participant.Succeeded, prepared.Outcome())
	assert.NotNil(t, prepared.PreparedAt)
	assert.Equal(t, 2, prepared.CurrentVersion())
	assert.ErrorIs(t, prepared.Fail("late"), participant.ErrInvalidTransition)

	failed, err := NewTicket(models.GenerateUUID(), "Margherita", 1)
	require.NoError(t, err)
	require.NoError(t, failed.Fail("Out of ingredients or kitchen capacity full"))
	assert.Equal(t, participant.Failed, failed.Outcome())
	assert.Equal(t, "Out of ingredients or kitchen capacity full", failed.FailureMessage())
	assert.Nil(t, failed.PreparedAt)
	assert.ErrorIs(t, failed.Prepare(), participant.ErrInvalidTransition)
}
