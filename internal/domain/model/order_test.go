package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrderStatus(t *testing.T) {
	for _, s := range []string{"Not Processed", "Processing", "Shipped", "Delivered", "Cancelled"} {
		st, ok := ParseOrderStatus(s)
		assert.True(t, ok, s)
		assert.Equal(t, OrderStatus(s), st)
	}

	for _, s := range []string{"", " Shipped ", "Shipped\n", "shipped", "SHIPPED", "Paid", "NotProcessed"} {
		_, ok := ParseOrderStatus(s)
		assert.False(t, ok, "%q", s)
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusDelivered.IsTerminal())
	assert.False(t, OrderStatusNotProcessed.IsTerminal())
	assert.False(t, OrderStatusProcessing.IsTerminal())
	assert.False(t, OrderStatusShipped.IsTerminal())
}

func TestRole(t *testing.T) {
	assert.True(t, RoleAdmin.IsAdmin())
	assert.False(t, RoleStandard.IsAdmin())
	assert.False(t, Role(7).IsAdmin())
	assert.Equal(t, "unknown", Role(7).String())
}
