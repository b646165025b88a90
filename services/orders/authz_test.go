package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireRole(t *testing.T) {
	assert.NoError(t, requireRole(admin, RoleAdmin))

	err := requireRole(alice, RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "Admin only", err.Error())
}

func TestCanAccessOrder(t *testing.T) {
	owner := "alice"
	order := &Order{ID: "order-1", UserID: &owner}
	orphan := &Order{ID: "order-2"}

	assert.True(t, canAccessOrder(alice, order))
	assert.True(t, canAccessOrder(admin, order))
	assert.False(t, canAccessOrder(bob, order))

	assert.False(t, canAccessOrder(alice, orphan), "orders whose user was deleted belong to nobody")
	assert.True(t, canAccessOrder(admin, orphan))
	assert.False(t, canAccessOrder(admin, nil))
}
