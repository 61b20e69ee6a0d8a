package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoleRejectsUnknownValues(t *testing.T) {
	role, err := ParseRole(" Manager ")
	require.NoError(t, err)
	assert.Equal(t, RoleManager, role)

	_, err = ParseRole("supervisor")
	assert.Error(t, err)
	assert.False(t, Role("system").Valid())
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RoleAdmin.Can(CapManageUsers))
	assert.True(t, RoleManager.Can(CapCancelAnySale))
	assert.True(t, RoleManager.Can(CapReports))
	assert.False(t, RoleManager.Can(CapManageUsers))
	assert.True(t, RoleCashier.Can(CapSell))
	assert.False(t, RoleCashier.Can(CapCancelAnySale))
	assert.False(t, RoleCashier.Can(CapAdjustStock))
	assert.False(t, Role("").Can(CapSell))
}

func TestRoundMoneyUsesBankersRounding(t *testing.T) {
	assert.Equal(t, "103.00", RoundMoney(decimal.RequireFromString("102.9985")).StringFixed(2))
	assert.Equal(t, "0.12", RoundMoney(decimal.RequireFromString("0.125")).StringFixed(2))
	assert.Equal(t, "0.14", RoundMoney(decimal.RequireFromString("0.135")).StringFixed(2))
}

func TestSaleLineTotal(t *testing.T) {
	line := SaleLine{Quantity: 3, UnitPrice: decimal.RequireFromString("29.99")}
	assert.Equal(t, "89.97", line.Total().StringFixed(2))
}
