package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
)

// Capability is an action gated at the authorization boundary.
type Capability int

const (
	CapSell Capability = iota
	CapCancelAnySale
	CapAdjustStock
	CapReports
	CapViewAudit
	CapManageUsers
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleManager:
		return RoleManager, nil
	case RoleCashier:
		return RoleCashier, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) Can(c Capability) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleManager:
		return c != CapManageUsers
	case RoleCashier:
		return c == CapSell
	}
	return false
}
