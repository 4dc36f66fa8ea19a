package models

import (
	"errors"
	"fmt"
	"strings"
)

const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
	RoleCustomer   = "customer"
	RoleFarmer     = "farmer"
)

// ErrScopeUserMissing is returned for a technician or customer scope
// without a user id.
var ErrScopeUserMissing = errors.New("scope has no user id")

// Scope selects which sensors a user is allowed to see.
type Scope struct {
	Role   string `json:"role"`
	UserID string `json:"userId"`
}

// Technician reports whether the scope is limited to a technician's sensors.
func (s Scope) Technician() bool {
	return strings.EqualFold(s.Role, RoleTechnician)
}

// Customer reports whether the scope is limited to a customer's sensors.
// Farmers are customers.
func (s Scope) Customer() bool {
	role := strings.ToLower(s.Role)
	return role == RoleCustomer || role == RoleFarmer
}

// Validate rejects a limited scope that names no user.
func (s Scope) Validate() error {
	if (s.Technician() || s.Customer()) && strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: role %s", ErrScopeUserMissing, s.Role)
	}
	return nil
}
