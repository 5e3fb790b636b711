package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewID returns a fresh identifier for any persisted entity.
func NewID() string {
	return uuid.NewString()
}

func ensureID(id *string) {
	if *id == "" {
		*id = NewID()
	}
}

// Money formats an amount the way it appears in hashes, exports and emails.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Column shapes of stored decimals.
const (
	AmountPrecision  = 18
	AmountScale      = 4
	TaxRatePrecision = 9
	TaxRateScale     = 6
)

// FitsNumeric reports whether d can be stored in a numeric(precision, scale)
// column without the database rounding it.
func FitsNumeric(d decimal.Decimal, precision, scale int32) bool {
	if !d.Equal(d.Truncate(scale)) {
		return false
	}
	limit := decimal.New(1, precision-scale)
	return d.Abs().LessThan(limit)
}

// Quantity formats a quantity or unit price with four decimals.
func Quantity(d decimal.Decimal) string {
	return d.StringFixed(4)
}

// Actor type constants
const (
	ActorTypeUser        = "user"
	ActorTypeSystemAgent = "system_agent"
)

// Actor is whoever performs a mutating action: a signed-in user or an
// automated agent such as the push retry job.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Type  string `json:"type"`
}

// UserActor builds an actor for an authenticated user.
func UserActor(id, name, email, role string) Actor {
	return Actor{ID: id, Name: name, Email: email, Role: role, Type: ActorTypeUser}
}

// SystemActor builds an actor for a background agent.
func SystemActor(name string) Actor {
	return Actor{ID: "system:" + name, Name: name, Role: RoleSystem, Type: ActorTypeSystemAgent}
}

// IsSystem reports whether the actor is an automated agent.
func (a Actor) IsSystem() bool {
	return a.Type == ActorTypeSystemAgent
}

// HasRole reports whether the actor holds any of the given roles.
func (a Actor) HasRole(roles ...string) bool {
	for _, r := range roles {
		if strings.EqualFold(a.Role, r) {
			return true
		}
	}
	return false
}
