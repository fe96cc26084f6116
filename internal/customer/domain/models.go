// Package domain contains the customer entities tracked by chiron.
package domain

import "time"

// Customer is the subscriber identity, independent of the host
// application's own user accounts.
type Customer struct {
	ID           string    `json:"id"`
	CustomUserID string    `json:"customUserId" validate:"required"`
	Email        *string   `json:"email,omitempty" validate:"omitempty,email"`
	Name         *string   `json:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	// Additional holds plugin and application extension fields.
	Additional map[string]any `json:"additional,omitempty"`
}

// CustomerExternalID maps a customer to a provider's own identifier.
// (Service, CustomerID) is not unique by construction; callers look up
// before creating.
type CustomerExternalID struct {
	ID         string    `json:"id"`
	Service    string    `json:"service" validate:"required"`
	CustomerID string    `json:"customerId" validate:"required"`
	ExternalID string    `json:"externalId" validate:"required"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CustomerFields lists the core customer fields in declaration order.
var CustomerFields = []string{"id", "customUserId", "email", "name", "createdAt", "updatedAt"}

// Values flattens c into field name/value pairs. Nil pointers become nil.
func (c Customer) Values() map[string]any {
	v := map[string]any{
		"id":           c.ID,
		"customUserId": c.CustomUserID,
		"email":        deref(c.Email),
		"name":         deref(c.Name),
		"createdAt":    c.CreatedAt,
		"updatedAt":    c.UpdatedAt,
	}
	for k, val := range c.Additional {
		if _, core := v[k]; !core {
			v[k] = val
		}
	}
	return v
}

func (e CustomerExternalID) Values() map[string]any {
	return map[string]any{
		"id":         e.ID,
		"service":    e.Service,
		"customerId": e.CustomerID,
		"externalId": e.ExternalID,
		"createdAt":  e.CreatedAt,
		"updatedAt":  e.UpdatedAt,
	}
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
