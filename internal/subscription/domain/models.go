// Package domain contains the subscription entity and the comparator used
// to reconcile it against provider snapshots.
package domain

import "time"

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusCanceled Status = "canceled"
)

// Entitled reports whether the status grants access.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is one customer's entitlement grant from a payment provider.
// (Provider, ProviderSubscriptionID) is the reconciliation key.
type Subscription struct {
	ID                     string     `json:"id"`
	CustomerID             string     `json:"customerId" validate:"required"`
	Status                 Status     `json:"status" validate:"required,oneof=active trialing canceled"`
	Provider               string     `json:"provider" validate:"required"`
	ProviderProductID      string     `json:"providerProductId" validate:"required"`
	ProviderBasePlanID     string     `json:"providerBasePlanId" validate:"required"`
	ProviderSubscriptionID string     `json:"providerSubscriptionId" validate:"required"`
	StartsAt               time.Time  `json:"startsAt" validate:"required"`
	PurchasedAt            time.Time  `json:"purchasedAt" validate:"required"`
	ExpiresAt              *time.Time `json:"expiresAt,omitempty"`
	BillingIssueDetectedAt *time.Time `json:"billingIssueDetectedAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
	// Additional holds plugin and application extension fields.
	Additional map[string]any `json:"additional,omitempty"`
}

// SubscriptionFields lists the core fields in declaration order.
var SubscriptionFields = []string{
	"id",
	"customerId",
	"status",
	"provider",
	"providerProductId",
	"providerBasePlanId",
	"providerSubscriptionId",
	"startsAt",
	"purchasedAt",
	"expiresAt",
	"billingIssueDetectedAt",
	"createdAt",
	"updatedAt",
}

// Values flattens s into field name/value pairs. Nil pointers become nil
// and Additional keys never shadow core fields.
func (s Subscription) Values() map[string]any {
	v := map[string]any{
		"id":                     s.ID,
		"customerId":             s.CustomerID,
		"status":                 string(s.Status),
		"provider":               s.Provider,
		"providerProductId":      s.ProviderProductID,
		"providerBasePlanId":     s.ProviderBasePlanID,
		"providerSubscriptionId": s.ProviderSubscriptionID,
		"startsAt":               s.StartsAt,
		"purchasedAt":            s.PurchasedAt,
		"expiresAt":              timeOrNil(s.ExpiresAt),
		"billingIssueDetectedAt": timeOrNil(s.BillingIssueDetectedAt),
		"createdAt":              s.CreatedAt,
		"updatedAt":              s.UpdatedAt,
	}
	for k, val := range s.Additional {
		if _, core := v[k]; !core {
			v[k] = val
		}
	}
	return v
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
