// Package domain describes what a payment provider can do for the payment
// core. Every capability except ID is optional.
package domain

import (
	"context"
	"errors"

	customerdomain "github.com/smallbiznis/chiron/internal/customer/domain"
	subscriptiondomain "github.com/smallbiznis/chiron/internal/subscription/domain"
)

var (
	ErrInvalidProvider   = errors.New("invalid_provider")
	ErrDuplicateProvider = errors.New("duplicate_provider")
)

// Provider is the capability object a provider plugin contributes. Nil
// funcs mean the capability is not offered.
type Provider struct {
	ID string

	// ExtractSubscriptionAccessLevel returns the access-level tag granted
	// by s, or "" when s grants none.
	ExtractSubscriptionAccessLevel func(s subscriptiondomain.Subscription) string

	// GetSubscriptions returns the provider's authoritative snapshot of
	// the customer's subscriptions.
	GetSubscriptions func(ctx context.Context, customerID string) ([]subscriptiondomain.Subscription, error)

	// CreateCustomer registers c with the provider and returns the
	// provider's customer id.
	CreateCustomer func(ctx context.Context, c customerdomain.Customer) (string, error)

	MapFromProviderSubscription func(raw any) (subscriptiondomain.Subscription, error)

	// SubscriptionProviderIdentifierExtractor defaults to ProviderSubscriptionID.
	SubscriptionProviderIdentifierExtractor func(s subscriptiondomain.Subscription) string
}

// SubscriptionIdentifier returns the provider's own id for s.
func (p Provider) SubscriptionIdentifier(s subscriptiondomain.Subscription) string {
	if p.SubscriptionProviderIdentifierExtractor != nil {
		return p.SubscriptionProviderIdentifierExtractor(s)
	}
	return s.ProviderSubscriptionID
}

// AccessLevel returns the tag granted by s, or "" when the provider does
// not classify subscriptions.
func (p Provider) AccessLevel(s subscriptiondomain.Subscription) string {
	if p.ExtractSubscriptionAccessLevel == nil {
		return ""
	}
	return p.ExtractSubscriptionAccessLevel(s)
}

func (p Provider) CanListSubscriptions() bool { return p.GetSubscriptions != nil }
