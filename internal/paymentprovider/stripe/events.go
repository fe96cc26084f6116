package stripe

import (
	"context"

	"github.com/smallbiznis/chiron/internal/paymentcore"
	stripego "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

// syncEvents are the event types that can change a customer's subscriptions.
var syncEvents = map[stripego.EventType]struct{}{
	"checkout.session.completed":                   {},
	"customer.subscription.created":                {},
	"customer.subscription.updated":                {},
	"customer.subscription.deleted":                {},
	"customer.subscription.paused":                 {},
	"customer.subscription.resumed":                {},
	"customer.subscription.pending_update_applied": {},
	"customer.subscription.pending_update_expired": {},
	"customer.subscription.trial_will_end":         {},
	"invoice.paid":                                 {},
	"invoice.payment_failed":                       {},
	"invoice.payment_action_required":              {},
	"invoice.upcoming":                             {},
	"invoice.marked_uncollectible":                 {},
	"invoice.payment_succeeded":                    {},
	"payment_intent.succeeded":                     {},
	"payment_intent.payment_failed":                {},
	"payment_intent.canceled":                      {},
}

// HandleEvent reconciles the customer an already verified Stripe event
// refers to. Event types that cannot affect subscriptions are ignored.
func (p *Provider) HandleEvent(ctx context.Context, event stripego.Event) (paymentcore.SyncResult, error) {
	p.log.Info("processing stripe event", zap.String("event_type", string(event.Type)), zap.String("event_id", event.ID))
	if _, ok := syncEvents[event.Type]; !ok {
		return paymentcore.SyncResult{}, nil
	}

	stripeCustomerID := eventCustomerID(event)
	if stripeCustomerID == "" {
		return paymentcore.SyncResult{}, ErrNoCustomerID
	}

	store, err := p.repo()
	if err != nil {
		return paymentcore.SyncResult{}, err
	}
	ref := p.syncer.Load()
	if ref == nil {
		return paymentcore.SyncResult{}, ErrNotAttached
	}

	customerID, err := store.FindCustomerIDByCustomerExternalID(ctx, ProviderID, stripeCustomerID)
	if err != nil {
		return paymentcore.SyncResult{}, err
	}
	if customerID == "" {
		return paymentcore.SyncResult{}, ErrUnknownCustomer
	}
	return ref.SyncCustomerSubscriptions(ctx, paymentcore.SyncRequest{CustomerID: customerID, Provider: ProviderID})
}

// eventCustomerID reads data.object.customer, which Stripe sends either as
// an id or as an expanded object.
func eventCustomerID(event stripego.Event) string {
	if event.Data == nil {
		return ""
	}
	switch c := event.Data.Object["customer"].(type) {
	case string:
		return c
	case map[string]any:
		id, _ := c["id"].(string)
		return id
	}
	return ""
}
