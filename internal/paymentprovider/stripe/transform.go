package stripe

import (
	"errors"
	"fmt"
	"time"

	subscriptiondomain "github.com/smallbiznis/chiron/internal/subscription/domain"
	stripego "github.com/stripe/stripe-go/v82"
)

var ErrMissingPrice = errors.New("stripe subscription has no product or price")

// ToSubscription maps a Stripe subscription onto the chiron entity. The
// product and price of the first item identify what was bought.
func ToSubscription(sub *stripego.Subscription, customerID string) (subscriptiondomain.Subscription, error) {
	if sub == nil {
		return subscriptiondomain.Subscription{}, fmt.Errorf("%w: nil subscription", ErrMissingPrice)
	}
	var productID, priceID string
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		priceID = price.ID
		if price.Product != nil {
			productID = price.Product.ID
		}
	}
	if productID == "" || priceID == "" {
		return subscriptiondomain.Subscription{}, fmt.Errorf("%w: %s", ErrMissingPrice, sub.ID)
	}

	s := subscriptiondomain.Subscription{
		CustomerID:             customerID,
		Status:                 Status(sub.Status),
		Provider:               ProviderID,
		ProviderProductID:      productID,
		ProviderBasePlanID:     priceID,
		ProviderSubscriptionID: sub.ID,
		StartsAt:               unix(sub.StartDate),
		PurchasedAt:            unix(sub.Created),
	}
	if sub.CancelAt > 0 {
		expires := unix(sub.CancelAt)
		s.ExpiresAt = &expires
	}
	return s, nil
}

// Status collapses Stripe's lifecycle into active, trialing and canceled.
func Status(status stripego.SubscriptionStatus) subscriptiondomain.Status {
	switch status {
	case stripego.SubscriptionStatusTrialing:
		return subscriptiondomain.StatusTrialing
	case stripego.SubscriptionStatusActive:
		return subscriptiondomain.StatusActive
	default:
		return subscriptiondomain.StatusCanceled
	}
}

func unix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
