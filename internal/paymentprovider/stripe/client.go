package stripe

import (
	"context"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Client is the slice of the Stripe API the provider uses.
type Client interface {
	ListSubscriptions(ctx context.Context, stripeCustomerID string) ([]*stripego.Subscription, error)
	CreateCustomer(ctx context.Context, params *stripego.CustomerParams) (*stripego.Customer, error)
}

type apiClient struct {
	api *client.API
}

// NewClient returns a Client backed by the Stripe REST API.
func NewClient(secretKey string) Client {
	return &apiClient{api: client.New(secretKey, nil)}
}

func (c *apiClient) ListSubscriptions(ctx context.Context, stripeCustomerID string) ([]*stripego.Subscription, error) {
	params := &stripego.SubscriptionListParams{
		Customer: stripego.String(stripeCustomerID),
		Status:   stripego.String("all"),
	}
	params.Context = ctx

	var out []*stripego.Subscription
	it := c.api.Subscriptions.List(params)
	for it.Next() {
		out = append(out, it.Subscription())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) CreateCustomer(ctx context.Context, params *stripego.CustomerParams) (*stripego.Customer, error) {
	params.Context = ctx
	return c.api.Customers.New(params)
}
