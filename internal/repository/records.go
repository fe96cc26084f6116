package repository

import (
	"time"

	"github.com/smallbiznis/chiron/internal/adapter"
	customerdomain "github.com/smallbiznis/chiron/internal/customer/domain"
	subscriptiondomain "github.com/smallbiznis/chiron/internal/subscription/domain"
)

// toRecord drops empty ids, zero times and nil values so that defaults and
// id generation apply.
func toRecord(values map[string]any) adapter.Record {
	rec := make(adapter.Record, len(values))
	for k, v := range values {
		switch t := v.(type) {
		case nil:
			continue
		case time.Time:
			if t.IsZero() {
				continue
			}
		case string:
			if k == "id" && t == "" {
				continue
			}
		}
		rec[k] = v
	}
	return rec
}

// SubscriptionPatch is the update payload that overwrites every field of
// the stored row except id and createdAt.
func SubscriptionPatch(s subscriptiondomain.Subscription) adapter.Record {
	patch := adapter.Record(s.Values())
	delete(patch, "id")
	delete(patch, "createdAt")
	delete(patch, "updatedAt")
	return patch
}

func customerFromRecord(r adapter.Record) *customerdomain.Customer {
	if r == nil {
		return nil
	}
	c := &customerdomain.Customer{
		ID:           str(r, "id"),
		CustomUserID: str(r, "customUserId"),
		Email:        strPtr(r, "email"),
		Name:         strPtr(r, "name"),
		CreatedAt:    timeVal(r, "createdAt"),
		UpdatedAt:    timeVal(r, "updatedAt"),
	}
	c.Additional = additional(r, customerdomain.CustomerFields)
	return c
}

func externalIDFromRecord(r adapter.Record) *customerdomain.CustomerExternalID {
	if r == nil {
		return nil
	}
	return &customerdomain.CustomerExternalID{
		ID:         str(r, "id"),
		Service:    str(r, "service"),
		CustomerID: str(r, "customerId"),
		ExternalID: str(r, "externalId"),
		CreatedAt:  timeVal(r, "createdAt"),
		UpdatedAt:  timeVal(r, "updatedAt"),
	}
}

func subscriptionFromRecord(r adapter.Record) *subscriptiondomain.Subscription {
	if r == nil {
		return nil
	}
	s := &subscriptiondomain.Subscription{
		ID:                     str(r, "id"),
		CustomerID:             str(r, "customerId"),
		Status:                 subscriptiondomain.Status(str(r, "status")),
		Provider:               str(r, "provider"),
		ProviderProductID:      str(r, "providerProductId"),
		ProviderBasePlanID:     str(r, "providerBasePlanId"),
		ProviderSubscriptionID: str(r, "providerSubscriptionId"),
		StartsAt:               timeVal(r, "startsAt"),
		PurchasedAt:            timeVal(r, "purchasedAt"),
		ExpiresAt:              timePtr(r, "expiresAt"),
		BillingIssueDetectedAt: timePtr(r, "billingIssueDetectedAt"),
		CreatedAt:              timeVal(r, "createdAt"),
		UpdatedAt:              timeVal(r, "updatedAt"),
	}
	s.Additional = additional(r, subscriptiondomain.SubscriptionFields)
	return s
}

func additional(r adapter.Record, core []string) map[string]any {
	known := make(map[string]bool, len(core))
	for _, f := range core {
		known[f] = true
	}
	var out map[string]any
	for k, v := range r {
		if known[k] {
			continue
		}
		if out == nil {
			out = map[string]any{}
		}
		out[k] = v
	}
	return out
}

func str(r adapter.Record, k string) string {
	s, _ := r[k].(string)
	return s
}

func strPtr(r adapter.Record, k string) *string {
	s, ok := r[k].(string)
	if !ok {
		return nil
	}
	return &s
}

func timeVal(r adapter.Record, k string) time.Time {
	t, _ := r[k].(time.Time)
	return t
}

func timePtr(r adapter.Record, k string) *time.Time {
	t, ok := r[k].(time.Time)
	if !ok {
		return nil
	}
	return &t
}
