package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/smallbiznis/chiron/internal/chiron"
	"github.com/smallbiznis/chiron/internal/paymentcore"
	"github.com/spf13/cobra"
	stripego "github.com/stripe/stripe-go/v82"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables, columns and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withChiron(cmd, opts, func(ctx context.Context, c *chiron.Chiron) error {
				if err := c.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var user, provider string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile a customer's subscriptions with a payment provider",
		Example: `  chiron sync --user user_123
  chiron sync --user user_123 --provider stripe`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withChiron(cmd, opts, func(ctx context.Context, c *chiron.Chiron) error {
				res, err := c.SyncCustomer(ctx, user, provider)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "custom user id of the customer")
	cmd.Flags().StringVarP(&provider, "provider", "p", "stripe", "payment provider id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

type accessLevelOutput struct {
	Level         string   `json:"level"`
	Subscriptions []string `json:"subscriptions"`
}

func newAccessLevelsCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "access-levels",
		Short: "List the access levels a customer currently holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withChiron(cmd, opts, func(ctx context.Context, c *chiron.Chiron) error {
				cust, err := c.Repository.FindCustomerByCustomUserID(ctx, user)
				if err != nil {
					return err
				}
				if cust == nil {
					return fmt.Errorf("no customer for user %q", user)
				}
				levels, err := c.Payments.GetCustomerAccessLevels(ctx, cust.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), accessLevelsOutput(levels))
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "custom user id of the customer")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func accessLevelsOutput(levels paymentcore.AccessLevels) []accessLevelOutput {
	out := make([]accessLevelOutput, 0, len(levels))
	for level, subs := range levels {
		ids := make([]string, 0, len(subs))
		for _, s := range subs {
			ids = append(ids, s.ProviderSubscriptionID)
		}
		out = append(out, accessLevelOutput{Level: level, Subscriptions: ids})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

func newCustomerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}

	var user, email, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the customer for a user id, or return the existing one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withChiron(cmd, opts, func(ctx context.Context, c *chiron.Chiron) error {
				u := chiron.User{ID: user}
				if email != "" {
					u.Email = &email
				}
				if name != "" {
					u.Name = &name
				}
				cust, _, err := c.GetOrCreateCustomer(ctx, u)
				if err != nil {
					return err
				}
				if cust == nil {
					return errors.New("customer creation was aborted by a hook")
				}
				if c.Stripe != nil {
					if _, err := c.Stripe.GetOrCreateStripeCustomerID(ctx, *cust); err != nil {
						return err
					}
					if cust, err = c.Repository.FindCustomerByID(ctx, cust.ID); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), cust)
			})
		},
	}
	create.Flags().StringVarP(&user, "user", "u", "", "custom user id")
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&name, "name", "", "display name")
	_ = create.MarkFlagRequired("user")

	cmd.AddCommand(create)
	return cmd
}

func newStripeEventCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "stripe-event",
		Short: "Apply an already verified Stripe event read from a file or stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			event, err := readEvent(cmd, file)
			if err != nil {
				return err
			}
			return withChiron(cmd, opts, func(ctx context.Context, c *chiron.Chiron) error {
				if c.Stripe == nil {
					return errors.New("stripe is not configured, set STRIPE_SECRET_KEY")
				}
				res, err := c.Stripe.HandleEvent(ctx, event)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "event JSON file, - for stdin")
	return cmd
}

func readEvent(cmd *cobra.Command, file string) (stripego.Event, error) {
	var (
		data []byte
		err  error
	)
	if strings.TrimSpace(file) == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return stripego.Event{}, fmt.Errorf("read event: %w", err)
	}
	var event stripego.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return stripego.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
