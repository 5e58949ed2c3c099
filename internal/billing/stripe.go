// Package billing wraps the Stripe API for Scholar subscriptions.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Plan names as stored in the session and shown in templates.
const (
	PlanFree    = "free"
	PlanScholar = "scholar"
)

var ErrNoCustomer = errors.New("no stripe customer for email")

// Service creates checkout and portal sessions and verifies webhooks.
type Service struct {
	api           *client.API
	baseURL       string
	priceID       string
	webhookSecret string
}

// NewService initializes the Stripe client with the account secret key.
func NewService(secretKey, webhookSecret, priceID, baseURL string) *Service {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Service{
		api:           api,
		baseURL:       baseURL,
		priceID:       priceID,
		webhookSecret: webhookSecret,
	}
}

func (s *Service) checkoutParams(ctx context.Context, email, userID string) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(s.priceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(s.baseURL + "/account?checkout=success"),
		CancelURL:         stripe.String(s.baseURL + "/pricing"),
		CustomerEmail:     stripe.String(email),
		ClientReferenceID: stripe.String(userID),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(uuid.NewString())
	return params
}

// CheckoutURL opens a subscription checkout session for the Scholar
// plan and returns the hosted payment page URL.
func (s *Service) CheckoutURL(ctx context.Context, email, userID string) (string, error) {
	sess, err := s.api.CheckoutSessions.New(s.checkoutParams(ctx, email, userID))
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *Service) portalParams(customerID string) *stripe.BillingPortalSessionParams {
	return &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.baseURL + "/account"),
	}
}

// PortalURL finds the Stripe customer for an email and opens a billing
// portal session that returns to the account page.
func (s *Service) PortalURL(ctx context.Context, email string) (string, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := s.api.Customers.List(listParams)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			return "", fmt.Errorf("list customers: %w", err)
		}
		return "", ErrNoCustomer
	}

	params := s.portalParams(iter.Customer().ID)
	params.Context = ctx
	ps, err := s.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return ps.URL, nil
}

// ParseEvent verifies the webhook signature and decodes the event.
func (s *Service) ParseEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
}

// HandleEvent reacts to the subscription lifecycle events this app
// subscribes to. Durable plan state lives behind the backend API, so
// receipt is logged and the event acknowledged to stop retries.
func (s *Service) HandleEvent(log zerolog.Logger, event stripe.Event) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("bad checkout session payload")
			return
		}
		log.Info().
			Str("event_id", event.ID).
			Str("session_id", cs.ID).
			Str("client_reference_id", cs.ClientReferenceID).
			Msg("checkout completed")
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Warn().Err(err).Str("event_id", event.ID).Msg("bad subscription payload")
			return
		}
		log.Info().
			Str("event_id", event.ID).
			Str("subscription_id", sub.ID).
			Msg("subscription canceled")
	default:
		log.Debug().Str("type", string(event.Type)).Msg("ignoring stripe event")
	}
}
