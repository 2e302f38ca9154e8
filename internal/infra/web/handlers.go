package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/infra/logging"
	"mobile-iap-subscription/internal/infra/metrics"
	"mobile-iap-subscription/internal/usecase"
)

type verifyRequest struct {
	Platform   string `json:"platform"`
	Receipt    string `json:"receipt"`
	BillingKey string `json:"billing_key"`
	ProductID  string `json:"product_id"`
	UserID     string `json:"user_id"`
}

type restoreRequest struct {
	Platform   string `json:"platform"`
	BillingKey string `json:"billing_key"`
	Receipt    string `json:"receipt,omitempty"`
	UserID     string `json:"user_id"`
}

type subscriptionView struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Platform   string    `json:"platform"`
	BillingKey string    `json:"billing_key"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type userView struct {
	ID                    string     `json:"id"`
	AccountTier           string     `json:"account_tier"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at"`
}

type entitlementResponse struct {
	Restored     bool              `json:"restored,omitempty"`
	Subscription *subscriptionView `json:"subscription"`
	User         *userView         `json:"user"`
}

func toEntitlementResponse(view *usecase.EntitlementView, restored bool) *entitlementResponse {
	return &entitlementResponse{
		Restored: restored,
		Subscription: &subscriptionView{
			ID:         view.Subscription.ID,
			UserID:     view.Subscription.UserID,
			Platform:   string(view.Subscription.Platform),
			BillingKey: view.Subscription.BillingKey,
			Status:     string(view.Subscription.Status),
			ExpiresAt:  view.Subscription.ExpiresAt,
		},
		User: &userView{
			ID:                    view.User.ID,
			AccountTier:           string(view.User.AccountTier),
			SubscriptionExpiresAt: view.User.SubscriptionExpiresAt,
		},
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.BillingKey == "" || req.UserID == "" {
		http.Error(w, "billing_key and user_id are required", http.StatusBadRequest)
		return
	}

	ctx := logging.WithBillingKey(logging.WithUserID(r.Context(), req.UserID), req.BillingKey)
	logging.With(ctx, s.log).Debug().
		Str("platform", req.Platform).
		Str("receipt", logging.Redact(req.Receipt, s.dev)).
		Msg("verify requested")

	view, err := s.subUC.Verify(ctx, usecase.VerifyInput{
		Platform:   platform,
		Receipt:    req.Receipt,
		BillingKey: req.BillingKey,
		ProductID:  req.ProductID,
		UserID:     req.UserID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toEntitlementResponse(view, false))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.BillingKey == "" || req.UserID == "" {
		http.Error(w, "billing_key and user_id are required", http.StatusBadRequest)
		return
	}

	ctx := logging.WithBillingKey(logging.WithUserID(r.Context(), req.UserID), req.BillingKey)
	logging.With(ctx, s.log).Debug().
		Str("platform", req.Platform).
		Msg("restore requested")

	view, err := s.subUC.Restore(ctx, usecase.RestoreInput{
		Platform:   platform,
		BillingKey: req.BillingKey,
		Receipt:    req.Receipt,
		UserID:     req.UserID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toEntitlementResponse(view, true))
}

type statusResponse struct {
	User          *userView           `json:"user"`
	Premium       bool                `json:"premium"`
	Subscriptions []*subscriptionView `json:"subscriptions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	status, err := s.subUC.Entitlement(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := &statusResponse{
		User: &userView{
			ID:                    status.User.ID,
			AccountTier:           string(status.User.AccountTier),
			SubscriptionExpiresAt: status.User.SubscriptionExpiresAt,
		},
		Premium:       status.User.IsPremium(),
		Subscriptions: make([]*subscriptionView, 0, len(status.Subscriptions)),
	}
	for _, sub := range status.Subscriptions {
		resp.Subscriptions = append(resp.Subscriptions, &subscriptionView{
			ID:         sub.ID,
			UserID:     sub.UserID,
			Platform:   string(sub.Platform),
			BillingKey: sub.BillingKey,
			Status:     string(sub.Status),
			ExpiresAt:  sub.ExpiresAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// webhookHandler decodes and processes one store's notifications. The store
// is always acknowledged with 200 once the request reaches us: decode and
// processing failures are logged and counted, never surfaced, because the
// store would otherwise retry a permanently-broken delivery forever.
func (s *Server) webhookHandler(platform model.Platform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decoder, ok := s.decoders[platform]
		if !ok {
			s.log.Error().Str("platform", string(platform)).Msg("webhook received for unconfigured platform")
			w.WriteHeader(http.StatusOK)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusOK)
			return
		}

		event, err := decoder.Decode(r.Context(), body)
		if err != nil {
			metrics.IncWebhookEvent(string(platform), "unknown", "decode_failed")
			s.log.Warn().Err(err).Str("platform", string(platform)).Msg("webhook decode failed; acknowledged without processing")
			w.WriteHeader(http.StatusOK)
			return
		}

		alreadyProcessed, err := s.webhookUC.ProcessEvent(r.Context(), event)
		outcome := "processed"
		switch {
		case err != nil && errors.Is(err, domain.ErrSubscriptionNotFound):
			outcome = "orphaned"
			s.log.Warn().
				Str("event_id", event.EventID).
				Str("billing_key", event.BillingKey).
				Msg("webhook event for unknown billing key; acknowledged")
		case err != nil:
			outcome = "error"
			s.log.Error().Err(err).Str("event_id", event.EventID).Msg("webhook processing failed; acknowledged")
		case alreadyProcessed:
			outcome = "duplicate"
		}
		metrics.IncWebhookEvent(string(platform), string(event.EventType), outcome)

		s.writeJSON(w, http.StatusOK, map[string]bool{"already_processed": alreadyProcessed})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response failed")
	}
}

// writeError maps domain errors onto HTTP statuses per the error taxonomy.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPlatformNotSupported),
		errors.Is(err, domain.ErrInvalidReceipt),
		errors.Is(err, domain.ErrSubscriptionExpired),
		errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoActiveSubscription),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
