package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"crm-platform/internal/calls"
	"crm-platform/internal/observability/metrics"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallApplier is the single write path for call updates (calls.Service).
type CallApplier interface {
	Apply(ctx context.Context, upd calls.CallUpdate) (calls.Outcome, error)
}

// WebhookRecorder receives webhook outcome counters.
type WebhookRecorder interface {
	WebhookEvent(result string)
}

// WebhookHandler receives voice status callbacks, normalizes them and hands them to
// the call service.
//
// Delivery is at-least-once. The handler answers 200 for everything it cannot fix by
// retrying (unknown account, store hiccup) so the provider does not retry forever;
// the polling sweep backfills what was deferred.
type WebhookHandler struct {
	Calls    CallApplier
	Settings SettingsStore
	Metrics  WebhookRecorder

	// Secret, when set, must match the ?token= query on the callback URL.
	Secret string
	// Location is the provider's wall-clock zone for "2006-01-02 15:04:05" timestamps.
	Location *time.Location
	Timeout  time.Duration
	Now      func() time.Time
}

const defaultWebhookTimeout = 5 * time.Second

func (h WebhookHandler) HandleStatusCallback(c *gin.Context) {
	base := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Calls == nil || h.Settings == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call sync not configured"})
		return
	}
	if h.Secret != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(h.Secret)) != 1 {
		base.Warn("status callback rejected: bad token", "ip", c.ClientIP())
		h.record(metrics.WebhookResultInvalid)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	cb, err := ParseStatusCallback(c.Request)
	if err != nil {
		base.Warn("status callback parse failed", "err", err)
		h.record(metrics.WebhookResultInvalid)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if cb.CallSid == "" {
		h.record(metrics.WebhookResultInvalid)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_sid required"})
		return
	}
	log := base.With("provider_call_id", cb.CallSid)

	// Detached so a provider hanging up does not abort a half-applied update.
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), timeout)
	defer cancel()

	settings, byAccount, err := h.resolveSettings(ctx, cb.AccountSid, strings.TrimSpace(c.Query("org_id")))
	switch {
	case errors.Is(err, ErrSettingsNotFound):
		// Not retryable by the provider: accept and drop.
		log.Warn("status callback ignored: no provider settings", "account_sid", cb.AccountSid)
		h.record(metrics.WebhookResultIgnored)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case err != nil:
		log.Error("status callback deferred: settings lookup failed", "account_sid", cb.AccountSid, "err", err)
		h.record(metrics.WebhookResultDeferred)
		c.JSON(http.StatusOK, gin.H{"status": "deferred"})
		return
	}

	upd := cb.ToCallUpdate(settings.OrgID, h.Location, h.Now().UTC())
	if !byAccount && (upd.RecordingURL != "" || upd.RecordingDurationSec != nil) {
		// Only a callback naming the org's account may point at a recording.
		log.Warn("status callback recording dropped: account not verified", "org_id", settings.OrgID)
		upd.RecordingURL = ""
		upd.RecordingDurationSec = nil
	}

	// The service adds provider_call_id itself.
	out, err := h.Calls.Apply(logger.With(ctx, base), upd)
	if err != nil {
		if errors.Is(err, calls.ErrMissingProviderCallID) || errors.Is(err, calls.ErrInsufficientData) {
			h.record(metrics.WebhookResultInvalid)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "insufficient call data"})
			return
		}
		log.Error("status callback deferred", "org_id", settings.OrgID, "err", err)
		h.record(metrics.WebhookResultDeferred)
		c.JSON(http.StatusOK, gin.H{"status": "deferred"})
		return
	}

	h.record(metrics.WebhookResultOK)
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"call_id": out.Record.ID,
		"created": out.Created,
	})
}

// resolveSettings prefers the account id in the payload and falls back to the org hint
// configured on the callback URL. The bool reports whether the payload's account id
// matched.
func (h WebhookHandler) resolveSettings(ctx context.Context, accountSID, orgHint string) (ProviderSettings, bool, error) {
	if accountSID != "" {
		s, err := h.Settings.ByAccountSID(ctx, accountSID)
		if err == nil {
			if orgHint != "" && orgHint != s.OrgID {
				return ProviderSettings{}, false, ErrSettingsNotFound
			}
			return s, true, nil
		}
		if !errors.Is(err, ErrSettingsNotFound) {
			return ProviderSettings{}, false, err
		}
	}
	if orgHint != "" {
		s, err := h.Settings.ByOrgID(ctx, orgHint)
		return s, false, err
	}
	return ProviderSettings{}, false, ErrSettingsNotFound
}

func (h WebhookHandler) record(result string) {
	if h.Metrics != nil {
		h.Metrics.WebhookEvent(result)
	}
}
