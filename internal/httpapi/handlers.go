package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/calls"
	"crm-platform/internal/callsync"
	"crm-platform/internal/rbac"
	"crm-platform/internal/reporting"
	"crm-platform/internal/telephony"
	"crm-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallReader is the read side of the call record store.
type CallReader interface {
	Get(ctx context.Context, orgID, id string) (calls.CallRecord, error)
	ActivityForCall(ctx context.Context, callRecordID string) (calls.ContactActivity, error)
	SessionForCall(ctx context.Context, providerCallID string) (calls.AgentCallSession, error)
}

// SweepRunner runs one org's polling sweep on demand. *callsync.Sweeper satisfies it.
type SweepRunner interface {
	RunOnceForOrg(ctx context.Context, orgID string) (callsync.SweepReport, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Calls    CallReader
	Reports  *reporting.Service
	Settings telephony.SettingsStore
	Clients  telephony.ClientFactory
	Streams  StreamLimiter
	Sweeper  SweepRunner
	// Audit is optional; audit failures never fail the request.
	Audit *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.OrgID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, org_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.OrgID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

// GetCall returns the call record with its derived activity and agent session, if any.
func (h Handlers) GetCall(c *gin.Context) {
	rec, ok := h.loadCall(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	resp := gin.H{"call": rec}
	if rec.ActivityID != "" {
		if a, err := h.Calls.ActivityForCall(ctx, rec.ID); err == nil {
			resp["activity"] = a
		}
	}
	if rec.AgentID != "" {
		if s, err := h.Calls.SessionForCall(ctx, rec.ProviderCallID); err == nil {
			resp["agent_session"] = s
		}
	}
	c.JSON(http.StatusOK, resp)
}

// StreamRecording proxies the provider recording with the org's credentials.
// A fetch failure never touches the stored record.
func (h Handlers) StreamRecording(c *gin.Context) {
	if h.Settings == nil || h.Clients == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "provider not configured"})
		return
	}
	rec, ok := h.loadCall(c)
	if !ok {
		return
	}
	if rec.RecordingURL == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "recording not available"})
		return
	}

	ctx := c.Request.Context()
	log := logger.FromGin(c).With("call_id", rec.ID, "org_id", rec.OrgID)

	if h.Streams != nil {
		acquired, err := h.Streams.Acquire(ctx, rec.OrgID)
		if err != nil {
			log.Error("recording stream cap failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "recording streams unavailable"})
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many recording streams"})
			return
		}
		defer h.Streams.Release(context.WithoutCancel(ctx), rec.OrgID)
	}

	settings, err := h.Settings.ByOrgID(ctx, rec.OrgID)
	if err != nil {
		log.Warn("recording fetch: no provider settings", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "recording fetch failed"})
		return
	}
	client, err := h.Clients(settings)
	if err != nil {
		log.Error("recording fetch: client init failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "recording fetch failed"})
		return
	}
	recording, err := client.FetchRecording(ctx, rec.RecordingURL)
	if err != nil {
		log.Warn("recording fetch failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "recording fetch failed"})
		return
	}
	defer recording.Body.Close()

	if h.Audit != nil {
		if err := h.Audit.LogRecordingAccess(ctx, rec.OrgID, rec.ID, actorFrom(c)); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}

	contentType := recording.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	c.DataFromReader(http.StatusOK, recording.ContentLength, contentType, recording.Body, map[string]string{
		"Cache-Control": "private, no-store",
	})
}

func (h Handlers) loadCall(c *gin.Context) (calls.CallRecord, bool) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return calls.CallRecord{}, false
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return calls.CallRecord{}, false
	}
	callID := strings.TrimSpace(c.Param("call_id"))
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return calls.CallRecord{}, false
	}
	rec, err := h.Calls.Get(c.Request.Context(), orgID, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return calls.CallRecord{}, false
		}
		logger.FromGin(c).Error("call lookup failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return calls.CallRecord{}, false
	}
	return rec, true
}

// --- Reports ---

func (h Handlers) CallsSummary(c *gin.Context) {
	orgID, rng, ok := h.reportScope(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		OrgID:   orgID,
		Range:   rng,
		AgentID: strings.TrimSpace(c.Query("agent_id")),
	})
	if err != nil {
		h.reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) AgentBreakdown(c *gin.Context) {
	orgID, rng, ok := h.reportScope(c)
	if !ok {
		return
	}
	out, err := h.Reports.AgentBreakdown(c.Request.Context(), reporting.AgentBreakdownRequest{OrgID: orgID, Range: rng})
	if err != nil {
		h.reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// reportScope reads org from identity and the RFC3339 from/to query; the default range
// is the last 24 hours.
func (h Handlers) reportScope(c *gin.Context) (string, reporting.TimeRange, bool) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return "", reporting.TimeRange{}, false
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return "", reporting.TimeRange{}, false
	}
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return "", reporting.TimeRange{}, false
		}
		rng.From = t
	}
	if v := strings.TrimSpace(c.Query("to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return "", reporting.TimeRange{}, false
		}
		rng.To = t
	}
	return orgID, rng, true
}

func (h Handlers) reportError(c *gin.Context, err error) {
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	logger.FromGin(c).Error("report failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
}

// --- Admin ---

// RunSync sweeps the caller's org immediately and returns its report. Other orgs'
// configurations are never touched or reported.
// RBAC: owner or super_admin.
func (h Handlers) RunSync(c *gin.Context) {
	if h.Sweeper == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "call sync not configured"})
		return
	}
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	report, err := h.Sweeper.RunOnceForOrg(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, telephony.ErrSettingsNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active provider settings"})
			return
		}
		logger.FromGin(c).Error("manual sweep failed", "org_id", orgID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	if h.Audit != nil {
		meta := fmt.Sprintf(`{"configs":%d,"failed_configs":%d}`, len(report.Results), report.Failures())
		if err := h.Audit.LogManualSync(c.Request.Context(), orgID, actorFrom(c), meta); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, report)
}

func actorFrom(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}

// Convenience middleware bundles.

func RequireOrgAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOrg(), rbac.RequireAnyRole(roles...)}
}
