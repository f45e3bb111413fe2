// Package registryclient is the peer's HTTP client for the meeting
// registry. Calls go through a circuit breaker and retry transient
// failures; HTTP statuses come back as *errors.AppError whose cause is the
// matching domain sentinel.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"meetsync/internal/core/domain"
	"meetsync/pkg/cache"
	"meetsync/pkg/circuitbreaker"
	"meetsync/pkg/config"
	apperrors "meetsync/pkg/errors"
	"meetsync/pkg/retry"
	"meetsync/pkg/tracing"
)

type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config

	profiles *cache.TTL[domain.MeetingID, map[domain.AttendeeID]domain.Profile]
	logger   *zap.SugaredLogger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(cfg *config.Config, logger *zap.SugaredLogger, opts ...Option) *Client {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Client.RetryAttempts
	retryCfg.Enabled = cfg.Client.RetryAttempts > 0
	if cfg.Client.RetryDelay > 0 {
		retryCfg.InitialDelay = cfg.Client.RetryDelay
	}
	retryCfg.ShouldRetry = transient

	cbCfg := circuitbreaker.DefaultConfig()
	if cfg.Client.BreakerFailures > 0 {
		cbCfg.FailureThreshold = cfg.Client.BreakerFailures
	}
	if cfg.Client.BreakerCooldown > 0 {
		cbCfg.Timeout = cfg.Client.BreakerCooldown
	}
	cbCfg.IsFailure = transient

	c := &Client{
		baseURL:  strings.TrimRight(cfg.Session.RegistryURL, "/"),
		http:     &http.Client{Timeout: cfg.Session.RegistryTimeout},
		breaker:  circuitbreaker.New(cbCfg),
		retry:    retryCfg,
		profiles: cache.NewTTL[domain.MeetingID, map[domain.AttendeeID]domain.Profile](cfg.Client.ProfileCacheTTL),
		logger:   logger,
	}
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("registry circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error) {
	var out struct {
		HostID domain.AttendeeID `json:"hostId"`
	}
	err := c.call(ctx, "get_host", id, http.MethodGet, "/host/"+escape(id), nil, &out, domain.ErrHostNotFound)
	return out.HostID, err
}

func (c *Client) AssignHost(ctx context.Context, id domain.MeetingID, currentHost, newHost domain.AttendeeID) error {
	body := map[string]domain.AttendeeID{
		"currentHostId": currentHost,
		"newHostId":     newHost,
	}
	return c.call(ctx, "assign_host", id, http.MethodPost, "/assign-host/"+escape(id), body, nil, nil)
}

func (c *Client) GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error) {
	var out struct {
		Collaborators []domain.AttendeeID `json:"collaborators"`
	}
	err := c.call(ctx, "get_collaborators", id, http.MethodGet, "/collaborators/"+escape(id), nil, &out, nil)
	return out.Collaborators, err
}

func (c *Client) SetCollaborators(ctx context.Context, id domain.MeetingID, currentHost domain.AttendeeID, ids []domain.AttendeeID) ([]domain.AttendeeID, error) {
	raw := make([]string, len(ids))
	for i, a := range ids {
		raw[i] = string(a)
	}
	body := struct {
		CurrentHostID   domain.AttendeeID `json:"currentHostId"`
		CollaboratorIDs []string          `json:"collaboratorIds"`
	}{currentHost, raw}

	var out struct {
		Collaborators []domain.AttendeeID `json:"collaborators"`
	}
	err := c.call(ctx, "set_collaborators", id, http.MethodPost, "/collaborators/"+escape(id), body, &out, nil)
	return out.Collaborators, err
}

func (c *Client) GetMeetingDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error) {
	var out domain.MeetingDetails
	err := c.call(ctx, "get_meeting_details", id, http.MethodGet, "/meeting-details/"+escape(id), nil, &out, nil)
	return out, err
}

func (c *Client) SaveMeetingDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error {
	return c.call(ctx, "save_meeting_details", id, http.MethodPost, "/meeting-details/"+escape(id), details, nil, nil)
}

// GetProfiles is served from a short-lived cache per meeting.
func (c *Client) GetProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error) {
	return c.profiles.GetOrLoad(ctx, id, func(ctx context.Context) (map[domain.AttendeeID]domain.Profile, error) {
		var out struct {
			Profiles map[domain.AttendeeID]domain.Profile `json:"profiles"`
		}
		if err := c.call(ctx, "get_profiles", id, http.MethodGet, "/profile/"+escape(id), nil, &out, nil); err != nil {
			return nil, err
		}
		if out.Profiles == nil {
			out.Profiles = map[domain.AttendeeID]domain.Profile{}
		}
		return out.Profiles, nil
	})
}

func (c *Client) SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error {
	c.profiles.Delete(id)
	return c.call(ctx, "save_profile", id, http.MethodPost, "/profile/"+escape(id), profile, nil, nil)
}

// call runs one registry request under the breaker with retries. notFound,
// when set, becomes the cause of a 404.
func (c *Client) call(ctx context.Context, op string, id domain.MeetingID, method, path string, body, out interface{}, notFound error) error {
	ctx, span := tracing.TraceRegistryCall(ctx, op, string(id))
	defer span.End()
	start := time.Now()
	defer tracing.MeasureDuration(ctx, start)

	err := retry.Retry(ctx, c.retry, func() error {
		return c.breaker.Execute(ctx, func() error {
			return c.do(ctx, method, path, body, out, notFound)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Debugw("registry call failed",
			"operation", op,
			"meeting_id", id,
			"error", err,
		)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, notFound error) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "registry unreachable", http.StatusServiceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp, notFound)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeBadGateway, "malformed registry response", http.StatusBadGateway)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError rebuilds the registry's AppError and attaches the domain
// sentinel the session branches on.
func statusError(resp *http.Response, notFound error) error {
	var body errorBody
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	appErr := apperrors.FromHTTPStatus(resp.StatusCode, body.Message)
	if body.Error != "" {
		appErr.Code = apperrors.ErrorCode(body.Error)
	}

	switch {
	case appErr.Code == apperrors.ErrCodeCapacityExceeded:
		appErr.Cause = domain.ErrMeetingFull
	case resp.StatusCode == http.StatusForbidden:
		appErr.Cause = domain.ErrNotHost
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(body.Message), "collaborator"):
		appErr.Cause = domain.ErrTooManyCollabs
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		appErr.Cause = notFound
	case resp.StatusCode == http.StatusNotFound:
		appErr.Cause = domain.ErrMeetingNotFound
	}
	return appErr
}

// transient reports whether err is worth retrying and counts against the
// breaker: transport failures and 5xx, never 4xx.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if apperrors.IsClientError(err) {
		return apperrors.GetAppError(err).HTTPStatus == http.StatusTooManyRequests
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr.HTTPStatus >= http.StatusInternalServerError
	}
	return true
}

func escape(id domain.MeetingID) string {
	return url.PathEscape(string(id))
}
