// Package bungie is the client for the Bungie.net platform API: request
// building, envelope unwrapping, 503 retry with exponential backoff, and a
// shared rate limiter under the pipeline-level concurrency bounds.
package bungie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/metrics"
)

// ErrProfilePrivate indicates a profile whose activity data is hidden.
var ErrProfilePrivate = errors.New("profile is private")

// errServiceUnavailable marks a 503 response; the only retryable failure.
var errServiceUnavailable = errors.New("service unavailable (503)")

// Config holds client construction parameters.
type Config struct {
	APIKey    string
	BaseURL   string
	UserAgent string

	// PageSize is the fixed activity-history page size.
	PageSize int

	// RequestsPerSecond and RequestBurst bound the request rate across all
	// callers; the per-pipeline semaphores bound in-flight requests on top.
	RequestsPerSecond float64
	RequestBurst      int

	Timeout time.Duration

	// MaxRetries bounds retries of 503 responses before they become hard
	// errors.
	MaxRetries uint64

	// RetryBaseDelay is the initial backoff delay, doubled per attempt.
	RetryBaseDelay time.Duration
}

// Client is a Bungie platform API client. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        Config
	log        *logrus.Entry
}

// NewClient creates a platform client from cfg, applying defaults for
// unset tuning fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.bungie.net/Platform"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sherpa"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 7
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
		cfg:        cfg,
		log:        logrus.WithField("component", "bungie"),
	}
}

// PageSize returns the fixed history page size the client requests with.
func (c *Client) PageSize() int { return c.cfg.PageSize }

// SearchPlayer finds accounts matching a global display name and code.
func (c *Client) SearchPlayer(ctx context.Context, name string, code int) ([]PlayerSearchResult, error) {
	body := map[string]any{"displayName": name, "displayNameCode": code}

	raw, err := c.call(ctx, "search_player", http.MethodPost, "/Destiny2/SearchDestinyPlayerByBungieName/All", body)
	if err != nil {
		return nil, err
	}

	var results []PlayerSearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}
	return results, nil
}

// GetProfileInfo fetches display name and character ids for a profile.
func (c *Client) GetProfileInfo(ctx context.Context, p Profile) (ProfileInfo, error) {
	path := fmt.Sprintf("/Destiny2/%d/Profile/%s?components=%d", p.MembershipType, p.MembershipID, componentProfiles)

	raw, err := c.call(ctx, "get_profile", http.MethodGet, path, nil)
	if err != nil {
		return ProfileInfo{}, err
	}

	var payload profilePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ProfileInfo{}, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}
	if payload.Profile.Data == nil {
		return ProfileInfo{}, ErrProfilePrivate
	}
	return ProfileInfo{
		DisplayName:  payload.Profile.Data.UserInfo.DisplayName,
		CharacterIDs: payload.Profile.Data.CharacterIDs,
	}, nil
}

// GetCharacterActivities fetches the live activity state of every character
// on the profile, keyed by character id.
func (c *Client) GetCharacterActivities(ctx context.Context, p Profile) (map[string]CharacterActivity, error) {
	path := fmt.Sprintf("/Destiny2/%d/Profile/%s?components=%d", p.MembershipType, p.MembershipID, componentCharacterActivities)

	raw, err := c.call(ctx, "get_character_activities", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var payload profilePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}
	if payload.CharacterActivities.Data == nil {
		return nil, ErrProfilePrivate
	}
	return payload.CharacterActivities.Data, nil
}

// GetActivityHistory fetches one page of a character's activity history.
// An empty result signals history exhaustion; the listing carries no total
// count.
func (c *Client) GetActivityHistory(ctx context.Context, p Profile, characterID string, page int) ([]activity.Completed, error) {
	path := fmt.Sprintf("/Destiny2/%d/Account/%s/Character/%s/Stats/Activities?mode=0&count=%d&page=%d",
		p.MembershipType, p.MembershipID, characterID, c.cfg.PageSize, page)

	raw, err := c.call(ctx, "get_activity_history", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var payload historyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}
	return payload.completed(), nil
}

// GetPostGameCarnageReport fetches the detail record for one activity
// instance.
func (c *Client) GetPostGameCarnageReport(ctx context.Context, instanceID string) (PGCR, error) {
	path := "/Destiny2/Stats/PostGameCarnageReport/" + instanceID

	raw, err := c.call(ctx, "get_pgcr", http.MethodGet, path, nil)
	if err != nil {
		return PGCR{}, err
	}

	var pgcr PGCR
	if err := json.Unmarshal(raw, &pgcr); err != nil {
		return PGCR{}, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}
	return pgcr, nil
}

// GetActivityDefinition fetches the static definition for an activity type
// hash. A success envelope without a payload surfaces as ErrResponseMissing,
// which callers treat as "no such definition".
func (c *Client) GetActivityDefinition(ctx context.Context, hash uint32) (ActivityInfo, error) {
	path := fmt.Sprintf("/Destiny2/Manifest/DestinyActivityDefinition/%d", hash)

	raw, err := c.call(ctx, "get_activity_definition", http.MethodGet, path, nil)
	if err != nil {
		return ActivityInfo{}, err
	}

	var payload definitionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ActivityInfo{}, &DecodeError{StatusCode: http.StatusOK, Err: err}
	}
	return ActivityInfo{
		Name:        payload.DisplayProperties.Name,
		Description: payload.DisplayProperties.Description,
	}, nil
}

// call performs one platform request, retrying 503 responses with
// exponential backoff and unwrapping the response envelope.
func (c *Client) call(ctx context.Context, operation, method, path string, body any) (json.RawMessage, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var result json.RawMessage

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	err := backoff.Retry(
		func() error {
			if attempt > 0 {
				metrics.APIRetries.Inc()
			}
			attempt++

			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}

			req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(reqBody))
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("User-Agent", c.cfg.UserAgent)
			req.Header.Set("X-API-Key", c.cfg.APIKey)
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("request failed: %w", err))
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusServiceUnavailable {
				c.log.Warnf("%s: service unavailable (503), retrying...", operation)
				return errServiceUnavailable
			}

			text, err := io.ReadAll(resp.Body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to read response body: %w", err))
			}

			var env envelope
			if err := json.Unmarshal(text, &env); err != nil {
				return backoff.Permanent(&DecodeError{StatusCode: resp.StatusCode, Err: err})
			}

			if env.ErrorCode != errorCodeSuccess {
				return backoff.Permanent(&APIError{
					Message:         env.Message,
					ErrorCode:       env.ErrorCode,
					ThrottleSeconds: env.ThrottleSeconds,
				})
			}
			if len(env.Response) == 0 || string(env.Response) == "null" {
				return backoff.Permanent(ErrResponseMissing)
			}

			result = env.Response
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx),
	)

	if err != nil {
		metrics.APIRequests.WithLabelValues(operation, "error").Inc()

		// backoff returns the last retryable error once retries run out.
		if errors.Is(err, errServiceUnavailable) {
			return nil, fmt.Errorf("bungie API unavailable (503) after %d retries", c.cfg.MaxRetries)
		}
		return nil, err
	}

	metrics.APIRequests.WithLabelValues(operation, "success").Inc()
	return result, nil
}
