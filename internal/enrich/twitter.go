package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const lookupEndpoint = "https://api.twitter.com/1.1/users/lookup.json"

// TwitterSource resolves ids against the v1.1 bulk lookup endpoint with a
// bearer token. 429 responses are retried after the window the Retry-After
// header names.
type TwitterSource struct {
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
}

func NewTwitterSource(bearerToken string, logger *slog.Logger) *TwitterSource {
	return &TwitterSource{
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), MaxInFlight),
		logger:      logger,
	}
}

func (t *TwitterSource) Lookup(ctx context.Context, ids []string) ([]Profile, error) {
	body, err := t.lookupOnce(ctx, ids)
	if err != nil {
		return nil, err
	}

	var results []struct {
		IDStr           string `json:"id_str"`
		ScreenName      string `json:"screen_name"`
		Name            string `json:"name"`
		Description     string `json:"description"`
		ProfileImageURL string `json:"profile_image_url_https"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("decoding lookup response: %w", err)
	}

	profiles := make([]Profile, 0, len(results))
	for _, r := range results {
		p := Profile{
			ID:          r.IDStr,
			Handle:      r.ScreenName,
			DisplayName: r.Name,
			Bio:         r.Description,
		}
		if r.ProfileImageURL != "" {
			avatar, format, err := t.fetchAvatar(ctx, r.ProfileImageURL)
			if err != nil {
				t.logger.Warn("avatar_fetch_failed", "user_id", r.IDStr, "error", err)
			} else {
				p.Avatar, p.AvatarFormat = avatar, format
			}
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (t *TwitterSource) lookupOnce(ctx context.Context, ids []string) ([]byte, error) {
	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		form := url.Values{"user_id": {strings.Join(ids, ",")}}
		req, err := http.NewRequestWithContext(ctx, "POST", lookupEndpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+t.bearerToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			// every id in the batch is gone
			return []byte("[]"), nil
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp)
			t.logger.Warn("lookup_rate_limited", "wait", wait.String())
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			return nil, fmt.Errorf("lookup returned status %d", resp.StatusCode)
		}
	}
}

// fetchAvatar downloads the full-size variant of a profile image. The API
// hands out the "_normal" (48px) rendition; swapping the suffix yields 400px.
func (t *TwitterSource) fetchAvatar(ctx context.Context, imageURL string) ([]byte, string, error) {
	fullURL := strings.Replace(imageURL, "_normal", "_400x400", 1)

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("avatar fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	format := strings.TrimPrefix(path.Ext(fullURL), ".")
	if format == "" {
		format = "jpg"
	}
	return data, format, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}
