// ABOUTME: HTTP client for the rt.data.gov.hk real-time next-train API.
// ABOUTME: One GET per schedule lookup with a hard request timeout.

package mtr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the production schedule endpoint.
const DefaultBaseURL = "https://rt.data.gov.hk/v1/transport/mtr/getSchedule.php"

const requestTimeout = 10 * time.Second

// Train is one predicted arrival.
type Train struct {
	Dest string `json:"dest"`
	Plat string `json:"plat"`
	Time string `json:"time"`
	TTNT string `json:"ttnt"`
	Seq  string `json:"seq,omitempty"`
}

// Platform holds both directions of predictions for one line-station
// pair, keyed in the response as "LINE-STA".
type Platform struct {
	CurrTime string  `json:"curr_time"`
	SysTime  string  `json:"sys_time"`
	Up       []Train `json:"UP"`
	Down     []Train `json:"DOWN"`
}

// APIError is the upstream error wrapper, e.g. NT-204 when a station
// has no realtime contents.
type APIError struct {
	Code string `json:"errorCode"`
	Msg  string `json:"errorMsg"`
}

// ScheduleResponse mirrors the upstream payload. Error is non-nil
// when the API rejected the query; Status 0 with a Message covers
// soft failures like suspended realtime feeds.
type ScheduleResponse struct {
	Status   int                 `json:"status"`
	Message  string              `json:"message"`
	CurrTime string              `json:"curr_time"`
	SysTime  string              `json:"sys_time"`
	IsDelay  string              `json:"isdelay"`
	Data     map[string]Platform `json:"data"`
	Error    *APIError           `json:"error"`
}

// Delayed reports whether the operator flagged a service delay.
func (r *ScheduleResponse) Delayed() bool { return r.IsDelay == "Y" }

// Platform returns the single line-station entry of the response.
func (r *ScheduleResponse) Platform() (Platform, bool) {
	for _, p := range r.Data {
		return p, true
	}
	return Platform{}, false
}

// Client fetches schedules. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a schedule client. An empty baseURL selects the
// production endpoint.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With("component", "mtr"),
	}
}

// Schedule fetches next-train predictions for a line and station.
// line and sta must already be canonical codes; lang is "EN" or "TC".
// An upstream error wrapper is returned in the response, not as a Go
// error, so callers can surface the operator's message.
func (c *Client) Schedule(ctx context.Context, line, sta, lang string) (*ScheduleResponse, error) {
	if lang == "" {
		lang = "EN"
	}

	q := url.Values{}
	q.Set("line", line)
	q.Set("sta", sta)
	q.Set("lang", lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building schedule request: %w", err)
	}

	c.logger.Debug("fetching schedule", "line", line, "sta", sta, "lang", lang)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching schedule: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schedule API returned status %d", resp.StatusCode)
	}

	var sched ScheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&sched); err != nil {
		return nil, fmt.Errorf("decoding schedule response: %w", err)
	}
	return &sched, nil
}
