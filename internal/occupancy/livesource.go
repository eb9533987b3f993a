package occupancy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raum-tracker/occupancy/internal/httputil"
)

// LiveSample is a usable measurement from the external live counter service.
type LiveSample struct {
	CounterRaw   int
	DisplayCount int
}

// liveResponse mirrors the JSON the counter firmware serves. Field names are
// the wire contract; pointers distinguish absent fields from zero values.
type liveResponse struct {
	HasData           bool     `json:"has_data"`
	Count             *int     `json:"count"`
	DisplayCount      *int     `json:"display_count"`
	SoundDB           *float64 `json:"sound_db"`
	SecondsSinceCount *int64   `json:"seconds_since_count_update"`
}

// LiveSource fetches the external live counter endpoint. It is the only
// network call on the evaluation path, so every fetch is bounded by Timeout
// and every failure degrades to "no live data".
type LiveSource struct {
	URL     string
	Client  httputil.HTTPClient
	Timeout time.Duration

	// MaxAge rejects samples whose count update is older than this.
	// Zero disables the staleness check.
	MaxAge time.Duration
}

// NewLiveSource creates a live source for the given endpoint. A nil client
// gets a standard HTTP client.
func NewLiveSource(url string, client httputil.HTTPClient, timeout, maxAge time.Duration) *LiveSource {
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: timeout})
	}
	return &LiveSource{URL: url, Client: client, Timeout: timeout, MaxAge: maxAge}
}

// Fetch queries the live endpoint. It returns nil, nil when the service is
// reachable but has no usable data (has_data false, missing counts, stale
// sample); transport and decode failures return an error. Either way the
// caller falls through to the next source.
func (s *LiveSource) Fetch(ctx context.Context) (*LiveSample, error) {
	if s == nil || s.URL == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build live source request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live source fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("live source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("failed to read live source response: %w", err)
	}

	var payload liveResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode live source response: %w", err)
	}

	// A usable sample needs has_data plus both count fields.
	if !payload.HasData || payload.Count == nil || payload.DisplayCount == nil {
		return nil, nil
	}
	if s.MaxAge > 0 && payload.SecondsSinceCount != nil {
		age := time.Duration(*payload.SecondsSinceCount) * time.Second
		if age > s.MaxAge {
			return nil, nil
		}
	}

	sample := &LiveSample{CounterRaw: *payload.Count, DisplayCount: *payload.DisplayCount}
	if sample.CounterRaw < 0 {
		sample.CounterRaw = 0
	}
	if sample.DisplayCount < 0 {
		sample.DisplayCount = 0
	}
	return sample, nil
}
