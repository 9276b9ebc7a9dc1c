// Package forecast fetches load and solar forecasts from the reporter
// service and resamples them onto the optimization grid.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/mfallas/mpcdispatch/core/model"
	"github.com/mfallas/mpcdispatch/infra/logger"
)

// Config defines the reporter service connection.
type Config struct {
	BaseURL        string `json:"base_url"`
	AuthToken      string `json:"auth_token"`
	PointID        string `json:"point_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PointID == "" {
		c.PointID = "poi_1"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
	}
}

// Client retrieves forecasts over HTTP. The reporter returns load as hourly
// samples and solar at finer resolution; both are linearly interpolated
// onto the horizon grid starting at the current time.
type Client struct {
	cfg   Config
	http  *http.Client
	steps int
	step  time.Duration
	log   logger.Logger
	now   func() time.Time
}

// NewClient creates a forecast client for a horizon of steps points spaced
// step apart.
func NewClient(cfg Config, steps int, step time.Duration, log logger.Logger) *Client {
	cfg.SetDefaults()
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		steps: steps,
		step:  step,
		log:   log,
		now:   time.Now,
	}
}

type point struct {
	ts time.Time
	v  float64
}

// FetchLoad retrieves the load forecast in kW.
func (c *Client) FetchLoad(ctx context.Context) (model.Series, error) {
	url := fmt.Sprintf("%s/api/forecasts/load/%s", c.cfg.BaseURL, c.cfg.PointID)
	return c.fetch(ctx, url, parseLoad)
}

// FetchSolar retrieves the solar generation forecast in kW.
func (c *Client) FetchSolar(ctx context.Context) (model.Series, error) {
	url := fmt.Sprintf("%s/api/forecasts/solar/%s", c.cfg.BaseURL, c.cfg.PointID)
	return c.fetch(ctx, url, parseSolar)
}

func (c *Client) fetch(ctx context.Context, url string, parse func([]byte) ([]point, error)) (model.Series, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.Series{}, err
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.Series{}, fmt.Errorf("reporter request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warnf("close response body: %v", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return model.Series{}, fmt.Errorf("reporter returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Series{}, fmt.Errorf("read reporter response: %w", err)
	}
	pts, err := parse(body)
	if err != nil {
		return model.Series{}, fmt.Errorf("parse reporter response: %w", err)
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].ts.Before(pts[j].ts) })
	return c.resample(pts, c.now())
}

// resample interpolates the raw samples onto the horizon grid.
func (c *Client) resample(pts []point, start time.Time) (model.Series, error) {
	if len(pts) < 2 {
		return model.Series{}, fmt.Errorf("forecast has %d samples, need at least 2", len(pts))
	}
	s := model.Series{
		Values:     make([]float64, c.steps),
		Timestamps: make([]time.Time, c.steps),
	}
	for i := 0; i < c.steps; i++ {
		ts := start.Add(time.Duration(i) * c.step)
		v, err := interpolate(pts, ts)
		if err != nil {
			return model.Series{}, err
		}
		s.Timestamps[i] = ts
		s.Values[i] = v
	}
	return s, nil
}

func interpolate(pts []point, ts time.Time) (float64, error) {
	if ts.Before(pts[0].ts) || ts.After(pts[len(pts)-1].ts) {
		return 0, fmt.Errorf("horizon point %s outside forecast coverage [%s,%s]",
			ts.Format(time.RFC3339), pts[0].ts.Format(time.RFC3339), pts[len(pts)-1].ts.Format(time.RFC3339))
	}
	i := sort.Search(len(pts), func(j int) bool { return !pts[j].ts.Before(ts) })
	if pts[i].ts.Equal(ts) {
		return pts[i].v, nil
	}
	lo, hi := pts[i-1], pts[i]
	frac := ts.Sub(lo.ts).Seconds() / hi.ts.Sub(lo.ts).Seconds()
	return lo.v + frac*(hi.v-lo.v), nil
}

func parseLoad(body []byte) ([]point, error) {
	var raw []struct {
		DS    string  `json:"ds"`
		Power float64 `json:"hourly_power"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	pts := make([]point, len(raw))
	for i, r := range raw {
		ts, err := time.Parse(time.RFC3339, r.DS)
		if err != nil {
			return nil, fmt.Errorf("load timestamp %q: %w", r.DS, err)
		}
		pts[i] = point{ts: ts, v: r.Power}
	}
	return pts, nil
}

func parseSolar(body []byte) ([]point, error) {
	var raw []struct {
		Index string  `json:"index"`
		Power float64 `json:"power_expected"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	pts := make([]point, len(raw))
	for i, r := range raw {
		ts, err := time.Parse(time.RFC3339, r.Index)
		if err != nil {
			return nil, fmt.Errorf("solar timestamp %q: %w", r.Index, err)
		}
		pts[i] = point{ts: ts, v: r.Power}
	}
	return pts, nil
}
