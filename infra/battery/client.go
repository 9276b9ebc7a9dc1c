// Package battery talks to the BMS service: SoC telemetry in, dispatch
// commands out.
package battery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mfallas/mpcdispatch/infra/logger"
)

// Config defines the BMS service connection.
type Config struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Client is the HTTP client for the BMS service.
type Client struct {
	cfg  Config
	http *http.Client
	log  logger.Logger
}

// NewClient creates a BMS client.
func NewClient(cfg Config, log logger.Logger) *Client {
	cfg.SetDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:  log,
	}
}

// ReadSoC fetches the current state of charge. Readings outside [0,1] are
// reported as errors so the caller can fall back to its configured value.
func (c *Client) ReadSoC(ctx context.Context) (float64, error) {
	url := c.cfg.BaseURL + "/api/battery/soc"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("bms request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("bms returned %s", resp.Status)
	}
	var body struct {
		SoC    float64 `json:"soc"`
		Source string  `json:"source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode soc response: %w", err)
	}
	if body.SoC < 0 || body.SoC > 1 {
		return 0, fmt.Errorf("soc %.3f outside [0,1]", body.SoC)
	}
	c.log.Debugf("soc %.3f from %s", body.SoC, body.Source)
	return body.SoC, nil
}

// SendCommand pushes a battery power command. Positive = charge.
func (c *Client) SendCommand(ctx context.Context, commandID string, powerKW float64, ts time.Time) error {
	payload, err := json.Marshal(struct {
		CommandID string    `json:"command_id"`
		PowerKW   float64   `json:"power_kw"`
		Timestamp time.Time `json:"timestamp"`
	}{CommandID: commandID, PowerKW: powerKW, Timestamp: ts})
	if err != nil {
		return err
	}
	url := c.cfg.BaseURL + "/api/battery/dispatch"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bms dispatch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bms dispatch returned %s", resp.Status)
	}
	c.log.Infof("battery command sent: %.2f kW", powerKW)
	return nil
}
