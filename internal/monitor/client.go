// Package monitor fetches airplay metadata from the Media Monitors web
// services and turns it into a job list.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psantana5/airplay-fetch/pkg/logging"
	"github.com/psantana5/airplay-fetch/pkg/models"
	"github.com/psantana5/airplay-fetch/pkg/ratelimit"
	"github.com/psantana5/airplay-fetch/pkg/retry"
)

// DefaultBaseURL is the production service endpoint
const DefaultBaseURL = "https://data.mediamonitors.com/mmwebservices/service1.asmx"

const maxResponseBytes = 64 << 20

// ErrNoStations is returned when the account has no licensed stations
var ErrNoStations = errors.New("no licensed stations")

// Config holds the service client settings
type Config struct {
	BaseURL         string
	Username        string
	Password        string
	RequestInterval time.Duration // Pause between station requests
	Timeout         time.Duration // Per request
	TestMode        bool          // Query the first station only
	Retry           retry.Config
}

// DefaultConfig returns the production client settings without credentials
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		RequestInterval: time.Second,
		Timeout:         60 * time.Second,
		Retry:           retry.DefaultConfig(),
	}
}

// Client talks to the monitoring service
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *logging.Logger
}

// NewClient creates a client. Credentials are required.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("monitoring service credentials are not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.Every(cfg.RequestInterval),
		logger:  logger,
	}, nil
}

// LicensedStations returns the station ids the account may query
func (c *Client) LicensedStations(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "GetLicensedStations", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stations: %w", err)
	}
	root, err := parseXML(body)
	if err != nil {
		return nil, fmt.Errorf("stations: %w", err)
	}

	var stations []string
	root.walk(func(n *node) {
		if id, ok := n.child("StationID"); ok && id != "" {
			stations = append(stations, id)
		}
	})
	return stations, nil
}

// Snapshot returns the number of airplay records for a station in the
// window and the creatives they reference, deduplicated by creative id.
func (c *Client) Snapshot(ctx context.Context, stationID string, start, end time.Time) (int, []models.Creative, error) {
	params := url.Values{
		"stationID":    {stationID},
		"startTimeStr": {start.Format(models.CLIDateLayout)},
		"endTimeStr":   {end.Format(models.CLIDateLayout)},
	}
	body, err := c.get(ctx, "GetAirPlaySnapshotString", params)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch snapshot for station %s: %w", stationID, err)
	}
	root, err := parseXML(body)
	if err != nil {
		return 0, nil, fmt.Errorf("snapshot for station %s: %w", stationID, err)
	}

	records := 0
	set := newCreativeSet()
	root.walk(func(n *node) {
		if n.XMLName.Local != "Table3" {
			return
		}
		records++
		f := n.fields()
		c := models.Creative{
			CreativeID:   f["CreativeID"],
			AircheckID:   f["aircheck_id"],
			CreativeName: f["Account_x002F_Title"],
			StationID:    stationID,
			StartTime:    f["start_time"],
			EndTime:      f["end_time"],
		}
		if c.CreativeID != "" && c.CreativeName != "" {
			set.put(c)
		}
	})
	return records, set.list(), nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("username", c.cfg.Username)
	params.Set("password", c.cfg.Password)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + method + "?" + params.Encode()

	var body []byte
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		if err := c.limiter.Wait(ctx, "service"); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn(fmt.Sprintf("[Monitor] %s request failed: %s", method, redact(err.Error(), c.cfg.Password)))
			return errors.New(redact(err.Error(), c.cfg.Password))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read %s response: %w", method, err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn(fmt.Sprintf("[Monitor] %s returned %d", method, resp.StatusCode))
			return fmt.Errorf("%s: status %d", method, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, snippet(data)))
		}
		body = data
		return nil
	})
	return body, err
}

// redact keeps the password out of url errors and logs
func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(secret), "REDACTED")
	return strings.ReplaceAll(s, secret, "REDACTED")
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// creativeSet dedupes by creative id: the first sighting fixes the
// position, the last one wins the fields.
type creativeSet struct {
	order []string
	byID  map[string]models.Creative
}

func newCreativeSet() *creativeSet {
	return &creativeSet{byID: make(map[string]models.Creative)}
}

func (s *creativeSet) put(c models.Creative) {
	if _, ok := s.byID[c.CreativeID]; !ok {
		s.order = append(s.order, c.CreativeID)
	}
	s.byID[c.CreativeID] = c
}

func (s *creativeSet) list() []models.Creative {
	out := make([]models.Creative, len(s.order))
	for i, id := range s.order {
		out[i] = s.byID[id]
	}
	return out
}
