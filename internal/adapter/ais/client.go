// Package ais fetches ETA/ETD predictions from the AIS prediction provider.
package ais

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

// Client calls the prediction provider's HTTP API, one request per ship.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a prediction API client. The timeout bounds each request;
// a timed-out fetch is an ordinary per-ship failure, never an escalation.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// FetchPrediction returns the provider's current arrival prediction for one
// ship. locode, when non-empty, is the explicit-destination parameter used
// under the short-horizon destination-change policy.
//
// Transient failures are retried once before the error is returned.
func (c *Client) FetchPrediction(ctx context.Context, ship domain.Ship, locode string) (domain.Prediction, error) {
	p, err := c.fetch(ctx, ship, locode)
	if err == nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return domain.Prediction{}, err
	}

	c.logger.Warn("prediction fetch failed, retrying once",
		"ship", ship.String(),
		"error", err,
	)
	return c.fetch(ctx, ship, locode)
}

func (c *Client) fetch(ctx context.Context, ship domain.Ship, locode string) (domain.Prediction, error) {
	params := url.Values{}
	switch {
	case ship.MMSI != nil:
		params.Set("mmsi", fmt.Sprint(*ship.MMSI))
	case ship.IMO != nil:
		params.Set("imo", fmt.Sprint(*ship.IMO))
	default:
		return domain.Prediction{}, fmt.Errorf("ship has no identifier")
	}
	if locode != "" {
		params.Set("destination", locode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions?"+params.Encode(), nil)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.Prediction{}, fmt.Errorf("prediction API error: status %d: %s", resp.StatusCode, body)
	}

	var pr predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return domain.Prediction{}, fmt.Errorf("decode response: %w", err)
	}

	return pr.toDomain(ship)
}

// Prediction API response types.

type predictionResponse struct {
	PredictionType  string     `json:"predictionType"`
	Locode          string     `json:"locode"`
	Zone            string     `json:"zoneType"`
	Arrival         *time.Time `json:"arrivalTime"`
	Created         *time.Time `json:"createdAt"`
	ConfidenceLower *time.Time `json:"confidenceIntervalStart"`
	ConfidenceUpper *time.Time `json:"confidenceIntervalEnd"`
	Confirmed       bool       `json:"confirmed"`
	SourcedFrom     string     `json:"predictionSource"`
}

func (pr predictionResponse) toDomain(ship domain.Ship) (domain.Prediction, error) {
	kind, err := domain.ParseEventType(pr.PredictionType)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction response: %w", err)
	}

	source := domain.SourceAISPrediction
	if pr.Confirmed {
		source = domain.SourceAISConfirmed
	}

	return domain.Prediction{
		Source:          source,
		PredictionType:  kind,
		Ship:            ship,
		Locode:          pr.Locode,
		Zone:            domain.Zone(pr.Zone),
		EventTime:       pr.Arrival,
		RecordTime:      pr.Created,
		ConfidenceLower: pr.ConfidenceLower,
		ConfidenceUpper: pr.ConfidenceUpper,
		SourcedFrom:     pr.SourcedFrom,
	}, nil
}
