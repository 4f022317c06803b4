// Package registry queries the charge-point registry (OICP EVSE data pull)
// for the charge points a provider can see.
package registry

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	certerrors "certgen/internal/errors"
	"certgen/internal/models"
)

// DefaultTimeout bounds the single registry request.
const DefaultTimeout = 5 * time.Minute

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 4096

// Query is the request payload of an EVSE data pull.
type Query struct {
	GeoCoordinatesResponseFormat string   `json:"GeoCoordinatesResponseFormat"`
	CountryCodes                 []string `json:"CountryCodes"`
	ProviderID                   string   `json:"ProviderID"`
}

// response mirrors the nested operator → records layout of the registry.
type response struct {
	EvseData struct {
		OperatorEvseData []struct {
			OperatorID     string                 `json:"OperatorID"`
			EvseDataRecord []models.RegistryEntry `json:"EvseDataRecord"`
		} `json:"OperatorEvseData"`
	} `json:"EvseData"`
}

// Options configures a Client.
type Options struct {
	Endpoint           string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client performs registry queries over mutually authenticated TLS.
type Client struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger
}

// New loads the client certificate pair and builds a Client.
func New(opts Options, logger zerolog.Logger) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, certerrors.NewConfigurationError("loading client certificate %s: %v", opts.CertFile, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // opt-in, some registries use private CAs
		MinVersion:         tls.VersionTLS12,
	}

	return NewWithHTTPClient(opts.Endpoint, &http.Client{Transport: transport, Timeout: timeoutOrDefault(opts.Timeout)}, logger), nil
}

// NewWithHTTPClient builds a Client around an existing http.Client.
func NewWithHTTPClient(endpoint string, hc *http.Client, logger zerolog.Logger) *Client {
	return &Client{endpoint: endpoint, http: hc, logger: logger}
}

// FetchKnownChargePoints issues one POST and returns every EVSE record,
// in operator order then record order. Any non-200 status is a RegistryError.
func (c *Client) FetchKnownChargePoints(ctx context.Context, q Query) ([]models.RegistryEntry, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, &certerrors.RegistryError{Endpoint: c.endpoint, Err: fmt.Errorf("encoding query: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &certerrors.RegistryError{Endpoint: c.endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	c.logger.Debug().Str("endpoint", c.endpoint).Strs("countries", q.CountryCodes).Str("provider", q.ProviderID).Msg("Querying registry")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &certerrors.RegistryError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &certerrors.RegistryError{
			Endpoint:   c.endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &certerrors.RegistryError{Endpoint: c.endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}

	var entries []models.RegistryEntry
	for _, op := range decoded.EvseData.OperatorEvseData {
		entries = append(entries, op.EvseDataRecord...)
	}

	c.logger.Info().
		Int("operators", len(decoded.EvseData.OperatorEvseData)).
		Int("charge_points", len(entries)).
		Dur("elapsed", time.Since(start)).
		Msg("Registry snapshot fetched")
	return entries, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
