package firewall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultReputationEndpoint is the AbuseIPDB v2 check endpoint the gateway
// queries unless an override is supplied.
const DefaultReputationEndpoint = "https://api.abuseipdb.com/api/v2/check"

// reputationTimeout bounds how long one command may wait on the provider.
const reputationTimeout = 10 * time.Second

// ReputationClient talks to an AbuseIPDB-style scoring endpoint. The wire
// contract is narrow: address in the query string, credential in the Key
// header, JSON body carrying data.abuseConfidenceScore.
type ReputationClient struct {
	endpoint string
	client   *http.Client
}

// NewReputationClient builds a client for endpoint. Empty endpoint selects
// DefaultReputationEndpoint.
func NewReputationClient(endpoint string) *ReputationClient {
	if endpoint == "" {
		endpoint = DefaultReputationEndpoint
	}
	return &ReputationClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: reputationTimeout},
	}
}

// Score fetches the abuse confidence score for ip. Any transport, status,
// or shape problem comes back as an error.
func (c *ReputationClient) Score(ctx context.Context, ip, apiKey string) (int, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return 0, fmt.Errorf("firewall: reputation endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", "90")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("firewall: build reputation request: %w", err)
	}
	req.Header.Set("Key", apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("firewall: reputation call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("firewall: reputation provider returned status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			AbuseConfidenceScore *int `json:"abuseConfidenceScore"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return 0, fmt.Errorf("firewall: decode reputation response: %w", err)
	}
	if body.Data.AbuseConfidenceScore == nil {
		return 0, errors.New("firewall: reputation response missing abuseConfidenceScore")
	}
	return *body.Data.AbuseConfidenceScore, nil
}
