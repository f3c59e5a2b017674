package laddel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/strxno/ha-laddel/internal/config"
	"github.com/strxno/ha-laddel/internal/util"
)

// BaseURL is the production API origin.
const BaseURL = "https://api.laddel.no/v1"

// Service-identification headers matching the mobile app.
const (
	userAgent = "Dart/3.7 (dart:io)"
	appHeader = "Laddel_1.23.2+10230201"
)

const (
	subscriptionPath     = "/api/facility/subscription"
	currentSessionPath   = "/api/session/get-current-session"
	facilityInfoPath     = "/api/facility/information"
	operatingModePath    = "/api/charger/operating-mode"
	latestChargersPath   = "/api/charger/latest-chargers"
	sessionHistoryPath   = "/api/session/history"
	notificationSyncPath = "/api/notification/synchronize-token"
	startSessionPath     = "/api/session/start-session"
	stopSessionPath      = "/api/session/stop-session"
)

// TokenSource supplies a valid access token, refreshing it first if needed.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// ResourceError reports a non-success status from a resource endpoint,
// carrying the provider's diagnostics.
type ResourceError struct {
	Resource string
	Status   int
	Body     string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("laddel: %s request failed: status %d: %s", e.Resource, e.Status, e.Body)
}

// Client calls the Laddel resource endpoints. Every request carries a bearer
// token obtained from the token source plus the fixed app headers.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

// NewClient builds a client using the configured request timeout and proxy.
func NewClient(cfg *config.Config, tokens TokenSource) *Client {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout()}
	return &Client{
		httpClient: util.SetProxy(cfg, httpClient),
		baseURL:    BaseURL,
		tokens:     tokens,
	}
}

// CurrentSession fetches the active charging session. It returns (nil, nil)
// when no session is active: the provider signals that either with a 404 or
// with a 200 body carrying an errorKey instead of session fields.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	raw, err := c.get(ctx, "current session", currentSessionPath, nil)
	if err != nil {
		var re *ResourceError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if gjson.GetBytes(raw, "errorKey").Exists() {
		return nil, nil
	}
	return parseSession(raw), nil
}

// Subscription fetches the account subscription status.
func (c *Client) Subscription(ctx context.Context) (*Subscription, error) {
	raw, err := c.get(ctx, "subscription", subscriptionPath, nil)
	if err != nil {
		return nil, err
	}
	return &Subscription{Raw: raw}, nil
}

// FacilityInfo fetches facility metadata by facility id.
func (c *Client) FacilityInfo(ctx context.Context, facilityID string) (*Facility, error) {
	raw, err := c.get(ctx, "facility info", facilityInfoPath, url.Values{"id": {facilityID}})
	if err != nil {
		return nil, err
	}
	return &Facility{Raw: raw}, nil
}

// OperatingMode fetches the live operating mode of one charger.
func (c *Client) OperatingMode(ctx context.Context, chargerID string) (*OperatingMode, error) {
	raw, err := c.get(ctx, "operating mode", operatingModePath, url.Values{"chargerId": {chargerID}})
	if err != nil {
		return nil, err
	}
	return &OperatingMode{ChargerID: chargerID, Raw: raw}, nil
}

// LatestChargers fetches the most recently used chargers.
func (c *Client) LatestChargers(ctx context.Context) (*ChargerList, error) {
	raw, err := c.get(ctx, "latest chargers", latestChargersPath, nil)
	if err != nil {
		return nil, err
	}
	return &ChargerList{Raw: raw}, nil
}

// SessionHistory fetches one page of session history, page 0 being the most
// recent.
func (c *Client) SessionHistory(ctx context.Context, page int) (*SessionPage, error) {
	raw, err := c.get(ctx, "session history", sessionHistoryPath, url.Values{"page": {strconv.Itoa(page)}})
	if err != nil {
		return nil, err
	}
	return &SessionPage{Page: page, Raw: raw}, nil
}

func (c *Client) get(ctx context.Context, resource, path string, query url.Values) ([]byte, error) {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("laddel: create %s request: %w", resource, err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("laddel: %s request: %w", resource, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("laddel: read %s response: %w", resource, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ResourceError{Resource: resource, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, resource, path string, payload any) error {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("laddel: encode %s request: %w", resource, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("laddel: create %s request: %w", resource, err)
	}
	c.setHeaders(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("laddel: %s request: %w", resource, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := readBody(resp)
		return &ResourceError{Resource: resource, Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-app", appHeader)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+token)
}

// readBody drains the response, decompressing when the provider honored the
// gzip offer. Setting Accept-Encoding by hand disables the transport's
// transparent decompression, so it is handled here.
func readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}
	return io.ReadAll(reader)
}
