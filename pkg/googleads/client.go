// Package googleads provides a minimal Google Ads REST client for offline
// click-conversion uploads.
package googleads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"

	"github.com/sells-group/leadsync/internal/resilience"
)

const (
	// DefaultBaseURL is the Google Ads REST endpoint.
	DefaultBaseURL = "https://googleads.googleapis.com"
	// DefaultTokenURL is Google's OAuth2 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DefaultAPIVersion is the API version used when none is configured.
	DefaultAPIVersion = "v21"
	// MaxBatch is the most conversions accepted by one upload request.
	MaxBatch = 2000
)

// Client defines the Google Ads operations used by leadsync.
type Client interface {
	// ConversionActions returns the account's conversion actions keyed by
	// name, valued by resource name.
	ConversionActions(ctx context.Context) (map[string]string, error)
	// UploadClickConversions uploads conversions with partial failure
	// enabled, MaxBatch at a time. Rejected items are counted, not returned
	// as an error. When a batch fails the result still covers the batches
	// sent before it: conversions[Uploaded+Failed:] were not sent.
	UploadClickConversions(ctx context.Context, conversions []ClickConversion) (*UploadResult, error)
}

// Credentials identify the account and the OAuth2 client.
type Credentials struct {
	CustomerID      string
	LoginCustomerID string
	DeveloperToken  string
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	TokenURL        string
}

// UserIdentifier is a hashed identifier for enhanced conversions.
type UserIdentifier struct {
	HashedEmail       string `json:"hashedEmail,omitempty"`
	HashedPhoneNumber string `json:"hashedPhoneNumber,omitempty"`
}

// ClickConversion is one offline conversion.
type ClickConversion struct {
	ConversionAction   string           `json:"conversionAction"`
	ConversionDateTime string           `json:"conversionDateTime"`
	ConversionValue    float64          `json:"conversionValue"`
	CurrencyCode       string           `json:"currencyCode"`
	OrderID            string           `json:"orderId,omitempty"`
	UserIdentifiers    []UserIdentifier `json:"userIdentifiers"`
}

// UploadResult summarizes an upload.
type UploadResult struct {
	Uploaded int
	Failed   int
	// PartialFailure carries the API's partial failure message, if any.
	PartialFailure string
}

type uploadRequest struct {
	Conversions    []ClickConversion `json:"conversions"`
	PartialFailure bool              `json:"partialFailure"`
}

type uploadResponse struct {
	Results []struct {
		ConversionAction string `json:"conversionAction"`
	} `json:"results"`
	PartialFailureError *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"partialFailureError"`
}

type searchRequest struct {
	Query     string `json:"query"`
	PageToken string `json:"pageToken,omitempty"`
}

type searchResponse struct {
	Results []struct {
		ConversionAction struct {
			ResourceName string `json:"resourceName"`
			Name         string `json:"name"`
		} `json:"conversionAction"`
	} `json:"results"`
	NextPageToken string `json:"nextPageToken"`
}

const conversionActionQuery = "SELECT conversion_action.resource_name, conversion_action.name FROM conversion_action"

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithAPIVersion overrides the API version path segment.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) { c.version = v }
}

// WithHTTPClient sets the client used for token refreshes and as the base
// transport for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.base = hc }
}

// WithTimeout bounds each API request.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type httpClient struct {
	creds   Credentials
	baseURL string
	version string
	base    *http.Client
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a Google Ads client. Access tokens are obtained from the
// refresh token on first use and renewed when they expire.
func NewClient(creds Credentials, opts ...Option) Client {
	c := &httpClient{
		creds:   creds,
		baseURL: DefaultBaseURL,
		version: DefaultAPIVersion,
		base:    &http.Client{Timeout: 30 * time.Second},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.creds.TokenURL == "" {
		c.creds.TokenURL = DefaultTokenURL
	}
	c.creds.CustomerID = normalizeCustomerID(c.creds.CustomerID)
	c.creds.LoginCustomerID = normalizeCustomerID(c.creds.LoginCustomerID)

	conf := &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: c.creds.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	src := conf.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: c.creds.RefreshToken})

	c.http = &http.Client{
		Timeout:   c.timeout,
		Transport: &oauth2.Transport{Source: src, Base: c.base.Transport},
	}
	return c
}

// normalizeCustomerID strips the dashes of the "123-456-7890" display form.
func normalizeCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimSpace(id), "-", "")
}

func (c *httpClient) customerPath() string {
	return fmt.Sprintf("%s/%s/customers/%s", c.baseURL, c.version, c.creds.CustomerID)
}

func (c *httpClient) ConversionActions(ctx context.Context) (map[string]string, error) {
	actions := make(map[string]string)
	req := searchRequest{Query: conversionActionQuery}
	for {
		var resp searchResponse
		if err := c.post(ctx, "search conversion actions", c.customerPath()+"/googleAds:search", req, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			if r.ConversionAction.Name != "" {
				actions[r.ConversionAction.Name] = r.ConversionAction.ResourceName
			}
		}
		if resp.NextPageToken == "" {
			return actions, nil
		}
		req.PageToken = resp.NextPageToken
	}
}

func (c *httpClient) UploadClickConversions(ctx context.Context, conversions []ClickConversion) (*UploadResult, error) {
	out := &UploadResult{}
	for start := 0; start < len(conversions); start += MaxBatch {
		batch := conversions[start:min(start+MaxBatch, len(conversions))]

		var resp uploadResponse
		err := c.post(ctx, "upload click conversions", c.customerPath()+":uploadClickConversions",
			uploadRequest{Conversions: batch, PartialFailure: true}, &resp)
		if err != nil {
			return out, err
		}

		failed := 0
		if resp.PartialFailureError != nil {
			// Rejected rows come back as empty result objects.
			for _, r := range resp.Results {
				if r.ConversionAction == "" {
					failed++
				}
			}
			if len(resp.Results) == 0 {
				failed = len(batch)
			}
			out.PartialFailure = resp.PartialFailureError.Message
		}
		out.Failed += failed
		out.Uploaded += len(batch) - failed
	}
	return out, nil
}

func (c *httpClient) post(ctx context.Context, op, endpoint string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return eris.Wrapf(err, "googleads: %s: marshal request", op)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return eris.Wrapf(err, "googleads: %s: create request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.creds.DeveloperToken)
	if c.creds.LoginCustomerID != "" {
		req.Header.Set("login-customer-id", c.creds.LoginCustomerID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "googleads: %s", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "googleads: %s: read response body", op)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.NewStatusError("googleads", op, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "googleads: %s: decode response", op)
	}
	return nil
}
