// Package brevo provides a client for the Brevo CRM and transactional e-mail API.
package brevo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadsync/internal/resilience"
)

// Client defines the Brevo operations used by leadsync.
type Client interface {
	// GetContact looks a contact up by e-mail address or numeric id. Returns
	// nil when the contact does not exist.
	GetContact(ctx context.Context, identifier string) (*Contact, error)
	// CreateContact creates a contact, or updates it when UpdateEnabled is set
	// and the address already exists.
	CreateContact(ctx context.Context, req CreateContactRequest) (*CreateContactResponse, error)
	// CreateDeal creates a deal in a pipeline.
	CreateDeal(ctx context.Context, req CreateDealRequest) (*CreateDealResponse, error)
	// ListDeals returns one page of deals.
	ListDeals(ctx context.Context, limit, offset int) (*DealList, error)
	// ListContacts returns one page of contacts.
	ListContacts(ctx context.Context, limit, offset int) (*ContactList, error)
	// SendEmail sends a transactional e-mail.
	SendEmail(ctx context.Context, req EmailRequest) (*EmailResponse, error)
}

// Contact is a Brevo contact.
type Contact struct {
	ID         int64          `json:"id"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"attributes"`
	ListIDs    []int64        `json:"listIds"`
	CreatedAt  string         `json:"createdAt"`
}

// Attr returns a contact attribute rendered as a string.
func (c Contact) Attr(key string) string {
	return attrString(c.Attributes, key)
}

// ContactList is a page of contacts.
type ContactList struct {
	Contacts []Contact `json:"contacts"`
	Count    int       `json:"count"`
}

// CreateContactRequest is the body of POST /contacts.
type CreateContactRequest struct {
	Email         string         `json:"email"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	ListIDs       []int64        `json:"listIds,omitempty"`
	UpdateEnabled bool           `json:"updateEnabled"`
}

// CreateContactResponse carries the id of a newly created contact. ID is zero
// when Brevo updated an existing contact instead.
type CreateContactResponse struct {
	ID int64 `json:"id"`
}

// Deal is a Brevo CRM deal. Standard attributes include deal_name,
// deal_stage, pipeline, amount, created_at and stage_updated_at.
type Deal struct {
	ID                string         `json:"id"`
	Attributes        map[string]any `json:"attributes"`
	LinkedContactsIDs []int64        `json:"linkedContactsIds"`
}

// Attr returns a deal attribute rendered as a string.
func (d Deal) Attr(key string) string {
	return attrString(d.Attributes, key)
}

// Float returns a numeric deal attribute, or 0.
func (d Deal) Float(key string) float64 {
	switch v := d.Attributes[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// DealList is a page of deals.
type DealList struct {
	Items []Deal `json:"items"`
}

// CreateDealRequest is the body of POST /crm/deals.
type CreateDealRequest struct {
	Name              string         `json:"name"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	LinkedContactsIDs []int64        `json:"linkedContactsIds,omitempty"`
}

// CreateDealResponse carries the id of a newly created deal.
type CreateDealResponse struct {
	ID string `json:"id"`
}

// Recipient is an e-mail sender or recipient.
type Recipient struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// EmailRequest is the body of POST /smtp/email.
type EmailRequest struct {
	Sender      Recipient   `json:"sender"`
	To          []Recipient `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent"`
}

// EmailResponse is the acknowledgement of a transactional e-mail.
type EmailResponse struct {
	MessageID string `json:"messageId"`
}

// Option configures the Brevo client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL. An empty u keeps the default.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. A burst equal to the integer
// portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.brevo.com/v3"

// NewClient creates a new Brevo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) GetContact(ctx context.Context, identifier string) (*Contact, error) {
	var contact Contact
	status, err := c.do(ctx, "get contact", http.MethodGet, "/contacts/"+url.PathEscape(identifier), nil, &contact, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &contact, nil
}

func (c *httpClient) CreateContact(ctx context.Context, req CreateContactRequest) (*CreateContactResponse, error) {
	var resp CreateContactResponse
	if _, err := c.do(ctx, "create contact", http.MethodPost, "/contacts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) CreateDeal(ctx context.Context, req CreateDealRequest) (*CreateDealResponse, error) {
	var resp CreateDealResponse
	if _, err := c.do(ctx, "create deal", http.MethodPost, "/crm/deals", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) ListDeals(ctx context.Context, limit, offset int) (*DealList, error) {
	var list DealList
	if _, err := c.do(ctx, "list deals", http.MethodGet, "/crm/deals?"+pageQuery(limit, offset), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *httpClient) ListContacts(ctx context.Context, limit, offset int) (*ContactList, error) {
	var list ContactList
	if _, err := c.do(ctx, "list contacts", http.MethodGet, "/contacts?"+pageQuery(limit, offset), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *httpClient) SendEmail(ctx context.Context, req EmailRequest) (*EmailResponse, error) {
	var resp EmailResponse
	if _, err := c.do(ctx, "send email", http.MethodPost, "/smtp/email", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends a request and decodes a JSON response into out. Statuses listed in
// allow are returned without an error and without decoding.
func (c *httpClient) do(ctx context.Context, op, method, path string, in, out any, allow ...int) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, eris.Wrap(err, "brevo: rate limit")
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, eris.Wrapf(err, "brevo: %s: marshal request", op)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, eris.Wrapf(err, "brevo: %s: create request", op)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "brevo: %s", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, eris.Wrapf(err, "brevo: %s: read response body", op)
	}

	for _, s := range allow {
		if resp.StatusCode == s {
			return resp.StatusCode, nil
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, resilience.NewStatusError("brevo", op, resp.StatusCode, respBody)
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, eris.Wrapf(err, "brevo: %s: decode response", op)
		}
	}
	return resp.StatusCode, nil
}

func pageQuery(limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return q.Encode()
}

func attrString(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
