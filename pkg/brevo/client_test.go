package brevo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/resilience"
)

func TestGetContact_Found(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		assert.Equal(t, "/contacts/jane@example.com", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":42,"email":"jane@example.com","attributes":{"FIRSTNAME":"Jane","SMS":254712345678}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.GetContact(context.Background(), "jane@example.com")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, "Jane", got.Attr("FIRSTNAME"))
	assert.Equal(t, "254712345678", got.Attr("SMS"))
	assert.Empty(t, got.Attr("MISSING"))
}

func TestGetContact_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"document_not_found","message":"Contact does not exist"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.GetContact(context.Background(), "nobody@example.com")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetContact_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.GetContact(context.Background(), "jane@example.com")

	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, resilience.StatusCode(err))
	assert.True(t, resilience.IsTransient(err))
}

func TestCreateContact(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contacts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body CreateContactRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jane@example.com", body.Email)
		assert.Equal(t, "Jane", body.Attributes["FIRSTNAME"])
		assert.Equal(t, []int64{2}, body.ListIDs)
		assert.True(t, body.UpdateEnabled)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":77}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.CreateContact(context.Background(), CreateContactRequest{
		Email:         "jane@example.com",
		Attributes:    map[string]any{"FIRSTNAME": "Jane"},
		ListIDs:       []int64{2},
		UpdateEnabled: true,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(77), got.ID)
}

func TestCreateContact_UpdatedNoContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.CreateContact(context.Background(), CreateContactRequest{Email: "jane@example.com", UpdateEnabled: true})

	require.NoError(t, err)
	assert.Zero(t, got.ID)
}

func TestCreateContact_BadRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_parameter","message":"Invalid phone number"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.CreateContact(context.Background(), CreateContactRequest{Email: "jane@example.com"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.False(t, resilience.IsTransient(err))
}

func TestCreateDeal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/deals", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Jane Doe - Film Production", body["name"])
		attrs := body["attributes"].(map[string]any)
		assert.InDelta(t, 750000, attrs["deal_value"], 0.001)
		assert.Equal(t, "pipe-1", attrs["pipeline"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"deal-9"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.CreateDeal(context.Background(), CreateDealRequest{
		Name:       "Jane Doe - Film Production",
		Attributes: map[string]any{"deal_value": 750000.0, "pipeline": "pipe-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "deal-9", got.ID)
}

func TestListDeals(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/deals", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "100", r.URL.Query().Get("offset"))

		_, _ = w.Write([]byte(`{"items":[{"id":"d1","attributes":{"deal_stage":"s1","amount":"1200.5","created_at":"2025-01-02T10:00:00.000Z"},"linkedContactsIds":[7,8]}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.ListDeals(context.Background(), 50, 100)

	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	d := got.Items[0]
	assert.Equal(t, "d1", d.ID)
	assert.Equal(t, "s1", d.Attr("deal_stage"))
	assert.InDelta(t, 1200.5, d.Float("amount"), 0.001)
	assert.Zero(t, d.Float("missing"))
	assert.Equal(t, []int64{7, 8}, d.LinkedContactsIDs)
}

func TestListContacts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("offset"))
		_, _ = w.Write([]byte(`{"contacts":[{"id":7,"email":"a@example.com"},{"id":8,"email":"b@example.com"}],"count":2}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.ListContacts(context.Background(), 50, 0)

	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	require.Len(t, got.Contacts, 2)
	assert.Equal(t, "b@example.com", got.Contacts[1].Email)
}

func TestSendEmail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/smtp/email", r.URL.Path)

		var body EmailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "noreply@example.com", body.Sender.Email)
		require.Len(t, body.To, 1)
		assert.Equal(t, "admissions@example.com", body.To[0].Email)
		assert.Equal(t, "hello", body.Subject)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<abc@smtp-relay>"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.SendEmail(context.Background(), EmailRequest{
		Sender:      Recipient{Name: "Enquiries", Email: "noreply@example.com"},
		To:          []Recipient{{Email: "admissions@example.com"}},
		Subject:     "hello",
		HTMLContent: "<p>hi</p>",
	})

	require.NoError(t, err)
	assert.Equal(t, "<abc@smtp-relay>", got.MessageID)
}

func TestRateLimit_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"contacts":[]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(0.001))
	_, err := client.ListContacts(context.Background(), 50, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.ListContacts(ctx, 50, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	hc := &http.Client{}
	c := NewClient("k", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}
