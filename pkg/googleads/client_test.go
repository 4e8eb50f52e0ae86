package googleads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadsync/internal/resilience"
)

type fakeAds struct {
	tokenCalls  atomic.Int32
	tokenStatus int
	api         http.HandlerFunc
}

func (f *fakeAds) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "dev-token", r.Header.Get("developer-token"))
		assert.Equal(t, "9876543210", r.Header.Get("login-customer-id"))
		f.api(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) Client {
	return NewClient(Credentials{
		CustomerID:      "123-456-7890",
		LoginCustomerID: "987-654-3210",
		DeveloperToken:  "dev-token",
		ClientID:        "client-1",
		ClientSecret:    "secret-1",
		RefreshToken:    "refresh-1",
		TokenURL:        srv.URL + "/token",
	}, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestConversionActions_Paginates(t *testing.T) {
	f := &fakeAds{}
	calls := 0
	f.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21/customers/1234567890/googleAds:search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, conversionActionQuery, req.Query)
		calls++
		w.Header().Set("Content-Type", "application/json")
		if req.PageToken == "" {
			_, _ = w.Write([]byte(`{"results":[{"conversionAction":{"resourceName":"customers/1234567890/conversionActions/1","name":"Enrolled Student"}}],"nextPageToken":"p2"}`))
			return
		}
		assert.Equal(t, "p2", req.PageToken)
		_, _ = w.Write([]byte(`{"results":[{"conversionAction":{"resourceName":"customers/1234567890/conversionActions/2","name":"Decision Making"}}]}`))
	}
	c := newTestClient(f.server(t))

	actions, err := c.ConversionActions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Enrolled Student": "customers/1234567890/conversionActions/1",
		"Decision Making":  "customers/1234567890/conversionActions/2",
	}, actions)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, f.tokenCalls.Load(), "token is reused")
}

func TestUploadClickConversions_PartialFailure(t *testing.T) {
	f := &fakeAds{}
	f.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21/customers/1234567890:uploadClickConversions", r.URL.Path)
		var req uploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.PartialFailure)
		require.Len(t, req.Conversions, 3)
		assert.Equal(t, "2026-01-15 10:00:00+00:00", req.Conversions[0].ConversionDateTime)
		assert.Equal(t, "abc", req.Conversions[0].UserIdentifiers[0].HashedEmail)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results":[{"conversionAction":"customers/1/conversionActions/1"},{},{"conversionAction":"customers/1/conversionActions/1"}],
			"partialFailureError":{"code":3,"message":"conversions[1]: click not found"}
		}`))
	}
	c := newTestClient(f.server(t))

	conv := ClickConversion{
		ConversionAction:   "customers/1234567890/conversionActions/1",
		ConversionDateTime: "2026-01-15 10:00:00+00:00",
		ConversionValue:    300000,
		CurrencyCode:       "KES",
		UserIdentifiers:    []UserIdentifier{{HashedEmail: "abc"}},
	}
	res, err := c.UploadClickConversions(context.Background(), []ClickConversion{conv, conv, conv})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.PartialFailure, "click not found")
}

func TestUploadClickConversions_Batches(t *testing.T) {
	f := &fakeAds{}
	var sizes []int
	f.api = func(w http.ResponseWriter, r *http.Request) {
		var req uploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		sizes = append(sizes, len(req.Conversions))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}
	c := newTestClient(f.server(t))

	convs := make([]ClickConversion, MaxBatch+5)
	for i := range convs {
		convs[i] = ClickConversion{OrderID: fmt.Sprint(i)}
	}
	res, err := c.UploadClickConversions(context.Background(), convs)
	require.NoError(t, err)
	assert.Equal(t, []int{MaxBatch, 5}, sizes)
	assert.Equal(t, MaxBatch+5, res.Uploaded)
	assert.Zero(t, res.Failed)
}

func TestUploadClickConversions_ServerError(t *testing.T) {
	f := &fakeAds{}
	f.api = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"backend unavailable"}}`))
	}
	c := newTestClient(f.server(t))

	_, err := c.UploadClickConversions(context.Background(), []ClickConversion{{}})
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resilience.StatusCode(err))
	assert.True(t, resilience.IsTransient(err))
}

func TestUploadClickConversions_LaterBatchFails(t *testing.T) {
	f := &fakeAds{}
	calls := 0
	f.api = func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}
	c := newTestClient(f.server(t))

	res, err := c.UploadClickConversions(context.Background(), make([]ClickConversion, MaxBatch+5))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, MaxBatch, res.Uploaded+res.Failed, "first batch was accepted")
	assert.Equal(t, 2, calls)
}

func TestUploadClickConversions_TokenFailure(t *testing.T) {
	f := &fakeAds{tokenStatus: http.StatusBadRequest}
	f.api = func(http.ResponseWriter, *http.Request) {
		t.Error("API must not be called without a token")
	}
	c := newTestClient(f.server(t))

	_, err := c.UploadClickConversions(context.Background(), []ClickConversion{{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "googleads: upload click conversions")
}

func TestNormalizeCustomerID(t *testing.T) {
	assert.Equal(t, "1234567890", normalizeCustomerID(" 123-456-7890 "))
	assert.Equal(t, "", normalizeCustomerID(""))
}
