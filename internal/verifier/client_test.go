package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/marketplace/config"
)

func newFakeVision(t *testing.T, status int, content string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func testClient(url string, timeout time.Duration) *HTTPClient {
	return NewHTTPClient(config.PaymentConfig{
		VerifierURL:     url + "/",
		VerifierAPIKey:  "test-key",
		VerifierModel:   "vision-test",
		VerifierTimeout: timeout,
		RecencyWindow:   time.Hour,
	})
}

func TestHTTPClient_Extract(t *testing.T) {
	srv, captured := newFakeVision(t, http.StatusOK,
		`Sure! {"amount":"5000","receiver_phone":"88887777","verified":true,"confidence":88,"issues":[]}`)

	ext, err := testClient(srv.URL, time.Second).Extract(context.Background(), Request{
		Image:            []byte("fake-image"),
		ContentType:      "image/png",
		ExpectedAmount:   decimal.NewFromInt(5000),
		ExpectedReceiver: "+50688887777",
	})
	require.NoError(t, err)
	assert.True(t, ext.Verified)
	assert.Equal(t, 88.0, ext.Confidence)

	assert.Equal(t, "vision-test", captured.Model)
	require.Len(t, captured.Messages, 1)
	require.Len(t, captured.Messages[0].Content, 2)
	assert.Contains(t, captured.Messages[0].Content[0].Text, "₡5,000.00")
	assert.True(t, strings.HasPrefix(captured.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestHTTPClient_ServerError(t *testing.T) {
	srv, _ := newFakeVision(t, http.StatusInternalServerError, "")
	_, err := testClient(srv.URL, time.Second).Extract(context.Background(), Request{Image: []byte("x")})
	assert.ErrorIs(t, err, ErrExternalService)
}

func TestHTTPClient_MalformedContent(t *testing.T) {
	srv, _ := newFakeVision(t, http.StatusOK, "the image is blurry")
	_, err := testClient(srv.URL, time.Second).Extract(context.Background(), Request{Image: []byte("x")})
	assert.ErrorIs(t, err, ErrExternalService)
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	_, err := testClient(srv.URL, 20*time.Millisecond).Extract(context.Background(), Request{Image: []byte("x")})
	assert.ErrorIs(t, err, ErrExternalService)
}
