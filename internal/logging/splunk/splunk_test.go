package splunk

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/SplunkSink/internal/logging"
)

func newTestSender(t *testing.T, server *httptest.Server, mutate func(*logging.Config)) *Sender {
	t.Helper()

	config := logging.Config{
		Host:        server.Listener.Addr().String(),
		ProjectID:   "main",
		AccessToken: "secret-token",
		Source:      "app",
		TZ:          "Europe/Oslo",
		MachineName: "test-host",
	}
	if mutate != nil {
		mutate(&config)
	}

	sender, err := NewSender(config, TrustPolicy{Roots: poolOf(server.Certificate())})
	require.NoError(t, err)
	t.Cleanup(sender.Close)
	return sender
}

func TestSender_Send(t *testing.T) {
	payload := "{\"Message\":\"one\"}\n{\"Message\":\"two\"}\n"

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, IngestPath, r.URL.Path)
		assert.Equal(t,
			"index=main&sourcetype=json_predefined_timestamp&host=test-host&source=app&tz=Europe%2FOslo",
			r.URL.RawQuery)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "x", user)
		assert.Equal(t, "secret-token", pass)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, payload, string(body))

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := newTestSender(t, server, nil)
	assert.NoError(t, sender.Send(context.Background(), []byte(payload)))
}

func TestSender_NonSuccessStatus(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid token"))
	}))
	defer server.Close()

	sender := newTestSender(t, server, nil)
	err := sender.Send(context.Background(), []byte("{}\n"))
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, "invalid token", statusErr.Body)
}

func TestSender_UntrustedServer(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach an untrusted server")
	}))
	defer server.Close()

	sender, err := NewSender(logging.Config{
		Host:        server.Listener.Addr().String(),
		ProjectID:   "main",
		AccessToken: "secret-token",
		TZ:          "UTC",
		MachineName: "test-host",
	}, DefaultTrustPolicy())
	require.NoError(t, err)
	defer sender.Close()

	err = sender.Send(context.Background(), []byte("{}\n"))
	assert.True(t, errors.Is(err, ErrUntrustedCertificate))
}

func TestSender_Compress(t *testing.T) {
	payload := "{\"Message\":\"zipped\"}\n"

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		body, err := io.ReadAll(zr)
		assert.NoError(t, err)
		assert.Equal(t, payload, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := newTestSender(t, server, func(c *logging.Config) { c.Compress = true })
	assert.NoError(t, sender.Send(context.Background(), []byte(payload)))
}

func TestSender_EmptyPayload(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty payload must not be posted")
	}))
	defer server.Close()

	sender := newTestSender(t, server, nil)
	assert.NoError(t, sender.Send(context.Background(), nil))
}

func TestRequestURL(t *testing.T) {
	assert.Equal(t,
		"https://input.example.com/1/inputs/http?index=proj&sourcetype=json_predefined_timestamp&host=web+01&source=",
		RequestURL("input.example.com", "proj", "web 01", "", ""))

	assert.Equal(t,
		"https://input.example.com/1/inputs/http?index=proj&sourcetype=json_predefined_timestamp&host=web01&source=svc&tz=UTC",
		RequestURL("input.example.com", "proj", "web01", "svc", "UTC"))
}
