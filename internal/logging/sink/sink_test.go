package sink

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"github.com/Chichichkin/SplunkSink/internal/logging"
	"github.com/Chichichkin/SplunkSink/internal/logging/splunk"
	"github.com/Chichichkin/SplunkSink/internal/testutils"
)

func validConfig() logging.Config {
	return logging.Config{
		Host:        "input.example.com",
		ProjectID:   "main",
		AccessToken: "token",
		TZ:          "UTC",
		MachineName: "test-host",
	}
}

func flushWithin(t *testing.T, s *Sink, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestNew_RequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*logging.Config)
	}{
		{"Host", func(c *logging.Config) { c.Host = "" }},
		{"ProjectId", func(c *logging.Config) { c.ProjectID = "" }},
		{"AccessToken", func(c *logging.Config) { c.AccessToken = "" }},
		{"TZ", func(c *logging.Config) { c.TZ = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := validConfig()
			tc.mutate(&config)

			s, err := New(context.Background(), config, WithTransport(&testutils.MockTransport{}))
			assert.Nil(t, s)
			assert.True(t, errors.Is(err, logging.ErrMissingField))
			assert.Contains(t, err.Error(), tc.name)
		})
	}
}

func TestNew_OptionalFields(t *testing.T) {
	config := validConfig()
	config.Source = ""
	config.MaxQueueItems = 0

	s, err := New(context.Background(), config, WithTransport(&testutils.MockTransport{}))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < logging.DefaultMaxQueueItems+1; i++ {
		s.Write(logging.Record{Level: logging.LevelInfo, Message: "m"}, "")
	}
	assert.LessOrEqual(t, s.Len(), logging.DefaultMaxQueueItems)
}

func TestSink_EndToEnd(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	roots := x509.NewCertPool()
	roots.AddCert(server.Certificate())

	config := validConfig()
	config.Host = server.Listener.Addr().String()
	config.MaxQueueItems = 1000

	s, err := New(context.Background(), config, WithTrustPolicy(splunk.TrustPolicy{Roots: roots}))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.True(t, s.Write(logging.Record{
			Level:   logging.LevelInfo,
			Logger:  "e2e",
			Message: fmt.Sprintf("message %d", i),
		}, "Main"))
	}
	flushWithin(t, s, 5*time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	lines := bytes.Split(bytes.TrimSuffix(bodies[0], []byte("\n")), []byte("\n"))
	mu.Unlock()

	require.Len(t, lines, 5)
	for i, line := range lines {
		v, err := fastjson.ParseBytes(line)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("message %d", i), string(v.GetStringBytes("Message")))
		assert.Equal(t, "Main", string(v.GetStringBytes("Path")))
		assert.NotEqual(t, "0", string(v.GetStringBytes("ProcessId")))
	}
}

func TestSink_FailureIsolation(t *testing.T) {
	mockTransport := &testutils.MockTransport{ShouldFail: true}
	log, capture := testutils.NewCaptureLogger()

	s, err := New(context.Background(), validConfig(), WithTransport(mockTransport), WithLogger(log))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Write(logging.Record{Level: logging.LevelError, Message: "lost"}, "")
	}
	flushWithin(t, s, 2*time.Second)
	assert.Equal(t, 0, s.Len())

	assert.Eventually(t, func() bool {
		return capture.Contains("failed to send batch")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().BatchFailures))

	assert.True(t, s.Write(logging.Record{Level: logging.LevelInfo, Message: "still accepted"}, ""))
}

func TestSink_Close(t *testing.T) {
	mockTransport := &testutils.MockTransport{}
	s, err := New(context.Background(), validConfig(), WithTransport(mockTransport))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, s.Write(logging.Record{Message: "late"}, ""))
	assert.Equal(t, 0, mockTransport.GetCalls())
}

func TestSink_IndependentInstances(t *testing.T) {
	first := &testutils.MockTransport{}
	second := &testutils.MockTransport{}

	a, err := New(context.Background(), validConfig(), WithTransport(first))
	require.NoError(t, err)
	defer a.Close()
	b, err := New(context.Background(), validConfig(), WithTransport(second))
	require.NoError(t, err)
	defer b.Close()

	a.Write(logging.Record{Message: "to a"}, "")
	b.Write(logging.Record{Message: "to b"}, "")
	b.Write(logging.Record{Message: "to b again"}, "")
	flushWithin(t, a, time.Second)
	flushWithin(t, b, time.Second)

	assert.Eventually(t, func() bool {
		return len(first.Lines()) == 1 && len(second.Lines()) == 2
	}, time.Second, 5*time.Millisecond)
}
