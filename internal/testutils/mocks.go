package testutils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/Chichichkin/SplunkSink/internal/logging"
)

type MockTransport struct {
	Payloads   [][]byte
	mu         sync.Mutex
	ShouldFail bool
	Delay      time.Duration
	Calls      int
}

func (m *MockTransport) Send(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	m.Calls++
	fail := m.ShouldFail
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	if fail {
		return fmt.Errorf("mock send failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payloads = append(m.Payloads, append([]byte(nil), payload...))
	return nil
}

func (m *MockTransport) GetPayloads() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Payloads
}

func (m *MockTransport) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// Lines splits every delivered payload into its newline terminated records.
func (m *MockTransport) Lines() []string {
	var lines []string
	for _, p := range m.GetPayloads() {
		for _, l := range bytes.SplitAfter(p, []byte("\n")) {
			if len(l) > 0 {
				lines = append(lines, string(l))
			}
		}
	}
	return lines
}

type MockWriter struct {
	Records    []logging.Record
	Paths      []string
	mu         sync.Mutex
	Reject     bool
	WriteCalls int
}

func (m *MockWriter) Write(record logging.Record, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.WriteCalls++
	if m.Reject {
		return false
	}
	m.Records = append(m.Records, record)
	m.Paths = append(m.Paths, path)
	return true
}

func (m *MockWriter) GetRecords() ([]logging.Record, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.Record(nil), m.Records...), append([]string(nil), m.Paths...)
}

func (m *MockWriter) GetStats() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records), m.WriteCalls
}

// LogCapture collects lines written through a funcr logger.
type LogCapture struct {
	mu    sync.Mutex
	lines []string
}

func NewCaptureLogger() (logr.Logger, *LogCapture) {
	c := &LogCapture{}
	log := funcr.New(func(prefix, args string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, prefix+" "+args)
	}, funcr.Options{Verbosity: 2})
	return log, c
}

func (c *LogCapture) Contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":          "log content 1\nline 2\n",
		"default_pod-1_uid123/container-2/app.log":          "log content 2\nerror log\n",
		"kube-system_pod-2_uid456/container/app.log":        "log content 3\ninfo message\n",
		"default_pod-3_uid789/container/app.log":            "log content 4\n",
		"monitoring_pod-4_uid101/grafana/grafana.log":       "grafana starting\n",
		"monitoring_pod-4_uid101/prometheus/prometheus.log": "prometheus ready\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
