package splunk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/Chichichkin/SplunkSink/internal/logging"
)

const (
	IngestPath = "/1/inputs/http"
	SourceType = "json_predefined_timestamp"

	// the endpoint ignores the user half of the credential pair
	credentialUser = "x"
)

type Sender struct {
	requestURL string
	token      string
	compress   bool
	httpClient *http.Client
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingestion endpoint returned status %d: %s", e.StatusCode, e.Body)
}

func NewSender(config logging.Config, trust TrustPolicy) (*Sender, error) {
	config = config.WithDefaults()

	machine := config.MachineName
	if machine == "" {
		name, err := os.Hostname()
		if err != nil {
			return nil, errors.Wrap(err, "resolve machine name")
		}
		machine = name
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialTLSContext = trust.dialTLS

	return &Sender{
		requestURL: RequestURL(config.Host, config.ProjectID, machine, config.Source, config.TZ),
		token:      config.AccessToken,
		compress:   config.Compress,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// RequestURL builds the ingestion URL. Query parameters keep the order the
// endpoint documents; tz is appended only when set.
func RequestURL(host, projectID, machine, source, tz string) string {
	u := fmt.Sprintf("https://%s%s?index=%s&sourcetype=%s&host=%s&source=%s",
		host,
		IngestPath,
		url.QueryEscape(projectID),
		SourceType,
		url.QueryEscape(machine),
		url.QueryEscape(source))
	if tz != "" {
		u += "&tz=" + url.QueryEscape(tz)
	}
	return u
}

func (s *Sender) Send(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	body := payload
	if s.compress {
		var err error
		if body, err = gzipBody(payload); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.requestURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.SetBasicAuth(credentialUser, s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Sender) Close() {
	s.httpClient.CloseIdleConnections()
}

func gzipBody(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, errors.Wrap(err, "compress payload")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "compress payload")
	}
	return buf.Bytes(), nil
}
