package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	HibernatingMessage = "Service Now instance is hibernating"

	defaultTimeout  = 10 * time.Second
	maxBodySize     = 4 << 20
	tableApiPath    = "/api/now/table/"
	hibernatingPage = "Instance Hibernating page"
)

var ErrEmptyResult = errors.New("response carries no result")

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

type Options struct {
	Url             string
	Username        string
	Password        string
	ServiceNowTable string
	Timeout         time.Duration
}

// ServiceNow talks to the table API of a ServiceNow instance.
type ServiceNow struct {
	tableUrl   string
	username   string
	password   string
	httpClient *http.Client
}

func NewServiceNow(opts Options) (*ServiceNow, error) {
	if opts.Url == "" {
		return nil, errors.New("empty url supplied")
	}

	if opts.ServiceNowTable == "" {
		return nil, errors.New("empty table supplied")
	}

	base, err := url.Parse(opts.Url)
	if err != nil {
		return nil, fmt.Errorf("could not parse url: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &ServiceNow{
		tableUrl:   strings.TrimSuffix(base.String(), "/") + tableApiPath + url.PathEscape(opts.ServiceNowTable),
		username:   opts.Username,
		password:   opts.Password,
		httpClient: newHTTPClient(timeout),
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func (s *ServiceNow) TableUrl() string {
	return s.tableUrl
}

// Get reads a single record of the table.
func (s *ServiceNow) Get(ctx context.Context) (any, error) {
	return s.do(ctx, http.MethodGet, s.tableUrl+"?sysparm_limit=1", nil)
}

// Post creates a record in the table.
func (s *ServiceNow) Post(ctx context.Context) (any, error) {
	return s.do(ctx, http.MethodPost, s.tableUrl, []byte("{}"))
}

func (s *ServiceNow) do(ctx context.Context, method, endpoint string, body []byte) (any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	return processResponse(resp.StatusCode, data)
}

func processResponse(statusCode int, body []byte) (any, error) {
	if statusCode < 200 || statusCode >= 300 {
		return nil, &StatusError{StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
	}

	if isHibernating(statusCode, body) {
		return HibernatingMessage, nil
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}

	if len(envelope.Result) == 0 {
		return nil, ErrEmptyResult
	}

	var result any
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("could not decode result: %w", err)
	}

	return result, nil
}

// isHibernating detects the html page a sleeping developer instance serves instead of the api response.
func isHibernating(statusCode int, body []byte) bool {
	return statusCode == http.StatusOK &&
		bytes.Contains(body, []byte(hibernatingPage)) &&
		bytes.Contains(body, []byte("<html>"))
}
