package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
)

const maxErrorBody = 4 << 10

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL  string
	Timeout  time.Duration
	DataPath string
	Header   http.Header
	Tokens   TokenSource
}

// HTTPClient is a Transport over net/http that sends and receives JSON.
type HTTPClient struct {
	baseURL  string
	dataPath string
	header   http.Header
	tokens   TokenSource
	client   *http.Client
	logger   *logging.ChanneledLogger
}

// NewHTTPClient creates a client for cfg. A nil logger discards output.
func NewHTTPClient(cfg HTTPConfig, logger *logging.ChanneledLogger) *HTTPClient {
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		dataPath: cfg.DataPath,
		header:   cfg.Header.Clone(),
		tokens:   cfg.Tokens,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// BaseURL returns the URL requests are resolved against.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Resolve joins a request URL onto the base URL. Absolute URLs are kept.
func (c *HTTPClient) Resolve(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || c.baseURL == "" {
		return u
	}
	return c.baseURL + "/" + strings.TrimLeft(u, "/")
}

func (c *HTTPClient) Request(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.Resolve(req.URL)
	if q := EncodeQuery(req.Query); q != "" {
		if strings.Contains(target, "?") {
			target += "&" + q
		} else {
			target += "?" + q
		}
	}

	var body io.Reader
	if req.Data != nil {
		encoded, err := json.Marshal(req.Data)
		if err != nil {
			return nil, &Error{Method: method, URL: target, Err: fmt.Errorf("failed to encode body: %w", err)}
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Method: method, URL: target, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = security.GenerateULID()
	}
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.tokens != nil {
		token, err := c.tokens.GetToken(ctx, c.baseURL)
		if err != nil {
			return nil, &Error{Method: method, URL: target, Err: fmt.Errorf("failed to get token: %w", err)}
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	for k, vs := range c.header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	start := time.Now()
	res, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Transport().Error("Request failed", "method", method, "url", target, "requestId", requestID, "error", err)
		return nil, &Error{Method: method, URL: target, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	duration := time.Since(start)
	if err != nil {
		return nil, &Error{Method: method, URL: target, Status: res.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	c.logger.Transport().Debug("Request completed",
		"method", method,
		"url", target,
		"status", res.StatusCode,
		"bytes", len(data),
		"duration", duration,
		"requestId", requestID,
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		c.logger.Transport().Warn("Request returned error status", "method", method, "url", target, "status", res.StatusCode, "requestId", requestID)
		return nil, &Error{Method: method, URL: target, Status: res.StatusCode, Body: strings.TrimSpace(text)}
	}

	path := req.DataPath
	if path == "" {
		path = c.dataPath
	}
	var decoded entity.Value
	if path == "" {
		decoded, err = entity.Decode(data)
	} else {
		decoded, err = entity.DecodePath(data, path)
	}
	if err != nil {
		return nil, &Error{Method: method, URL: target, Status: res.StatusCode, Err: err}
	}
	return &Response{Status: res.StatusCode, Header: res.Header, Data: decoded}, nil
}
