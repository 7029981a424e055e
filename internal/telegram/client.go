// Package telegram implements the subset of the Telegram Bot API the bot relies on.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	retryLimit     = 5
	defaultTimeout = 60 * time.Second
)

var ErrMissingToken = errors.New("telegram: bot token is required")

// APIError is an error response returned by the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with %d: %s", e.Method, e.Code, e.Description)
}

// IsRateLimited reports whether the request may be retried after RetryAfter.
func (e *APIError) IsRateLimited() bool {
	return e.Code == http.StatusTooManyRequests && e.RetryAfter > 0
}

// CallObserver receives the outcome of every Bot API call.
type CallObserver interface {
	ObserveCall(method string, err error)
}

// Config configures a Client.
type Config struct {
	Token      string
	APIURL     string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Observer   CallObserver
}

// Client talks to the Bot API over HTTPS.
type Client struct {
	token    string
	apiURL   string
	httpc    *http.Client
	logger   *zap.Logger
	observer CallObserver
	scrubber *strings.Replacer
	sleep    func(context.Context, time.Duration) bool
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:    token,
		apiURL:   apiURL,
		httpc:    httpc,
		logger:   logger,
		observer: cfg.Observer,
		scrubber: strings.NewReplacer(token, "[TOKEN]"),
		sleep:    sleep,
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type attachment struct {
	field string
	name  string
	data  []byte
}

// call invokes a method with a JSON body and decodes the result into result.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body := []byte("{}")
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("telegram: encode %s: %w", method, err)
		}
		body = encoded
	}
	return c.do(ctx, method, "application/json", body, result)
}

// callMultipart invokes a method with form fields and uploaded files.
func (c *Client) callMultipart(ctx context.Context, method string, fields map[string]string, files []attachment, result any) error {
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("telegram: encode %s: %w", method, err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		if err != nil {
			return fmt.Errorf("telegram: encode %s: %w", method, err)
		}
		if _, err := part.Write(file.data); err != nil {
			return fmt.Errorf("telegram: encode %s: %w", method, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("telegram: encode %s: %w", method, err)
	}
	return c.do(ctx, method, writer.FormDataContentType(), buffer.Bytes(), result)
}

func (c *Client) do(ctx context.Context, method, contentType string, body []byte, result any) error {
	var err error
	for range retryLimit {
		err = c.roundTrip(ctx, method, contentType, body, result)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRateLimited() {
			break
		}
		c.logger.Warn("telegram rate limited, waiting",
			zap.String("method", method),
			zap.Duration("wait", apiErr.RetryAfter))
		if !c.sleep(ctx, apiErr.RetryAfter) {
			err = ctx.Err()
			break
		}
	}
	if c.observer != nil {
		c.observer.ObserveCall(method, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, contentType string, body []byte, result any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return c.scrub(err)
	}
	request.Header.Set("Content-Type", contentType)

	response, err := c.httpc.Do(request)
	if err != nil {
		return c.scrub(err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return c.scrub(err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("telegram: %s returned status %d with undecodable body: %w", method, response.StatusCode, err)
	}
	if !envelope.OK {
		return &APIError{
			Method:      method,
			Code:        envelope.ErrorCode,
			Description: envelope.Description,
			RetryAfter:  time.Duration(envelope.Parameters.RetryAfter) * time.Second,
		}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("telegram: decode %s result: %w", method, err)
	}
	return nil
}

// DownloadFile fetches the content of a file previously resolved with GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/file/bot"+c.token+"/"+strings.TrimPrefix(filePath, "/"), nil)
	if err != nil {
		return nil, c.scrub(err)
	}
	response, err := c.httpc.Do(request)
	if err != nil {
		return nil, c.scrub(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download %s: unexpected status %d", filePath, response.StatusCode)
	}
	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, c.scrub(err)
	}
	return data, nil
}

func (c *Client) methodURL(method string) string {
	return c.apiURL + "/bot" + c.token + "/" + method
}

type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (e *scrubbedError) Error() string { return e.scrubber.Replace(e.err.Error()) }

func (e *scrubbedError) Unwrap() error { return e.err }

func (c *Client) scrub(err error) error {
	return &scrubbedError{err: err, scrubber: c.scrubber}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
