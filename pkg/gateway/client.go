package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/velocity/pkg/credentials"
	"github.com/go-go-golems/velocity/pkg/security"
	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	RequestIDHeader = "X-Request-ID"
	defaultTimeout  = 60 * time.Second
)

// CredentialResolver yields the credential to attach to outgoing calls.
type CredentialResolver interface {
	Resolve(ctx context.Context) (*credentials.Credential, bool)
}

// Request describes one call against the remote service.
type Request struct {
	Method string
	// Path is appended to the base URL and must start with a slash.
	Path  string
	Query url.Values
	// Body is JSON encoded when non-nil.
	Body interface{}
	// Anonymous exempts the call from the AuthRequired refusal (login, signup, health).
	Anonymous bool
}

// Response is a successful (2xx) answer.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

// Empty reports a response without a body, e.g. 204 No Content.
func (r *Response) Empty() bool {
	return r == nil || r.Status == http.StatusNoContent || len(bytes.TrimSpace(r.Body)) == 0
}

// Client is the request gateway. It resolves the current credential on every
// call and normalizes all outcomes into a Result. It never retries.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	credentials  CredentialResolver
	authRequired bool
	userAgent    string
	policy       security.BaseURLPolicy
	timeout      time.Duration
}

type Option func(*Client) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return errors.Errorf("invalid timeout %s", d)
		}
		c.timeout = d
		return nil
	}
}

func WithCredentials(r CredentialResolver) Option {
	return func(c *Client) error {
		c.credentials = r
		return nil
	}
}

// WithAuthRequired makes calls fail locally with KindUnauthenticated when no
// credential resolves, instead of going out without an Authorization header.
func WithAuthRequired(required bool) Option {
	return func(c *Client) error {
		c.authRequired = required
		return nil
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

func WithURLPolicy(p security.BaseURLPolicy) Option {
	return func(c *Client) error {
		c.policy = p
		return nil
	}
}

func NewClient(baseURL string, options ...Option) (*Client, error) {
	c := &Client{
		timeout:   defaultTimeout,
		userAgent: "velocity",
	}
	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	u, err := security.ValidateBaseURL(baseURL, c.policy)
	if err != nil {
		return nil, errors.Wrap(err, "invalid service base URL")
	}
	c.baseURL = u

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) AuthRequired() bool {
	return c.authRequired
}

// URL renders the absolute URL for a path and query without performing a call.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Send performs the call. A non-2xx status, a transport failure and the
// AuthRequired refusal all come back as a *NormalizedError.
func (c *Client) Send(ctx context.Context, req Request) Result[*Response] {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fail := func(kind Kind, status int, msg, code string, cause error) Result[*Response] {
		return NewErrorResult[*Response](&NormalizedError{
			Kind:     kind,
			Message:  msg,
			Code:     code,
			Status:   status,
			Method:   method,
			Endpoint: req.Path,
			cause:    cause,
		})
	}

	if !strings.HasPrefix(req.Path, "/") {
		return fail(KindTransport, 0, "request path must start with /", "", nil)
	}

	var token string
	if c.credentials != nil {
		if cred, ok := c.credentials.Resolve(ctx); ok {
			token = cred.Token
		}
	}
	if token == "" && c.authRequired && !req.Anonymous {
		return fail(KindUnauthenticated, 0, "no credential available", "", ErrUnauthenticated)
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fail(KindTransport, 0, "could not encode request body", "", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.URL(req.Path, req.Query), body)
	if err != nil {
		return fail(KindTransport, 0, err.Error(), "", err)
	}
	requestID := shortuuid.New()
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(RequestIDHeader, requestID)
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	// #nosec G107 -- base URL is validated in NewClient with ValidateBaseURL.
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		msg := err.Error()
		if ctxErr := ctx.Err(); ctxErr != nil {
			msg = ctxErr.Error()
		}
		log.Debug().
			Err(err).
			Str("method", method).
			Str("endpoint", req.Path).
			Str("request_id", requestID).
			Msg("Gateway call failed")
		return fail(KindTransport, 0, msg, "", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(KindTransport, resp.StatusCode, "could not read response body", "", err)
	}

	log.Debug().
		Str("method", method).
		Str("endpoint", req.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Str("request_id", requestID).
		Bool("authenticated", token != "").
		Msg("Gateway call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, code := parseServiceError(resp.StatusCode, respBody)
		return fail(KindService, resp.StatusCode, msg, code, nil)
	}

	return NewValueResult(&Response{
		Status:    resp.StatusCode,
		Header:    resp.Header,
		Body:      respBody,
		RequestID: requestID,
	})
}

// Do performs the call and strictly decodes the body into T. A success
// without a body is a decode error since a value was expected.
func Do[T any](ctx context.Context, c *Client, req Request) Result[T] {
	return do[T](ctx, c, req, false)
}

// DoOptional is like Do but reports an empty success as NoContent.
func DoOptional[T any](ctx context.Context, c *Client, req Request) Result[T] {
	return do[T](ctx, c, req, true)
}

// DoNoContent performs the call and ignores any response body.
func DoNoContent(ctx context.Context, c *Client, req Request) error {
	return c.Send(ctx, req).Error()
}

func do[T any](ctx context.Context, c *Client, req Request, allowEmpty bool) Result[T] {
	resp, err := c.Send(ctx, req).Value()
	if err != nil {
		return NewErrorResult[T](err)
	}
	if resp.Empty() {
		if allowEmpty {
			return NewNoContentResult[T]()
		}
		return NewErrorResult[T](decodeError(req, resp, "expected a response body", nil))
	}

	v, err := Decode[T](resp.Body)
	if err != nil {
		return NewErrorResult[T](decodeError(req, resp, err.Error(), err))
	}
	return NewValueResult(v)
}

func decodeError(req Request, resp *Response, msg string, cause error) *NormalizedError {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return &NormalizedError{
		Kind:     KindDecode,
		Message:  msg,
		Status:   resp.Status,
		Method:   method,
		Endpoint: req.Path,
		cause:    cause,
	}
}
