// Package rest is the HTTP request wrapper shared by the REST services. It
// injects the session token, encodes request bodies, normalizes failures
// into *qberror.Error and applies the session-expiry policy.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/qberror"
)

const (
	// FormContentType is sent when a request names no content type
	FormContentType = "application/x-www-form-urlencoded; charset=UTF-8"
	// JSONContentType is sent with pre-serialized JSON bodies
	JSONContentType = "application/json"

	// storageHost marks opaque binary storage targets that never receive
	// the session token
	storageHost = "s3.amazonaws.com"
)

// Session is an authenticated REST session
type Session struct {
	ID            int64  `json:"id"`
	ApplicationID int64  `json:"application_id"`
	Token         string `json:"token"`
	UserID        int64  `json:"user_id"`
	Nonce         int64  `json:"nonce"`
	Timestamp     int64  `json:"ts"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// File is a file part of a multipart request
type File struct {
	Name        string
	ContentType string
	Data        io.Reader
}

// Params describes one request
type Params struct {
	Method string
	URL    string
	Data   map[string]any

	// ContentType overrides the form content type
	ContentType string
	// Multipart sends Data as multipart/form-data
	Multipart bool
	// JSON sends Data serialized as JSON
	JSON bool
	// DataType is "json" (default) or "text"
	DataType string
	// File is attached to a multipart request under the "file" field
	File *File

	fileContent []byte
}

func (p Params) method() string {
	if p.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(p.Method)
}

func (p Params) isText() bool {
	return p.DataType == "text"
}

func (p Params) withFileContent(content []byte) Params {
	p.fileContent = content
	return p.rewind()
}

// rewind gives the file a fresh reader over the buffered content
func (p Params) rewind() Params {
	if p.File == nil || p.fileContent == nil {
		return p
	}
	f := *p.File
	f.Data = bytes.NewReader(p.fileContent)
	p.File = &f
	return p
}

// Response is a successful response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals a JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// RetryFunc re-issues the request that failed with the given session. The
// expiry policy is not applied again.
type RetryFunc func(ctx context.Context, session *Session) (*Response, error)

// SessionExpiredFunc decides what to do with a request rejected because of
// an expired session. Returning err unchanged surfaces the failure.
type SessionExpiredFunc func(ctx context.Context, err error, retry RetryFunc) (*Response, error)

// Option configures a Proxy
type Option func(*Proxy)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) {
		p.client = c
	}
}

// WithSessionExpired sets the session-expiry policy
func WithSessionExpired(fn SessionExpiredFunc) Option {
	return func(p *Proxy) {
		p.onExpired = fn
	}
}

// Proxy issues REST requests on behalf of the SDK services
type Proxy struct {
	cfg    *config.Config
	client *http.Client
	log    logging.Prefixed

	mu        sync.RWMutex
	session   *Session
	onExpired SessionExpiredFunc

	reqCount atomic.Int64
}

// New creates a proxy. A nil cfg selects the defaults.
func New(cfg *config.Config, opts ...Option) *Proxy {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	p := &Proxy{
		cfg:    cfg,
		client: http.DefaultClient,
		log:    logging.Named("QB-REST"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the configuration the proxy was created with
func (p *Proxy) Config() *config.Config {
	return p.cfg
}

// SetSession replaces the current session. nil clears it.
func (p *Proxy) SetSession(s *Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

// Session returns the current session or nil
func (p *Proxy) Session() *Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// SetSessionExpired replaces the session-expiry policy. nil disables it.
func (p *Proxy) SetSessionExpired(fn SessionExpiredFunc) {
	p.mu.Lock()
	p.onExpired = fn
	p.mu.Unlock()
}

func (p *Proxy) expiryPolicy() SessionExpiredFunc {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.onExpired
}

func (p *Proxy) token() string {
	if s := p.Session(); s != nil {
		return s.Token
	}
	return ""
}

// Do performs a request. Failures are *qberror.Error values. A request
// rejected for an expired session goes through the expiry policy unless it
// targets the session endpoint.
func (p *Proxy) Do(ctx context.Context, params Params) (*Response, error) {
	// a file reader is drained by the first attempt, so retries send the
	// same buffered content
	if params.File != nil && params.File.Data != nil {
		content, err := io.ReadAll(params.File.Data)
		if err != nil {
			return nil, &qberror.Error{Status: "error", Message: fmt.Sprintf("failed to read file %s: %v", params.File.Name, err)}
		}
		params = params.withFileContent(content)
	}

	resp, err := p.do(ctx, params)
	if err == nil || !qberror.IsSessionExpired(err) || p.isSessionURL(params.URL) {
		return resp, err
	}
	policy := p.expiryPolicy()
	if policy == nil {
		return nil, err
	}

	retry := func(ctx context.Context, s *Session) (*Response, error) {
		if s == nil {
			return nil, err
		}
		p.SetSession(s)
		return p.do(ctx, params.rewind())
	}
	return policy(ctx, err, retry)
}

// Ajax runs Do in the background and reports the outcome to cb
func (p *Proxy) Ajax(ctx context.Context, params Params, cb func(*Response, error)) {
	go func() {
		resp, err := p.Do(ctx, params)
		if cb != nil {
			cb(resp, err)
		}
	}()
}

func (p *Proxy) isSessionURL(u string) bool {
	return p.cfg.URLs.Session != "" && strings.Contains(u, p.cfg.URLs.Session)
}

func (p *Proxy) do(ctx context.Context, params Params) (*Response, error) {
	n := p.reqCount.Add(1)
	p.logRequest(n, params)

	if timeout := p.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := p.newRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(req)
	if err != nil {
		p.log.Debug("[Response][%d] error %v", n, err)
		return nil, &qberror.Error{Status: "error", Message: err.Error()}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		p.log.Debug("[Response][%d] error %v", n, err)
		return nil, &qberror.Error{Code: httpResp.StatusCode, Status: "error", Message: err.Error()}
	}

	if !isSuccess(httpResp.StatusCode) {
		qerr := responseError(httpResp, body, params.isText())
		p.log.Debug("[Response][%d] error %d %s", n, httpResp.StatusCode, string(body))
		return nil, qerr
	}

	if len(bytes.TrimSpace(body)) == 0 {
		p.log.Debug("[Response][%d] empty body", n)
	} else {
		p.log.Debug("[Response][%d] %s", n, string(body))
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
}

func (p *Proxy) newRequest(ctx context.Context, params Params) (*http.Request, error) {
	method := params.method()
	target := params.URL
	contentType := ""

	var body io.Reader
	if params.Data != nil || params.File != nil {
		encoded, ct, err := encodeBody(params)
		if err != nil {
			return nil, err
		}
		if method == http.MethodGet || method == http.MethodHead {
			if len(encoded) > 0 {
				sep := "?"
				if strings.Contains(target, "?") {
					sep = "&"
				}
				target += sep + string(encoded)
			}
		} else {
			body = bytes.NewReader(encoded)
		}
		contentType = ct
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	switch {
	case params.Multipart:
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
	case params.ContentType != "":
		req.Header.Set("Content-Type", params.ContentType)
	case params.JSON:
		req.Header.Set("Content-Type", JSONContentType)
	default:
		req.Header.Set("Content-Type", FormContentType)
	}

	if token := p.token(); token != "" && !strings.Contains(target, storageHost) {
		req.Header.Set("QB-Token", token)
		req.Header.Set("QB-SDK", "Go "+config.Version+" - Server")
	}
	return req, nil
}

// encodeBody returns the encoded body and, for multipart bodies, the
// content type carrying the boundary
func encodeBody(params Params) ([]byte, string, error) {
	switch {
	case params.Multipart:
		return encodeMultipart(params.Data, params.File)
	case params.JSON:
		b, err := json.Marshal(params.Data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode body: %w", err)
		}
		return b, "", nil
	default:
		return []byte(EncodeForm(params.Data)), "", nil
	}
}

// EncodeForm encodes data as sorted key=value pairs. Maps become k[sub]=v
// and slices become k[]=v.
func EncodeForm(data map[string]any) string {
	pairs := make([]string, 0, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			sub := make([]string, 0, len(val))
			for sk, sv := range val {
				sub = append(sub, formPair(k+"["+sk+"]", sv))
			}
			sort.Strings(sub)
			pairs = append(pairs, strings.Join(sub, "&"))
		case map[string]string:
			sub := make([]string, 0, len(val))
			for sk, sv := range val {
				sub = append(sub, formPair(k+"["+sk+"]", sv))
			}
			sort.Strings(sub)
			pairs = append(pairs, strings.Join(sub, "&"))
		case []any:
			sub := make([]string, 0, len(val))
			for _, sv := range val {
				sub = append(sub, formPair(k+"[]", sv))
			}
			sort.Strings(sub)
			pairs = append(pairs, strings.Join(sub, "&"))
		case []string:
			sub := make([]string, 0, len(val))
			for _, sv := range val {
				sub = append(sub, formPair(k+"[]", sv))
			}
			sort.Strings(sub)
			pairs = append(pairs, strings.Join(sub, "&"))
		default:
			pairs = append(pairs, formPair(k, v))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

func formPair(key string, v any) string {
	return key + "=" + url.QueryEscape(formValue(v))
}

func formValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func encodeMultipart(data map[string]any, file *File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteField(k, formValue(data[k])); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	if file != nil {
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, strings.ReplaceAll(file.Name, `"`, "%22")))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part: %w", err)
		}
		if file.Data != nil {
			if _, err := io.Copy(part, file.Data); err != nil {
				return nil, "", fmt.Errorf("failed to write file part: %w", err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func isSuccess(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated || code == http.StatusAccepted
}

// responseError normalizes a non-success response. The message is the
// decoded body (or the status text when empty) and the detail is the
// body's "errors" member.
func responseError(resp *http.Response, body []byte, text bool) *qberror.Error {
	e := &qberror.Error{
		Code:   resp.StatusCode,
		Status: resp.Header.Get("Status"),
	}
	if e.Status == "" {
		e.Status = "error"
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		e.Message = http.StatusText(resp.StatusCode)
		return e
	}
	if text {
		e.Message = string(body)
		return e
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		e.Message = string(body)
		return e
	}
	e.Message = decoded
	if obj, ok := decoded.(map[string]any); ok {
		if errs, ok := obj["errors"]; ok {
			e.Detail = errs
		}
	}
	return e
}

func (p *Proxy) logRequest(n int64, params Params) {
	if !p.log.DebugEnabled() {
		return
	}
	logged := "\"\""
	if params.Data != nil {
		data := params.Data
		if _, ok := data["file"]; ok || params.File != nil {
			data = make(map[string]any, len(params.Data)+1)
			for k, v := range params.Data {
				data[k] = v
			}
			data["file"] = "..."
		}
		if b, err := json.Marshal(data); err == nil {
			logged = string(b)
		}
	}
	p.log.Debug("[Request][%d] %s %s %s", n, params.method(), params.URL, logged)
}
