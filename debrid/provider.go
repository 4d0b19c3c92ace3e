package debrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/ratelimit"

	"onedl/internal"
	"onedl/utils"
)

// Provider is the uniform capability surface over one debrid service
type Provider interface {
	Name() internal.ProviderName
	Configured() bool
	Supports(link internal.Link) bool
	CheckCached(ctx context.Context, link internal.Link) (internal.CacheStatus, error)
	Submit(ctx context.Context, link internal.Link) (*internal.RemoteJob, error)
	Poll(ctx context.Context, job *internal.RemoteJob) (*internal.JobSnapshot, error)
	ListFiles(ctx context.Context, job *internal.RemoteJob) ([]internal.ResolvedFile, error)
}

// Option customizes an adapter at construction
type Option func(*options)

type options struct {
	baseURL string
	client  *utils.HTTPClient
}

// WithBaseURL points an adapter at another API root, used by tests and mirrors
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient shares an existing client between adapters
func WithHTTPClient(c *utils.HTTPClient) Option {
	return func(o *options) { o.client = c }
}

// NewProviders builds every adapter in the configured priority order.
// Unconfigured adapters are included; callers filter on Configured.
func NewProviders(cfg *internal.Config) []Provider {
	providers := make([]Provider, 0, len(cfg.ProviderPriority))
	for _, name := range cfg.ProviderPriority {
		if p := New(name, cfg); p != nil {
			providers = append(providers, p)
		}
	}
	return providers
}

// New returns the adapter for name, or nil for an unknown name
func New(name internal.ProviderName, cfg *internal.Config, opts ...Option) Provider {
	switch name {
	case internal.RealDebrid:
		return NewRealDebrid(cfg, opts...)
	case internal.AllDebrid:
		return NewAllDebrid(cfg, opts...)
	case internal.Premiumize:
		return NewPremiumize(cfg, opts...)
	case internal.TorBox:
		return NewTorBox(cfg, opts...)
	default:
		return nil
	}
}

const maxResponseSize = 8 << 20

// apiClient carries what every adapter needs to talk to its REST API
type apiClient struct {
	name    internal.ProviderName
	baseURL string
	token   string
	http    *utils.HTTPClient
	headers map[string]string
}

func newAPIClient(name internal.ProviderName, defaultURL string, cfg *internal.Config, opts []Option) *apiClient {
	o := &options{baseURL: defaultURL}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		o.client = newProviderHTTPClient(cfg)
	}
	return &apiClient{
		name:    name,
		baseURL: o.baseURL,
		token:   cfg.Token(name),
		http:    o.client,
		headers: make(map[string]string),
	}
}

// newProviderHTTPClient paces calls to one API. Retrying is left to the
// poller so a transient failure is never retried twice over.
func newProviderHTTPClient(cfg *internal.Config) *utils.HTTPClient {
	var limiter ratelimit.Limiter
	if cfg.APIRatePerSecond > 0 {
		limiter = ratelimit.New(cfg.APIRatePerSecond, ratelimit.WithSlack(cfg.APIRatePerSecond))
	} else {
		limiter = ratelimit.NewUnlimited()
	}
	return utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout:   cfg.RequestTimeout,
		ProxyURL:  cfg.Proxy,
		UserAgent: cfg.UserAgent,
		RetryConfig: &utils.RetryConfig{
			MaxAttempts: 1,
			BaseDelay:   time.Second,
			MaxDelay:    time.Second,
			Multiplier:  1,
		},
		Limiter: limiter,
	})
}

// request describes one API call
type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func (c *apiClient) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// call performs r and returns the raw body of a 2xx response. Transport
// failures become transient provider errors and error statuses are mapped
// through NewProviderStatusError.
func (c *apiClient) call(ctx context.Context, r request) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		return nil, internal.NewProviderError(c.name, internal.ProviderUnsupported, "invalid request").WithCause(err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, internal.NewProviderError(c.name, internal.ProviderTransient,
			fmt.Sprintf("%s request failed", c.name.DisplayName())).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, internal.NewProviderError(c.name, internal.ProviderTransient, "failed to read response").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, internal.NewProviderStatusError(c.name, resp.StatusCode,
			fmt.Sprintf("%s returned HTTP %d: %s", c.name.DisplayName(), resp.StatusCode, errorMessage(body)))
	}
	return body, nil
}

// callJSON performs r and decodes the response into out
func (c *apiClient) callJSON(ctx context.Context, r request, out interface{}) error {
	body, err := c.call(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return internal.NewProviderError(c.name, internal.ProviderTransient, "malformed response").WithCause(err)
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.callJSON(ctx, request{method: http.MethodGet, path: path, query: query}, out)
}

func (c *apiClient) postForm(ctx context.Context, path string, query, form url.Values, out interface{}) error {
	return c.callJSON(ctx, request{
		method:      http.MethodPost,
		path:        path,
		query:       query,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, out)
}

// formPart is one multipart field; data != nil makes it a file part
type formPart struct {
	field    string
	value    string
	filename string
	data     []byte
}

func (c *apiClient) postMultipart(ctx context.Context, path string, query url.Values, parts []formPart, out interface{}) error {
	payload := &bytes.Buffer{}
	writer := multipart.NewWriter(payload)
	for _, p := range parts {
		if p.data == nil {
			if err := writer.WriteField(p.field, p.value); err != nil {
				return err
			}
			continue
		}
		fw, err := writer.CreateFormFile(p.field, p.filename)
		if err != nil {
			return err
		}
		if _, err := fw.Write(p.data); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return c.callJSON(ctx, request{
		method:      http.MethodPost,
		path:        path,
		query:       query,
		body:        bytes.NewReader(payload.Bytes()),
		contentType: writer.FormDataContentType(),
	}, out)
}

// loadContainer returns the name and bytes of a .torrent or .nzb link,
// reading local files from disk and fetching remote ones
func (c *apiClient) loadContainer(ctx context.Context, link internal.Link) (string, []byte, error) {
	if !link.IsRemote() {
		data, err := os.ReadFile(link.Path)
		if err != nil {
			return "", nil, internal.NewProviderError(c.name, internal.ProviderUnsupported, "cannot read container file").
				WithCause(err).
				WithContext("path", link.Path)
		}
		return filepath.Base(link.Path), data, nil
	}

	resp, err := c.http.GetWithContext(ctx, link.Raw, nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, internal.NewProviderError(c.name, internal.ProviderTransient, "cannot fetch container file").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, internal.NewProviderError(c.name, internal.ProviderUnsupported,
			fmt.Sprintf("container download returned HTTP %d", resp.StatusCode)).WithURL(link.Raw)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", nil, internal.NewProviderError(c.name, internal.ProviderTransient, "cannot read container file").WithCause(err)
	}
	return utils.FileNameFromURL(link.Raw, "container"+containerExt(link.Kind)), data, nil
}

func containerExt(kind internal.LinkKind) string {
	if kind == internal.KindNZBContainer {
		return ".nzb"
	}
	return ".torrent"
}

// errorMessage pulls a human readable message out of an error body
func errorMessage(body []byte) string {
	var envelope struct {
		Error   interface{} `json:"error"`
		Message string      `json:"message"`
		Detail  string      `json:"detail"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		switch {
		case envelope.Detail != "":
			return envelope.Detail
		case envelope.Message != "":
			return envelope.Message
		}
		switch e := envelope.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]interface{}:
			if m, ok := e["message"].(string); ok {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return "empty response"
	}
	return msg
}

// decodeOneOrMany accepts an object or a list of objects and returns the first element
func decodeOneOrMany(raw json.RawMessage, out interface{}) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return false, err
		}
		if len(list) == 0 {
			return false, nil
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// requireReady guards ListFiles
func requireReady(job *internal.RemoteJob) error {
	if job == nil {
		return internal.NewResolveError(internal.ErrNotReady, "no job")
	}
	if !job.Ready() {
		return internal.NewNotReadyError(job)
	}
	return nil
}

// readyJob builds a job that completed synchronously at submission
func readyJob(provider internal.ProviderName, kind internal.JobKind, remoteID string, link internal.Link, files []internal.ResolvedFile) *internal.RemoteJob {
	job := internal.NewRemoteJob(provider, kind, remoteID, link)
	job.Advance(internal.JobReady)
	job.Progress = 100
	job.Files = internal.Reindex(files)
	return job
}

// isNotFound reports whether err is an HTTP 404 from the provider API, the
// only status that means a remote job is gone
func isNotFound(err error) bool {
	var re *internal.ResolveError
	return errors.As(err, &re) && re.Type == internal.ErrProvider && re.Code == http.StatusNotFound
}

func unsupportedLink(provider internal.ProviderName, link internal.Link) error {
	return internal.NewProviderError(provider, internal.ProviderUnsupported,
		fmt.Sprintf("%s does not accept %s links", provider.DisplayName(), link.Kind)).WithURL(link.Raw)
}
