// Package httpproto implements the engine.ProtocolPlugin contract over
// valyala/fasthttp, the one concrete protocol transport this repo ships.
package httpproto

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/fracture-labs/fracture/internal/engine"
	"github.com/fracture-labs/fracture/internal/model"
)

// Plugin is the HTTP ProtocolPlugin. One instance is safe for concurrent
// Execute calls; fasthttp.Client itself is goroutine-safe.
type Plugin struct {
	client  *fasthttp.Client
	limiter *rate.Limiter // optional request throttle, nil disables it
}

// New builds an HTTP plugin. ratePerSec <= 0 disables throttling.
func New(ratePerSec float64) *Plugin {
	p := &Plugin{client: &fasthttp.Client{}}
	if ratePerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return p
}

func (p *Plugin) Protocols() []string            { return []string{"http", "https"} }
func (p *Plugin) Name() string                   { return "http" }
func (p *Plugin) Version() string                { return "1.0.0" }
func (p *Plugin) SupportedAuthTypes() []string    { return []string{"bearer", "basic", "oauth2"} }
func (p *Plugin) StrictAuthList() bool            { return false }
func (p *Plugin) Events() []engine.EventDef       { return nil }
func (p *Plugin) ProtocolAPIProvider(ctx *engine.ExecutionContext) any {
	return map[string]any{
		"request": map[string]any{
			"url":     ctx.CurrentRequest,
		},
		"response": map[string]any{
			"current": ctx.CurrentResponse,
		},
	}
}

// Validate performs static semantic checks on one request's HTTP shape.
func (p *Plugin) Validate(req model.Request, opts engine.RuntimeOptions) engine.ValidationResult {
	var errs []string
	if req.Data.URL == "" {
		errs = append(errs, "request.data.url is required")
	}
	if req.Data.Method != "" {
		switch strings.ToUpper(req.Data.Method) {
		case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		default:
			errs = append(errs, fmt.Sprintf("unsupported HTTP method %q", req.Data.Method))
		}
	}
	return engine.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Execute performs the HTTP call and translates the result into a structured
// ProtocolResponse (spec.md §9: "new implementations should adopt the
// structured shape").
func (p *Plugin) Execute(req model.Request, ctx *engine.ExecutionContext, opts engine.RuntimeOptions, emit engine.EmitEventFunc) (*engine.ProtocolResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx.AbortCtx); err != nil {
			return neutralAbortResponse(), nil
		}
	}

	resolver := engine.NewValueResolver(ctx)
	method := strings.ToUpper(req.Data.Method)
	if method == "" {
		method = "GET"
	}

	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	targetURL := resolver.ResolveString(req.Data.URL)
	freq.SetRequestURI(targetURL)
	freq.Header.SetMethod(method)
	for k, v := range req.Data.Headers {
		freq.Header.Set(k, resolver.ResolveString(v))
	}

	if body, mode := bodyModeOf(req); body != "" {
		switch mode {
		case "binary":
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err == nil {
				freq.SetBody(decoded)
			}
		default:
			freq.SetBodyString(resolver.ResolveString(body))
		}
	}

	if proxyURL := resolveProxy(opts); proxyURL != "" {
		client := &fasthttp.Client{
			Dial: fasthttpProxyDialer(proxyURL),
		}
		return p.doRequest(client, freq, fresp, ctx, opts, time.Now())
	}
	return p.doRequest(p.client, freq, fresp, ctx, opts, time.Now())
}

func (p *Plugin) doRequest(client *fasthttp.Client, freq *fasthttp.Request, fresp *fasthttp.Response, ctx *engine.ExecutionContext, opts engine.RuntimeOptions, start time.Time) (*engine.ProtocolResponse, error) {
	timeout := 60 * time.Second
	if opts.Timeout.RequestMs > 0 {
		timeout = time.Duration(opts.Timeout.RequestMs) * time.Millisecond
	}

	err := client.DoTimeout(freq, fresp, timeout)
	duration := time.Since(start)

	if ctx.Aborted() {
		return neutralAbortResponse(), nil
	}
	if err != nil {
		return &engine.ProtocolResponse{
			StatusCode: 0,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
			Summary: engine.ResponseSummary{
				Outcome: "failure", Message: err.Error(), DurationMs: duration.Milliseconds(),
			},
		}, nil
	}

	headers := map[string]string{}
	fresp.Header.VisitAll(func(k, v []byte) {
		headers[strings.ToLower(string(k))] = string(v)
	})

	resp := &engine.ProtocolResponse{
		StatusCode: fresp.StatusCode(),
		StatusText: fasthttp.StatusMessage(fresp.StatusCode()),
		Headers:    headers,
		Body:       string(fresp.Body()),
		DurationMs: duration.Milliseconds(),
		Data: map[string]any{
			"status":  fresp.StatusCode(),
			"headers": headers,
			"body":    string(fresp.Body()),
		},
		Summary: engine.ResponseSummary{
			Outcome:    outcomeFor(fresp.StatusCode()),
			Code:       fresp.StatusCode(),
			DurationMs: duration.Milliseconds(),
		},
	}

	if err := ctx.CookieJar.SetFromResponse(freq.URI().String(), headersToHTTPHeader(headers)); err != nil {
		// cookie parse failures never fail the request itself.
		_ = err
	}
	return resp, nil
}

func outcomeFor(status int) string {
	if status >= 200 && status < 400 {
		return "success"
	}
	return "failure"
}

func neutralAbortResponse() *engine.ProtocolResponse {
	return &engine.ProtocolResponse{
		Summary: engine.ResponseSummary{Outcome: "aborted", Message: "aborted"},
	}
}

func bodyModeOf(req model.Request) (string, string) {
	m, ok := req.Data.Body.(map[string]any)
	if !ok {
		if s, ok := req.Data.Body.(string); ok {
			return s, "raw"
		}
		return "", ""
	}
	mode, _ := m["mode"].(string)
	switch mode {
	case "urlencoded", "formdata":
		kv, _ := m["kv"].([]any)
		return encodeKV(kv), "urlencoded"
	case "binary":
		s, _ := m["data"].(string)
		return s, "binary"
	default:
		s, _ := m["raw"].(string)
		return s, "raw"
	}
}

func encodeKV(kv []any) string {
	vals := url.Values{}
	for _, item := range kv {
		pair, ok := item.(map[string]any)
		if !ok {
			continue
		}
		k, _ := pair["key"].(string)
		v, _ := pair["value"].(string)
		vals.Set(k, v)
	}
	return vals.Encode()
}

// resolveProxy honours options.proxy, falling back to HTTP_PROXY/HTTPS_PROXY
// env vars in both case variants (spec.md §6 "HTTP plugin externals").
func resolveProxy(opts engine.RuntimeOptions) string {
	if opts.Proxy.URL != "" {
		return opts.Proxy.URL
	}
	for _, k := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func fasthttpProxyDialer(proxyURL string) fasthttp.DialFunc {
	return func(addr string) (net.Conn, error) {
		return fasthttp.Dial(proxyTarget(proxyURL))
	}
}

func proxyTarget(proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return proxyURL
	}
	if u.Port() != "" {
		return u.Hostname() + ":" + u.Port()
	}
	return u.Hostname() + ":80"
}

func headersToHTTPHeader(h map[string]string) http.Header {
	hh := http.Header{}
	for k, v := range h {
		hh.Add(k, v)
	}
	return hh
}

// parsePositiveInt is a tiny local helper kept for proxy port parsing if ever
// needed beyond url.URL.Port().
func parsePositiveInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
