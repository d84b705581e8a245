package reactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rendis/area/pkg/schema"
)

// HTTPRequest is the ReactionTypeId of the outbound HTTP call reaction.
const HTTPRequest = "HTTP_REQUEST"

// HTTPConfig configures the HTTP based reactions.
type HTTPConfig struct {
	Client          *http.Client
	MaxResponseBody int64
}

const defaultMaxResponseBody = 1024 * 1024 // 1MB

const httpRequestParamsSchema = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "pattern": "^https?://"},
    "method": {"type": "string", "enum": ["GET","POST","PUT","PATCH","DELETE","get","post","put","patch","delete"], "default": "POST"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "body_encoding": {"type": "string", "enum": ["json","form","text"], "default": "json"}
  }
}`

type httpRequestParams struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Body         any               `json:"body"`
	BodyEncoding string            `json:"body_encoding"`
}

// httpReply is the part of a response the reactions inspect.
type httpReply struct {
	StatusCode int
	Body       []byte
}

// httpCaller holds the transport shared by HTTP_REQUEST and SERVICE_API.
type httpCaller struct {
	client  *http.Client
	maxBody int64
}

func newHTTPCaller(cfg HTTPConfig) httpCaller {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	return httpCaller{client: cfg.Client, maxBody: cfg.MaxResponseBody}
}

// do sends the request and reads a bounded body. Only transport failures
// are returned as errors; status classification is left to the caller.
func (c httpCaller) do(ctx context.Context, reactionType string, p httpRequestParams, extra http.Header) (*httpReply, error) {
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodPost
	}
	if u, err := url.ParseRequestURI(p.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid url %q", reactionType, p.URL)
	}

	body, contentType, err := encodeBody(p.Body, p.BodyEncoding)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: cannot encode body", reactionType).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: failed to create request", reactionType).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, reactionType, method, p.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, transportError(ctx, reactionType, method, p.URL, err)
	}
	return &httpReply{StatusCode: resp.StatusCode, Body: data}, nil
}

func encodeBody(raw any, encoding string) (io.Reader, string, error) {
	if raw == nil {
		return nil, "", nil
	}
	switch encoding {
	case "form":
		formData, ok := raw.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("form body must be an object, got %T", raw)
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", raw)), "text/plain; charset=utf-8", nil
	default: // json
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

// transportError maps a failed round trip. Deadline expiry is a TIMEOUT,
// anything else means the remote could not be reached.
func transportError(ctx context.Context, reactionType, method, rawURL string, err error) *schema.AreaError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return schema.NewErrorf(schema.ErrCodeTimeout, "%s: %s %s timed out", reactionType, method, rawURL).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeUpstreamUnavailable, "%s: %s %s failed: %v", reactionType, method, rawURL, err).WithCause(err)
}

// statusError classifies a non-2xx response: 429 and 5xx are transient,
// other statuses are rejections that will not clear by retrying.
func statusError(reactionType string, reply *httpReply) *schema.AreaError {
	if reply.StatusCode < 300 {
		return nil
	}
	details := map[string]any{
		"status_code": reply.StatusCode,
		"body":        truncate(string(reply.Body), 512),
	}
	if reply.StatusCode >= 500 || reply.StatusCode == http.StatusTooManyRequests {
		return schema.NewErrorf(schema.ErrCodeUpstreamUnavailable, "%s: server returned %d", reactionType, reply.StatusCode).
			WithDetails(details)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s: server returned %d", reactionType, reply.StatusCode).
		WithDetails(details)
}

// --- HTTPRequestExecutor ---

// HTTPRequestExecutor calls a configured endpoint with an interpolated body.
type HTTPRequestExecutor struct {
	caller httpCaller
}

// NewHTTPRequestExecutor creates an HTTPRequestExecutor.
func NewHTTPRequestExecutor(cfg HTTPConfig) *HTTPRequestExecutor {
	return &HTTPRequestExecutor{caller: newHTTPCaller(cfg)}
}

func (e *HTTPRequestExecutor) Name() string { return HTTPRequest }

func (e *HTTPRequestExecutor) Schema() Schema {
	return Schema{
		Description:  "Call an HTTP endpoint. 429 and 5xx fail the reaction as UPSTREAM_UNAVAILABLE; other 4xx as EXECUTION_ERROR.",
		ParamsSchema: json.RawMessage(httpRequestParamsSchema),
	}
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, in Invocation) error {
	var p httpRequestParams
	if err := decodeParams(HTTPRequest, in.Params, &p); err != nil {
		return err
	}
	if p.URL == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'url'", HTTPRequest)
	}

	reply, err := e.caller.do(ctx, HTTPRequest, p, nil)
	if err != nil {
		return err
	}
	if serr := statusError(HTTPRequest, reply); serr != nil {
		return serr
	}
	return nil
}
