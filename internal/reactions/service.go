package reactions

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rendis/area/internal/auth"
	"github.com/rendis/area/pkg/schema"
)

// ServiceAPI is the ReactionTypeId of the linked-account API call reaction.
const ServiceAPI = "SERVICE_API"

const serviceParamsSchema = `{
  "type": "object",
  "required": ["provider", "url"],
  "properties": {
    "provider": {"type": "string", "minLength": 1},
    "url": {"type": "string", "pattern": "^https?://"},
    "method": {"type": "string", "enum": ["GET","POST","PUT","PATCH","DELETE","get","post","put","patch","delete"], "default": "POST"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "body_encoding": {"type": "string", "enum": ["json","form","text"], "default": "json"}
  }
}`

type serviceParams struct {
	Provider     string            `json:"provider"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	Body         any               `json:"body"`
	BodyEncoding string            `json:"body_encoding"`
}

func (p serviceParams) request() httpRequestParams {
	return httpRequestParams{
		URL:          p.URL,
		Method:       p.Method,
		Headers:      p.Headers,
		Body:         p.Body,
		BodyEncoding: p.BodyEncoding,
	}
}

// ServiceExecutor calls a third-party API on behalf of the Area's owner
// using the OAuth token of their linked account.
type ServiceExecutor struct {
	caller httpCaller
	tokens auth.TokenSource
}

// NewServiceExecutor creates a ServiceExecutor.
func NewServiceExecutor(cfg HTTPConfig, tokens auth.TokenSource) *ServiceExecutor {
	return &ServiceExecutor{caller: newHTTPCaller(cfg), tokens: tokens}
}

func (e *ServiceExecutor) Name() string { return ServiceAPI }

func (e *ServiceExecutor) Schema() Schema {
	return Schema{
		Description:  "Call a linked service's API with the owner's OAuth token.",
		ParamsSchema: json.RawMessage(serviceParamsSchema),
	}
}

func (e *ServiceExecutor) Execute(ctx context.Context, in Invocation) error {
	var p serviceParams
	if err := decodeParams(ServiceAPI, in.Params, &p); err != nil {
		return err
	}
	if p.Provider == "" || p.URL == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: 'provider' and 'url' are required", ServiceAPI)
	}
	if in.UserID == "" {
		return schema.NewErrorf(schema.ErrCodeAuthRevoked, "%s: area has no owner with a linked %s account", ServiceAPI, p.Provider)
	}

	tok, err := e.tokens.Token(ctx, in.UserID, p.Provider)
	if err != nil {
		return err
	}

	hdr := http.Header{}
	hdr.Set("Authorization", tok.AuthorizationHeader())

	reply, err := e.caller.do(ctx, ServiceAPI, p.request(), hdr)
	if err != nil {
		return err
	}

	switch reply.StatusCode {
	case http.StatusUnauthorized:
		return schema.NewErrorf(schema.ErrCodeAuthExpired, "%s: %s rejected the access token", ServiceAPI, p.Provider).
			WithDetails(map[string]any{"provider": p.Provider, "status_code": reply.StatusCode})
	case http.StatusForbidden:
		return schema.NewErrorf(schema.ErrCodeAuthRevoked, "%s: %s denied access for the linked account", ServiceAPI, p.Provider).
			WithDetails(map[string]any{"provider": p.Provider, "status_code": reply.StatusCode})
	}
	if serr := statusError(ServiceAPI, reply); serr != nil {
		return serr
	}
	return nil
}
