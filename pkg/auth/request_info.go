package auth

import (
	"context"
	"encoding/json"
)

// maxUserAgentLen bounds the user agent kept with sessions and tokens.
const maxUserAgentLen = 512

type requestInfoKey struct{}

// RequestInfo describes the client a request came from. It is recorded as
// metadata on the sessions and tokens issued while serving the request.
type RequestInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// WithRequestInfo returns a copy of ctx carrying info.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the client info stored in ctx, if any.
func RequestInfoFrom(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}

// requestMetadata encodes the client info of ctx as JSON, or nil when
// there is none.
func requestMetadata(ctx context.Context) []byte {
	info, ok := RequestInfoFrom(ctx)
	if !ok {
		return nil
	}
	if len(info.UserAgent) > maxUserAgentLen {
		info.UserAgent = info.UserAgent[:maxUserAgentLen]
	}
	if info.IP == "" && info.UserAgent == "" {
		return nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return nil
	}
	return b
}
