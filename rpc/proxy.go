package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonwraymond/rpccache/auth"
)

const maxUpstreamBody = 8 << 20

// ProxyConfig configures a Handler that forwards calls to an upstream
// HTTP endpoint.
type ProxyConfig struct {
	// URL receives the input as a POST body.
	URL string

	// Client sends the request. Default: a client with a 10s timeout.
	Client *http.Client

	// CallerHeader carries the caller ID upstream. Default: "X-Caller-ID"
	CallerHeader string
}

// Proxy returns a Handler forwarding to cfg.URL. Upstream responses in the
// rpc envelope are unwrapped; any other JSON body is the result. Upstream
// statuses of 400 and above become errors with the matching code.
func Proxy(cfg ProxyConfig) Handler {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.CallerHeader == "" {
		cfg.CallerHeader = "X-Caller-ID"
	}

	return func(ctx context.Context, input json.RawMessage) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(input))
		if err != nil {
			return nil, fmt.Errorf("rpc: proxy request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if id := auth.CallerIDFromContext(ctx); id != "" {
			req.Header.Set(cfg.CallerHeader, id)
		}

		resp, err := cfg.Client.Do(req)
		if err != nil {
			return nil, Errorf(CodeInternal, err, "upstream unavailable")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		if err != nil {
			return nil, Errorf(CodeInternal, err, "read upstream response")
		}

		var env struct {
			Result *struct {
				Data any `json:"data"`
			} `json:"result"`
			Error *errorBody `json:"error"`
		}
		wrapped := json.Unmarshal(data, &env) == nil

		if resp.StatusCode >= http.StatusBadRequest {
			if wrapped && env.Error != nil {
				return nil, NewError(env.Error.Code, env.Error.Message)
			}
			return nil, NewError(codeFor(resp.StatusCode), "upstream returned "+resp.Status)
		}

		if wrapped && env.Result != nil {
			return env.Result.Data, nil
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		var result any
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, Errorf(CodeInternal, err, "decode upstream response")
		}
		return result, nil
	}
}
