package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jonwraymond/rpccache/auth"
	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/health"
	"github.com/jonwraymond/rpccache/observe"
)

type envelope struct {
	Result *resultBody `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

type resultBody struct {
	Data any `json:"data"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler returns the HTTP handler serving the registered procedures.
func (s *Server) Handler() http.Handler {
	s.echoOnce.Do(s.buildEcho)
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.echoOnce.Do(s.buildEcho)
	s.cfg.Logger.Info(context.Background(), "rpc server listening", observe.Field{Key: "addr", Value: addr})
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and waits for in-flight calls.
func (s *Server) Shutdown(ctx context.Context) error {
	s.echoOnce.Do(s.buildEcho)
	return s.echo.Shutdown(ctx)
}

func (s *Server) buildEcho() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(s.cfg.BodyLimit))
	if len(s.cfg.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.cfg.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		}))
	}

	route := s.cfg.Prefix + "/:route"
	e.GET(route, s.handleGet, s.authenticate)
	e.POST(route, s.handlePost, s.authenticate)

	if s.cfg.Health != nil {
		e.GET("/healthz", echo.WrapHandler(health.LivenessHandler()))
		e.GET("/readyz", echo.WrapHandler(health.ReadinessHandler(s.cfg.Health)))
		e.GET("/health", echo.WrapHandler(health.DetailedHandler(s.cfg.Health)))
	}
	if s.cfg.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.cfg.Metrics))
	}
	s.echo = e
}

// authenticate attaches the caller to the request context. Requests without
// credentials any authenticator understands proceed anonymously.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		a := s.cfg.Authenticator
		if a == nil {
			return next(c)
		}
		req := auth.NewRequest(c.Param("route"), c.Request().Header)
		if !a.Supports(req) {
			return next(c)
		}

		ctx := c.Request().Context()
		result, err := a.Authenticate(ctx, req)
		if err != nil {
			return Errorf(CodeInternal, err, "authentication unavailable")
		}
		if !result.Authenticated {
			return Errorf(CodeUnauthorized, result.Err, "authentication failed")
		}
		c.SetRequest(c.Request().WithContext(auth.WithCaller(ctx, result.Caller)))
		return next(c)
	}
}

func (s *Server) handleGet(c echo.Context) error {
	p, err := s.lookup(c.Param("route"))
	if err != nil {
		return err
	}
	if p.meta.Kind == observe.KindMutation {
		return NewError(CodeMethodNotSupported, fmt.Sprintf("mutation %q requires POST", p.meta.Route))
	}
	input, err := parseInput([]byte(c.QueryParam("input")))
	if err != nil {
		return err
	}
	return s.serve(c, p, input)
}

func (s *Server) handlePost(c echo.Context) error {
	p, err := s.lookup(c.Param("route"))
	if err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	input, err := parseInput(body)
	if err != nil {
		return err
	}
	return s.serve(c, p, input)
}

func (s *Server) serve(c echo.Context, p *procedure, input json.RawMessage) error {
	result, err := s.invoke(c.Request().Context(), p, input)
	if err != nil {
		return err
	}

	body, err := json.Marshal(envelope{Result: &resultBody{Data: result}})
	if err != nil {
		// Cyclic or non-finite results are sent in their projected form.
		body, err = json.Marshal(envelope{Result: &resultBody{Data: cache.Sanitize(result)}})
		if err != nil {
			return Errorf(CodeInternal, err, "encode result")
		}
	}
	return c.JSONBlob(http.StatusOK, body)
}

func parseInput(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, NewError(CodeBadRequest, "input is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var rpcErr *Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &rpcErr):
	case errors.As(err, &httpErr):
		rpcErr = &Error{Code: codeFor(httpErr.Code), Message: fmt.Sprint(httpErr.Message), Err: err}
	default:
		rpcErr = asError(err)
	}

	ctx := c.Request().Context()
	if rpcErr.Code == CodeInternal {
		s.cfg.Logger.Error(ctx, "rpc call failed",
			observe.Field{Key: "path", Value: c.Request().URL.Path},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}

	status := rpcErr.Status()
	if httpErr != nil {
		status = httpErr.Code
	}
	body := envelope{Error: &errorBody{Code: rpcErr.Code, Message: rpcErr.Message}}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
