// Package server hosts the trusted token proxy: the one same-origin
// endpoint that may hold the confidential client secret. Browsers cannot
// call the authorization server's token endpoint directly, so the code
// exchange is proxied here.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"go.pilab.hu/gistvault/config"
	"go.pilab.hu/gistvault/log"
)

// TokenProxy exchanges authorization codes against the upstream token
// endpoint on behalf of the browser client.
type TokenProxy struct {
	cfg        *config.Config
	logger     log.Logger
	httpClient *http.Client
}

// NewTokenProxy creates a token proxy.
func NewTokenProxy(cfg *config.Config, logger log.Logger) *TokenProxy {
	return &TokenProxy{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterRoutes registers the proxy routes.
func (p *TokenProxy) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/auth/token", p.TokenHandler)
	e.GET("/healthz", p.HealthHandler)
}

type tokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token,omitempty"`
	ErrorCode        string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenHandler forwards {code, code_verifier} to the upstream token
// endpoint, adding the confidential client credentials, and relays either
// the access token or the upstream error verbatim.
func (p *TokenProxy) TokenHandler(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, tokenResponse{
			ErrorCode:        "invalid_request",
			ErrorDescription: "malformed request body",
		})
	}
	if req.Code == "" || req.CodeVerifier == "" {
		return c.JSON(http.StatusBadRequest, tokenResponse{
			ErrorCode:        "invalid_request",
			ErrorDescription: "code and code_verifier are required",
		})
	}

	form := url.Values{}
	form.Set("client_id", p.cfg.GithubClientID)
	form.Set("client_secret", p.cfg.GithubClientSecret)
	form.Set("code", req.Code)
	form.Set("code_verifier", req.CodeVerifier)
	form.Set("redirect_uri", p.cfg.RedirectURL)

	ctx := c.Request().Context()
	upstream, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.AuthBaseURL+"/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, tokenResponse{
			ErrorCode:        "server_error",
			ErrorDescription: "failed to build upstream request",
		})
	}
	upstream.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	upstream.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(upstream)
	if err != nil {
		p.logger.Error(ctx, "token endpoint unreachable", err)
		return c.JSON(http.StatusBadGateway, tokenResponse{
			ErrorCode:        "server_error",
			ErrorDescription: "token endpoint unreachable",
		})
	}
	defer resp.Body.Close()

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		p.logger.Error(ctx, "failed to decode token endpoint response", err)
		return c.JSON(http.StatusBadGateway, tokenResponse{
			ErrorCode:        "server_error",
			ErrorDescription: "unreadable token endpoint response",
		})
	}

	if body.ErrorCode != "" {
		p.logger.Warn(ctx, "token exchange rejected upstream", map[string]any{
			"error": body.ErrorCode,
		})
		return c.JSON(http.StatusBadRequest, body)
	}
	if body.AccessToken == "" {
		return c.JSON(http.StatusBadGateway, tokenResponse{
			ErrorCode:        "server_error",
			ErrorDescription: "token endpoint returned no access token",
		})
	}

	return c.JSON(http.StatusOK, tokenResponse{AccessToken: body.AccessToken})
}

// HealthHandler answers liveness probes.
func (p *TokenProxy) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// NewHTTPServer creates the echo HTTP server hosting the proxy.
func NewHTTPServer(cfg *config.Config, appLogger log.Logger, proxy *TokenProxy) *http.Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			fields := map[string]any{
				"method":  c.Request().Method,
				"path":    c.Request().URL.Path,
				"status":  c.Response().Status,
				"latency": time.Since(start).String(),
				"ip":      c.RealIP(),
			}
			if err != nil {
				appLogger.Error(c.Request().Context(), "http request failed", err, fields)
			} else {
				appLogger.Info(c.Request().Context(), "http request", fields)
			}
			return err
		}
	})

	proxy.RegisterRoutes(e)

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      e,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
