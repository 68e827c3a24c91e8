package cmd

import (
	"context"
	"fmt"
	"time"

	"perishable-ledger/core/config"
	"perishable-ledger/core/logger"
	"perishable-ledger/core/middleware/auth"
	"perishable-ledger/core/server"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const apiTimeout = 30 * time.Second

// apiError is the error body of the admin API. Failed commands carry a
// message instead.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// apiClient calls a running server's admin API.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(cfg server.Config) *apiClient {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetHeader(auth.Header, cfg.ApiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(apiTimeout)
	return &apiClient{http: client}
}

// do sends a request and decodes a successful response into out.
func (a *apiClient) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	req := a.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetError(&apiError{})
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok {
			if e.Error != "" {
				return fmt.Errorf("%s: %s", resp.Status(), e.Error)
			}
			if e.Message != "" {
				return fmt.Errorf("%s: %s", resp.Status(), e.Message)
			}
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}
	return nil
}

// download fetches a binary resource.
func (a *apiClient) download(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetError(&apiError{}).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("request GET %s failed: %w", path, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status(), e.Error)
		}
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status())
	}
	return resp.Body(), nil
}

// cliSetup loads configuration and a console logger for client subcommands.
func cliSetup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: "console"})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, l, nil
}
