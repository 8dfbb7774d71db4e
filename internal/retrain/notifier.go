package retrain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const reloadPath = "/api/v1/model/reload"

// Notifier tells a running service to pick up new artifacts.
type Notifier interface {
	NotifyReload(ctx context.Context) (string, error)
}

type reloadResp struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version"`
}

type errorResp struct {
	Detail string `json:"detail"`
}

// ReloadClient calls the service's reload endpoint with an admin token.
type ReloadClient struct {
	base  string
	token string
	rest  *resty.Client
}

func NewReloadClient(baseURL, token string, timeout time.Duration) *ReloadClient {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second)
	}
	return &ReloadClient{base: strings.TrimRight(baseURL, "/"), token: token, rest: r}
}

// NotifyReload returns the model version the service reports after reloading.
func (c *ReloadClient) NotifyReload(ctx context.Context) (string, error) {
	result := &reloadResp{}
	failure := &errorResp{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(failure)
	if c.token != "" {
		req.SetAuthToken(c.token)
	}

	resp, err := req.Post(c.base + reloadPath)
	if err != nil {
		return "", fmt.Errorf("reload request failed: %w", err)
	}
	if resp.IsError() {
		detail := failure.Detail
		if detail == "" {
			detail = resp.String()
		}
		return "", fmt.Errorf("reload rejected: status %d: %s", resp.StatusCode(), detail)
	}
	return result.ModelVersion, nil
}
