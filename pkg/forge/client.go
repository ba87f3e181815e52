package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/ratelimit"
)

// Client is a platform REST API client. Every call reserves one unit from
// the shared token budget before hitting the network and reconciles the
// budget against the response headers afterwards.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	pageSize   int
	budget     ratelimit.Reserver
	logger     logger.Logger
}

// NewClient creates a new platform API client
func NewClient(cfg *config.ForgeConfig, budget ratelimit.Reserver, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	headers := map[string]string{
		"Accept":     "application/vnd.github+json",
		"User-Agent": cfg.UserAgent,
	}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		headers:  headers,
		baseURL:  cfg.BaseURL,
		pageSize: 100,
		budget:   budget,
		logger:   log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// doRequest performs an HTTP request with the configured headers, reserving
// budget first and reporting the response headers back to it
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	if c.budget != nil {
		if err := c.budget.Reserve(req.Context(), 1); err != nil {
			return nil, err
		}
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending API request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("API request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
			Code:    0,
		}
	}

	if c.budget != nil {
		c.budget.Report(resp.Header)
	}

	c.logger.DebugWithFields("API request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// Get performs a GET request to the specified URL
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}

	return c.doRequest(req)
}

// GetJSON performs a GET request and decodes the JSON response
func (c *Client) GetJSON(ctx context.Context, url string, target interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}

		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}

	return nil
}

// checkResponseStatus maps HTTP response statuses to typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "authentication failed or token lacks scope",
			Code:    resp.StatusCode,
		}
	case http.StatusNotFound:
		return &errs.Error{
			Type:    errs.ErrorTypeNotFound,
			Message: "resource not found",
			Code:    resp.StatusCode,
		}
	case http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeRateLimit,
			Message: "rate limit exceeded",
			Code:    resp.StatusCode,
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.logger.ErrorWithFields("server error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Message: "server error",
			Code:    resp.StatusCode,
		}
	default:
		if resp.StatusCode >= 400 {
			return &errs.Error{
				Type:    errs.ErrorTypeUnknown,
				Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
				Code:    resp.StatusCode,
			}
		}
		return nil
	}
}

// FetchProfile fetches a user or organization profile
func (c *Client) FetchProfile(ctx context.Context, username string) (*Profile, error) {
	var profile Profile
	if err := c.GetJSON(ctx, profileURL(c.baseURL, username), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// FetchFollowers fetches one page of a user's followers. Pages are 1-based.
func (c *Client) FetchFollowers(ctx context.Context, username string, page, perPage int) ([]ProfileSummary, error) {
	if perPage <= 0 {
		perPage = c.pageSize
	}

	var followers []ProfileSummary
	if err := c.GetJSON(ctx, followersURL(c.baseURL, username, page, perPage), &followers); err != nil {
		return nil, err
	}
	return followers, nil
}

// FetchSponsors fetches one page of a user's sponsorship listing
func (c *Client) FetchSponsors(ctx context.Context, username string, page, perPage int) (*SponsorListing, error) {
	if perPage <= 0 {
		perPage = c.pageSize
	}

	var listing SponsorListing
	if err := c.GetJSON(ctx, sponsorsURL(c.baseURL, username, page, perPage), &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// FetchSponsoring fetches one page of the accounts a user sponsors
func (c *Client) FetchSponsoring(ctx context.Context, username string, page, perPage int) (*SponsoringListing, error) {
	if perPage <= 0 {
		perPage = c.pageSize
	}

	var listing SponsoringListing
	if err := c.GetJSON(ctx, sponsoringURL(c.baseURL, username, page, perPage), &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// FetchYearActivity fetches a user's contribution count for one calendar year
func (c *Client) FetchYearActivity(ctx context.Context, username string, year int) (*YearActivity, error) {
	var activity YearActivity
	if err := c.GetJSON(ctx, activityURL(c.baseURL, username, year), &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}
