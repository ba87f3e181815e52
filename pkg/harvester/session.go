package harvester

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/ratelimit"
)

var (
	authTokenPattern = regexp.MustCompile(`name="authenticity_token"\s+value="([^"]+)"`)
	pronounPattern   = regexp.MustCompile(`itemprop="pronouns"[^>]*>\s*([^<]+?)\s*<`)
)

// ErrNoPronouns reports a profile page without a declared pronoun element
var ErrNoPronouns = &errs.Error{
	Type:    errs.ErrorTypeNotFound,
	Message: "no pronouns declared",
}

// Harvester scrapes declared pronouns from profile pages through an
// authenticated web session. Pronouns are only rendered to logged-in
// viewers, which is why this cannot go through the API client.
type Harvester struct {
	cfg        *config.SessionConfig
	httpClient *http.Client
	budget     ratelimit.Reserver
	logger     logger.Logger

	mu       sync.Mutex
	loggedIn bool
}

// New creates a session harvester. The session is established lazily on the
// first fetch.
func New(cfg *config.SessionConfig, budget ratelimit.Reserver, log logger.Logger) (*Harvester, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Harvester{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Jar:     jar,
		},
		budget: budget,
		logger: log,
	}, nil
}

// Login establishes the authenticated session. A challenge page (two-factor
// prompt or captcha) is a fatal auth error: it cannot be solved headlessly,
// so the caller must degrade pronoun harvesting rather than retry.
func (h *Harvester) Login(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loginLocked(ctx)
}

func (h *Harvester) loginLocked(ctx context.Context) error {
	if h.cfg.Login == "" || h.cfg.Password == "" {
		return &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "session credentials not configured",
		}
	}

	body, _, err := h.get(ctx, h.cfg.BaseURL+"/login")
	if err != nil {
		return err
	}

	match := authTokenPattern.FindStringSubmatch(body)
	if match == nil {
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "login form token not found",
		}
	}

	form := url.Values{
		"login":              {h.cfg.Login},
		"password":           {h.cfg.Password},
		"authenticity_token": {match[1]},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.cfg.BaseURL+"/session", strings.NewReader(form.Encode()))
	if err != nil {
		return &errs.Error{Type: errs.ErrorTypeUnknown, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", h.cfg.UserAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("login request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{Type: errs.ErrorTypeNetwork, Message: err.Error()}
	}
	page := string(raw)

	if err := detectChallenge(page); err != nil {
		h.logger.ErrorWithFields("session login challenged", map[string]interface{}{
			"login": h.cfg.Login,
			"error": err.Error(),
		})
		return err
	}

	if strings.Contains(page, "Incorrect username or password") {
		return &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "incorrect session credentials",
			Code:    resp.StatusCode,
		}
	}

	h.loggedIn = true
	h.logger.InfoWithFields("session established", map[string]interface{}{
		"login": h.cfg.Login,
	})
	return nil
}

// detectChallenge recognizes interactive verification pages
func detectChallenge(page string) error {
	lower := strings.ToLower(page)
	switch {
	case strings.Contains(lower, "two-factor") || strings.Contains(lower, "verification code"):
		return &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "account requires two-factor verification",
		}
	case strings.Contains(lower, "captcha"):
		return &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "login blocked by captcha",
		}
	}
	return nil
}

// FetchPronouns returns a user's declared pronouns, or ErrNoPronouns when
// the profile declares none. An expired session is re-established once
// before the fetch is reported as failed.
func (h *Harvester) FetchPronouns(ctx context.Context, username string) (string, error) {
	if h.budget != nil {
		if err := h.budget.Reserve(ctx, 1); err != nil {
			return "", err
		}
	}

	h.mu.Lock()
	if !h.loggedIn {
		if err := h.loginLocked(ctx); err != nil {
			h.mu.Unlock()
			return "", err
		}
	}
	h.mu.Unlock()

	page, status, err := h.get(ctx, h.cfg.BaseURL+"/"+url.PathEscape(username))
	if err != nil {
		return "", err
	}

	if status == http.StatusNotFound {
		return "", &errs.Error{
			Type:    errs.ErrorTypeNotFound,
			Message: "profile not found",
			Code:    status,
		}
	}
	if status == http.StatusTooManyRequests {
		return "", &errs.Error{
			Type:    errs.ErrorTypeRateLimit,
			Message: "session rate limited",
			Code:    status,
		}
	}
	if status >= 500 {
		return "", &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Message: fmt.Sprintf("profile page returned status %d", status),
			Code:    status,
		}
	}

	// A login form on a profile page means the session expired.
	if sessionExpired(page) {
		h.logger.Warn("session expired, re-establishing")

		h.mu.Lock()
		h.loggedIn = false
		if err := h.loginLocked(ctx); err != nil {
			h.mu.Unlock()
			return "", err
		}
		h.mu.Unlock()

		page, status, err = h.get(ctx, h.cfg.BaseURL+"/"+url.PathEscape(username))
		if err != nil {
			return "", err
		}
		if status != http.StatusOK || sessionExpired(page) {
			return "", &errs.Error{
				Type:    errs.ErrorTypeAuth,
				Message: "session could not be re-established",
				Code:    status,
			}
		}
	}

	match := pronounPattern.FindStringSubmatch(page)
	if match == nil {
		return "", ErrNoPronouns
	}

	pronouns := strings.TrimSpace(match[1])
	h.logger.DebugWithFields("pronouns harvested", map[string]interface{}{
		"username": username,
		"pronouns": pronouns,
	})
	return pronouns, nil
}

// sessionExpired recognizes a logged-out page render
func sessionExpired(page string) bool {
	return strings.Contains(page, `name="authenticity_token"`) &&
		strings.Contains(page, `action="/session"`)
}

// get performs a GET through the session, reporting response headers to the
// budget
func (h *Harvester) get(ctx context.Context, pageURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", 0, &errs.Error{Type: errs.ErrorTypeUnknown, Message: err.Error()}
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	start := time.Now()
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", 0, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("session request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if h.budget != nil {
		h.budget.Report(resp.Header)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: err.Error(),
		}
	}

	h.logger.DebugWithFields("session page fetched", map[string]interface{}{
		"url":      pageURL,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	return string(raw), resp.StatusCode, nil
}
