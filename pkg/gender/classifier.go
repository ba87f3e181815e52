package gender

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sponsorscope/pkg/config"
	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/retry"
)

// Classification labels. Every classification resolves to exactly one of
// these; anything else collapses to Unknown.
const (
	Male    = "Male"
	Female  = "Female"
	Other   = "Other"
	Unknown = "Unknown"
)

// validLabels is the closed label set
var validLabels = map[string]bool{
	Male:    true,
	Female:  true,
	Other:   true,
	Unknown: true,
}

// Cache persists classifications by input signature so identical inputs
// always resolve to the same label without a second inference call.
// *store.Store satisfies this.
type Cache interface {
	GetCachedGender(signature string) (string, bool, error)
	PutCachedGender(signature, label string) error
}

// Input is the profile evidence a classification is based on
type Input struct {
	Login    string
	Name     string
	Pronouns string
	Bio      string
}

// Classifier infers a gender label from profile evidence. Declared pronouns
// are authoritative and short-circuit inference; everything else goes through
// the language-model endpoint behind the cache.
type Classifier struct {
	cfg        *config.ClassifierConfig
	httpClient *http.Client
	cache      Cache
	logger     logger.Logger
}

// NewClassifier creates a classifier backed by the given cache
func NewClassifier(cfg *config.ClassifierConfig, cache Cache, log logger.Logger) *Classifier {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Classifier{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		cache:  cache,
		logger: log,
	}
}

// Classify resolves an input to a label. Inference failures degrade to
// Unknown rather than propagating; only cache I/O can return an error.
func (c *Classifier) Classify(ctx context.Context, in Input) (string, error) {
	// Declared pronouns win outright.
	if label, ok := PronounLabel(in.Pronouns); ok {
		return label, nil
	}

	if strings.TrimSpace(in.Name) == "" && strings.TrimSpace(in.Bio) == "" {
		return Unknown, nil
	}

	sig := Signature(in)

	if label, ok, err := c.cache.GetCachedGender(sig); err != nil {
		return Unknown, err
	} else if ok {
		return label, nil
	}

	label := c.infer(ctx, in)

	if err := c.cache.PutCachedGender(sig, label); err != nil {
		return label, err
	}
	return label, nil
}

// PronounLabel maps declared pronouns to a label. The second return reports
// whether the pronouns resolved.
func PronounLabel(pronouns string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(pronouns))
	switch {
	case p == "":
		return "", false
	case strings.Contains(p, "he/him"):
		return Male, true
	case strings.Contains(p, "she/her"):
		return Female, true
	case strings.Contains(p, "they/them"):
		return Other, true
	default:
		// Declared but unmapped pronoun sets (neopronouns, mixed sets)
		// still signal a non-binary declaration.
		return Other, true
	}
}

// Signature derives the cache key from normalized inputs. Login is excluded:
// two accounts with identical evidence classify identically.
func Signature(in Input) string {
	normalized := strings.ToLower(strings.TrimSpace(in.Name)) + "|" +
		strings.ToLower(strings.TrimSpace(in.Pronouns)) + "|" +
		strings.ToLower(strings.TrimSpace(in.Bio))

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// chat completion wire types
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type labelPayload struct {
	Gender string `json:"gender"`
}

const systemPrompt = `You classify the likely gender of a software developer from their public profile. Respond with JSON: {"gender": "Male"|"Female"|"Other"|"Unknown"}. Answer Unknown unless the evidence is clear.`

// infer calls the language-model endpoint. Any failure after retries, and
// any out-of-set answer, resolves to Unknown.
func (c *Classifier) infer(ctx context.Context, in Input) string {
	cfg := &retry.Config{
		MaxAttempts: c.cfg.MaxRetries,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	}

	label, err := retry.DoWithResult(func() (string, error) {
		return c.callEndpoint(ctx, in)
	}, cfg)
	if err != nil {
		c.logger.WarnWithFields("classification failed, defaulting to Unknown", map[string]interface{}{
			"login": in.Login,
			"error": err.Error(),
		})
		return Unknown
	}

	if !validLabels[label] {
		c.logger.WarnWithFields("classifier returned out-of-set label", map[string]interface{}{
			"login": in.Login,
			"label": label,
		})
		return Unknown
	}

	return label
}

// callEndpoint performs one chat completion round trip
func (c *Classifier) callEndpoint(ctx context.Context, in Input) (string, error) {
	userPrompt := fmt.Sprintf("name: %q\nbio: %q", in.Name, in.Bio)

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: &chatFormat{Type: "json_object"},
	})
	if err != nil {
		return "", &errs.Error{Type: errs.ErrorTypeClassification, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &errs.Error{Type: errs.ErrorTypeClassification, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("classifier request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errType := errs.ErrorTypeClassification
		if errs.IsRetryableStatusCode(resp.StatusCode) {
			errType = errs.ErrorTypeServerError
		}
		return "", &errs.Error{
			Type:    errType,
			Message: fmt.Sprintf("classifier returned status %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &errs.Error{Type: errs.ErrorTypeNetwork, Message: err.Error()}
	}

	var completion chatResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return "", &errs.Error{Type: errs.ErrorTypeParsing, Message: err.Error()}
	}
	if len(completion.Choices) == 0 {
		return "", &errs.Error{Type: errs.ErrorTypeClassification, Message: "empty completion"}
	}

	var payload labelPayload
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &payload); err != nil {
		return "", &errs.Error{Type: errs.ErrorTypeParsing, Message: "completion content is not a label object"}
	}

	return payload.Gender, nil
}
