package llm

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/genai"

	"vizguard/internal/logging"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
	Temperature       float32
}

// GeminiClient implements Generator over the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	gen     *genai.GenerateContentConfig
}

// NewGeminiClient creates a client. The returned Generator includes the
// configured client-side rate limit.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.WithHint(errors.New("Gemini API key is required"),
			"set GEMINI_API_KEY or llm.api_key in the config file")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GenAI client")
	}

	c := &GeminiClient{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		gen:     &genai.GenerateContentConfig{Temperature: genai.Ptr(cfg.Temperature)},
	}
	return NewLimited(c, cfg.RequestsPerMinute), nil
}

// Generate sends one prompt and returns the response text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.gen)
	if err != nil {
		me := AsModelError(err)
		logging.Get(logging.CategoryAPI).Warn("%s generate failed after %v (%s): %v", c.model, time.Since(start), me.Kind, err)
		return "", me
	}

	text := resp.Text()
	if text == "" {
		return "", &ModelError{Kind: KindTransportFailure, Err: errors.New("empty response")}
	}
	logging.APIDebug("%s returned %d bytes in %v", c.model, len(text), time.Since(start))
	return text, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }
