// Package drafting provides a pluggable interface for generative drafting
// providers. Drafts are advisory: callers validate and merge them, never
// trust them as-is.
package drafting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcliao/clinical-summary/internal/model"
)

// Request is the input of one drafting call.
type Request struct {
	PatientID  string
	Transcript model.Transcript
	// Context is the rendered history window, possibly empty.
	Context string
}

// Draft holds drafted values per field, already split into items.
type Draft struct {
	Fields map[model.Field][]string
	Raw    string
}

// Drafter produces a draft summary for an encounter.
type Drafter interface {
	Draft(ctx context.Context, req Request) (*Draft, error)
	Name() string
}

// ParseDraft reads a label-format text block into a Draft.
func ParseDraft(text string) *Draft {
	d := &Draft{Fields: make(map[model.Field][]string), Raw: text}
	for f, v := range model.ParseFields(text) {
		if items := model.SplitItems(v); len(items) > 0 {
			d.Fields[f] = items
		}
	}
	return d
}

// --- Nop Provider ---

// Nop is the disabled drafter. It returns an empty draft immediately.
type Nop struct{}

func (Nop) Draft(ctx context.Context, req Request) (*Draft, error) {
	return &Draft{Fields: map[model.Field][]string{}}, ctx.Err()
}

func (Nop) Name() string { return "none" }

// --- Prompt ---

const systemPrompt = `## Context
You are an assistant summarising the transcript of a medical appointment.

## Input
You will receive the patient's prior records, if any, followed by the full transcript.

## Output
Output rules (strict):

Produce one contiguous text block, no JSON, no Markdown.

Use exactly the field labels below, each followed by a colon and a single space.

If a field is absent, leave the value empty (e.g. Plan_Assistive: on its own line).

Keep lists as - item bullet lines.

Field order (write them exactly):
%s
Process hints:
- Extract only information stated in this transcript.
- Preserve critical numbers (doses, range of motion, timelines).
- Use standard medical terminology and ICD-10 codes only when explicit.
- Do not fabricate data.`

// Prompt returns the system and user messages for a request.
func Prompt(req Request) (system, user string) {
	var labels strings.Builder
	for _, f := range model.Fields {
		labels.WriteString(string(f))
		labels.WriteString(":\n")
	}
	system = fmt.Sprintf(systemPrompt, labels.String())

	var b strings.Builder
	if strings.TrimSpace(req.Context) != "" {
		b.WriteString(req.Context)
		b.WriteString("\n")
	}
	b.WriteString("=== TRANSCRIPT ===\n")
	for _, t := range req.Transcript {
		role := "Doctor"
		if t.Speaker == model.SpeakerPatient {
			role = "Patient"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Utterance)
	}
	return system, b.String()
}

// --- OpenAI-compatible Provider ---

// ChatDrafter uses any OpenAI-compatible chat completions API.
type ChatDrafter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewChatDrafter creates a drafter using an OpenAI-compatible API.
// limiter may be nil for no rate limiting.
func NewChatDrafter(baseURL, apiKey, model string, limiter *rate.Limiter) *ChatDrafter {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ChatDrafter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
		limiter: limiter,
	}
}

func (d *ChatDrafter) Name() string { return "openai" }

func (d *ChatDrafter) Draft(ctx context.Context, req Request) (*Draft, error) {
	system, user := Prompt(req)
	body, _ := json.Marshal(chatRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   1024,
		Temperature: 0.2,
	})

	var result chatResponse
	if err := postJSON(ctx, d.client, d.limiter, d.baseURL+"/chat/completions", d.apiKey, body, &result); err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}
	return ParseDraft(result.Choices[0].Message.Content), nil
}

// --- Ollama Provider ---

// OllamaDrafter uses a local Ollama instance's chat API.
type OllamaDrafter struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
}

// NewOllamaDrafter creates a drafter using Ollama's chat API.
func NewOllamaDrafter(baseURL, model string, limiter *rate.Limiter) *OllamaDrafter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaDrafter{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
		limiter: limiter,
	}
}

func (d *OllamaDrafter) Name() string { return "ollama" }

func (d *OllamaDrafter) Draft(ctx context.Context, req Request) (*Draft, error) {
	system, user := Prompt(req)
	r := ollamaRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	r.Options.Temperature = 0.2
	body, _ := json.Marshal(r)

	var result ollamaResponse
	if err := postJSON(ctx, d.client, d.limiter, d.baseURL+"/api/chat", "", body, &result); err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	return ParseDraft(result.Message.Content), nil
}

func postJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, url, apiKey string, body []byte, out any) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Factory ---

// Config selects and configures a drafting provider.
type Config struct {
	Provider      string        `koanf:"provider"` // "openai" | "ollama" | "none"
	BaseURL       string        `koanf:"base_url"`
	Model         string        `koanf:"model"`
	APIKey        string        `koanf:"api_key"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"` // 0 disables limiting
	Burst         int           `koanf:"burst"`
}

// DefaultConfig returns drafting disabled with a 30s deadline.
func DefaultConfig() Config {
	return Config{
		Provider:      "none",
		Timeout:       30 * time.Second,
		RatePerSecond: 1,
		Burst:         1,
	}
}

// Validate checks config for errors.
func (c Config) Validate() error {
	switch c.Provider {
	case "", "none", "openai", "ollama":
	default:
		return fmt.Errorf("unknown drafting provider %q", c.Provider)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("drafting timeout must be >= 0")
	}
	if c.RatePerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("drafting rate limits must be >= 0")
	}
	return nil
}

// NewFromConfig creates a drafter. An empty or "none" provider yields Nop.
func NewFromConfig(cfg Config) (Drafter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	switch cfg.Provider {
	case "openai":
		return NewChatDrafter(cfg.BaseURL, cfg.APIKey, cfg.Model, limiter), nil
	case "ollama":
		return NewOllamaDrafter(cfg.BaseURL, cfg.Model, limiter), nil
	default:
		return Nop{}, nil
	}
}
