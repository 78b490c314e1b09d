// Package ai implements filter.Reasoner on top of an OpenAI compatible
// chat completions API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"signal-engine/internal/filter"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

const systemPrompt = `You are a crypto trading expert. Review the signal and the market context and decide BUY, SELL or IGNORE.
Reply with JSON only: {"decision":"BUY/SELL/IGNORE","confidence":0-100,"reasoning":"..."}`

// Client talks to a chat completions endpoint.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.client = h }
}

// New creates a client authenticating with apiKey.
func New(apiKey string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger.Named("ai"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Decide implements filter.Reasoner.
func (c *Client) Decide(ctx context.Context, in filter.AIContext) (filter.Decision, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(in)},
		},
		MaxTokens:   500,
		Temperature: 0.3,
	})
	if err != nil {
		return filter.Decision{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return filter.Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return filter.Decision{}, fmt.Errorf("%w: %w", filter.ErrDecisionTimeout, err)
		}
		return filter.Decision{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return filter.Decision{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return filter.Decision{}, fmt.Errorf("ai api error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return filter.Decision{}, fmt.Errorf("decode ai response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return filter.Decision{}, errors.New("no choices in ai response")
	}

	d := ParseDecision(cr.Choices[0].Message.Content)
	c.log.Info("ai decision",
		zap.String("symbol", in.Signal.Symbol),
		zap.String("decision", d.Decision),
		zap.Float64("confidence", d.Confidence))
	return d, nil
}

// BuildPrompt renders the user message for in.
func BuildPrompt(in filter.AIContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signal: %s %s at %g on %s (%s)\n",
		in.Signal.Action, in.Signal.Symbol, in.Signal.Price, in.Signal.Timeframe, in.Signal.Timestamp)
	fmt.Fprintf(&b, "Market: %s (BTC %s, ETH %s)\n",
		in.GlobalMarket.MarketTrend, in.GlobalMarket.BTCTrend, in.GlobalMarket.ETHTrend)
	if ema, ok := in.Technical[filter.CheckEMA]; ok {
		fmt.Fprintf(&b, "EMA200: %.4f (price %.4f, %s)\n", ema.Value, ema.CurrentPrice, ema.Trend)
	}
	if adx, ok := in.Technical[filter.CheckADX]; ok {
		fmt.Fprintf(&b, "ADX14: %.2f\n", adx.Value)
	}
	if rv, ok := in.Technical[filter.CheckRVOL]; ok {
		fmt.Fprintf(&b, "Relative volume: %.2f\n", rv.Value)
	}
	if bb, ok := in.Technical[filter.CheckBBWidth]; ok {
		fmt.Fprintf(&b, "Bollinger width: %.4f\n", bb.Value)
	}
	b.WriteString("Should this signal be taken? Answer BUY, SELL or IGNORE in the JSON format.")
	return b.String()
}

// ParseDecision reads a JSON verdict out of content. When content holds no
// usable JSON it falls back to keyword matching.
func ParseDecision(content string) filter.Decision {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		var d filter.Decision
		if err := json.Unmarshal([]byte(content[start:end+1]), &d); err == nil {
			d.Decision = strings.ToUpper(strings.TrimSpace(d.Decision))
			switch d.Decision {
			case filter.DecisionBuy, filter.DecisionSell, filter.DecisionIgnore:
				return d
			}
		}
	}

	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "buy"):
		return filter.Decision{Decision: filter.DecisionBuy, Confidence: 70, Reasoning: content}
	case strings.Contains(lower, "sell"):
		return filter.Decision{Decision: filter.DecisionSell, Confidence: 70, Reasoning: content}
	default:
		return filter.Decision{Decision: filter.DecisionIgnore, Confidence: 50, Reasoning: content}
	}
}
