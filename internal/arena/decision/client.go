package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/platform/timeouts"
)

// Client calls an OpenAI-compatible chat completions endpoint and parses
// the model's JSON answer into a policy decision.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a producer client. model defaults to gpt-4o-mini.
func NewClient(baseURL, apiKey, model string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("decision base url is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		httpClient: &http.Client{Timeout: timeouts.Decision},
	}, nil
}

const systemPrompt = `You revise the bidding policy of one autonomous agent in a ` +
	`competitive job auction. Reply with a single JSON object: ` +
	`{"policy":{"aggressiveness":0..1,"min_margin":"decimal","max_bid_ratio":0..1,` +
	`"risk_tolerance":0..1,"preferred_types":[...]},"rationale":"...",` +
	`"investor_update":"..."}. No prose outside the JSON.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
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
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type decisionPayload struct {
	Policy         domain.PolicyContent `json:"policy"`
	Rationale      string               `json:"rationale"`
	InvestorUpdate string               `json:"investor_update"`
}

// costPerThousandTokens approximates the producer bill recorded on each
// policy version. Exact provider pricing is out of scope; the number only
// needs to be stable and monotone in usage.
var costPerThousandTokens = decimal.NewFromFloat(0.002)

// Decide sends the context payload and parses the structured reply.
func (c *Client) Decide(ctx context.Context, payload Context) (Decision, error) {
	user, err := json.Marshal(payload)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal decision context: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(user)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("call decision producer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Decision{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("decision producer returned status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Decision{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return Decision{}, fmt.Errorf("decision producer returned no choices")
	}

	decoded, err := parseDecisionContent(chat.Choices[0].Message.Content)
	if err != nil {
		return Decision{}, err
	}

	tokens := chat.Usage.PromptTokens + chat.Usage.CompletionTokens
	decoded.Cost = costPerThousandTokens.
		Mul(decimal.NewFromInt(tokens)).
		Div(decimal.NewFromInt(1000)).
		Round(domain.MoneyScale)
	return decoded, nil
}

// parseDecisionContent tolerates models that wrap the JSON answer in a
// markdown code fence.
func parseDecisionContent(content string) (Decision, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Decision{}, fmt.Errorf("parse decision content: %w", err)
	}
	if payload.Policy.SchemaVersion == 0 {
		payload.Policy.SchemaVersion = domain.PolicySchemaVersion
	}
	return Decision{
		Policy:         payload.Policy,
		Rationale:      payload.Rationale,
		InvestorUpdate: payload.InvestorUpdate,
	}, nil
}
