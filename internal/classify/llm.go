package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// LLMConfig selects an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	TopK    int
	// Labels restricts the answer to known profiles; empty allows any label.
	Labels []Profile
}

// LLM asks a chat model to label a series from its summary statistics.
type LLM struct {
	client *openai.Client
	model  string
	topK   int
	labels []Profile
}

var _ Classifier = (*LLM)(nil)

func NewLLM(cfg LLMConfig) *LLM {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &LLM{
		client: openai.NewClientWithConfig(config),
		model:  model,
		topK:   topK,
		labels: cfg.Labels,
	}
}

type llmAnswer struct {
	Candidates []Candidate `json:"candidates"`
}

func (c *LLM) Classify(ctx context.Context, values []float64) ([]Candidate, error) {
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: c.prompt(values)},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm classify: no response choices")
	}
	return c.parse(resp.Choices[0].Message.Content)
}

const systemPrompt = `You label industrial time series from building automation servers.
Answer with a JSON object {"candidates":[{"fragment":string,"confidence":number,"unit":string,"series":string}]}
ordered by confidence (percent, 0-100), best first.`

func (c *LLM) prompt(values []float64) string {
	st := Describe(values)
	var b strings.Builder
	fmt.Fprintf(&b, "Series of %d samples: min=%.4g max=%.4g mean=%.4g stddev=%.4g max_step=%.4g\n",
		st.N, st.Min, st.Max, st.Mean, st.StdDev, st.MaxStep)
	b.WriteString("Samples:")
	for i, v := range values {
		if i == 60 {
			b.WriteString(" ...")
			break
		}
		fmt.Fprintf(&b, " %.4g", v)
	}
	b.WriteString("\n")
	if len(c.labels) > 0 {
		b.WriteString("Choose only from these labels (fragment / unit / series):\n")
		for _, p := range c.labels {
			fmt.Fprintf(&b, "- %s / %s / %s\n", p.Fragment, p.Unit, p.Series)
		}
	}
	fmt.Fprintf(&b, "Return at most %d candidates.", c.topK)
	return b.String()
}

func (c *LLM) parse(content string) ([]Candidate, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var ans llmAnswer
	if err := json.Unmarshal([]byte(content), &ans); err != nil {
		return nil, fmt.Errorf("llm classify: decode answer: %w", err)
	}
	var out []Candidate
	for _, cand := range ans.Candidates {
		if strings.TrimSpace(cand.Fragment) == "" {
			continue
		}
		if len(c.labels) > 0 && !c.known(cand.Fragment) {
			continue
		}
		cand.Confidence = clamp(cand.Confidence, 0, 100)
		out = append(out, cand)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("llm classify: %w", ErrNoCandidates)
	}
	return Rank(out, c.topK), nil
}

func (c *LLM) known(fragment string) bool {
	for _, p := range c.labels {
		if strings.EqualFold(p.Fragment, fragment) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
