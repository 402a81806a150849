package troubleshoot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/util"
)

// ErrNoMatch is returned by a classifier that has nothing to say about the events.
var ErrNoMatch = errors.New("no classification")

// Source names which classifier produced an analysis.
type Source string

const (
	SourceOffline Source = "offline"
	SourceLLM     Source = "llm"
)

// Analysis is a classifier's verdict on a set of events.
type Analysis struct {
	Source  Source `json:"source"`
	Keyword string `json:"keyword,omitempty"`
	Model   string `json:"model,omitempty"`
	Text    string `json:"text"`
}

// Classifier explains a set of events of one type.
type Classifier interface {
	Classify(ctx context.Context, eventType string, events []meraki.Event) (*Analysis, error)
}

// Offline classifies by knowledge base keyword.
type Offline struct {
	KB KnowledgeBase
}

func (o *Offline) Classify(_ context.Context, _ string, events []meraki.Event) (*Analysis, error) {
	keyword, entry, ok := o.KB.Match(events)
	if !ok {
		return nil, ErrNoMatch
	}
	return &Analysis{Source: SourceOffline, Keyword: keyword, Text: entry.Recommendation}, nil
}

// LLM defaults.
const (
	SystemPrompt       = "You are a network troubleshooting assistant."
	DefaultMaxTokens   = 800
	DefaultTemperature = 0.5
	promptSampleSize   = 10
)

// DefaultModels are tried in order until one answers.
var DefaultModels = []string{openai.GPT4, openai.GPT3Dot5Turbo}

// LLMConfig configures the language-model classifier.
type LLMConfig struct {
	APIKey      string
	BaseURL     string // empty for the public endpoint
	Models      []string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
}

// LLM classifies by asking a chat-completion model.
type LLM struct {
	client      *openai.Client
	models      []string
	maxTokens   int
	temperature float32
}

// NewLLM builds the classifier. An API key is required.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key: %w", util.ErrValidationFailed)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	l := &LLM{
		client:      openai.NewClientWithConfig(oc),
		models:      cfg.Models,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
	if len(l.models) == 0 {
		l.models = DefaultModels
	}
	if l.maxTokens <= 0 {
		l.maxTokens = DefaultMaxTokens
	}
	if l.temperature == 0 {
		l.temperature = DefaultTemperature
	}
	return l, nil
}

// Classify tries each model in turn; the last error is returned when none answers.
func (l *LLM) Classify(ctx context.Context, eventType string, events []meraki.Event) (*Analysis, error) {
	prompt, err := Prompt(eventType, events)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, model := range l.models {
		resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			util.WithField("model", model).Warnf("Chat completion failed: %v", err)
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("model %s returned no choices", model)
			continue
		}
		return &Analysis{Source: SourceLLM, Model: model, Text: resp.Choices[0].Message.Content}, nil
	}
	return nil, fmt.Errorf("llm analysis: %w", lastErr)
}

var tasks = map[string]string{
	"cf_block":       "Analyze why content filtering blocks occurred, check for false positives, and suggest whitelist or policy updates.",
	"dhcp_lease":     "Analyze DHCP lease logs for IP conflicts, exhaustion, or abnormal patterns.",
	"dhcp_problem":   "Troubleshoot the DHCP problems shown. Identify causes and provide steps to fix them.",
	"martian_vlan":   "Explain 'martian VLAN' logs and suggest what might be misconfigured (e.g., VLAN routing).",
	"non_meraki_vpn": "Review non-Meraki VPN events for connection issues or handshake failures.",
	"dhcp_release":   "Determine whether DHCP releases are normal or potentially problematic (e.g., flapping clients).",
}

const genericTask = "Please analyze and summarize any problems, patterns, or misconfigurations."

// Prompt renders the user message: up to ten events as indented JSON
// followed by a task tailored to the event type.
func Prompt(eventType string, events []meraki.Event) (string, error) {
	sample := events
	if len(sample) > promptSampleSize {
		sample = sample[:promptSampleSize]
	}
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", err
	}
	task, ok := tasks[eventType]
	if !ok {
		task = genericTask
	}
	return fmt.Sprintf("These are filtered Meraki MX event logs of type '%s':\n%s\n\n%s", eventType, data, task), nil
}

// Consent asks the operator whether to continue to the next classifier.
type Consent func(ctx context.Context) (bool, error)

// Assistant runs the offline classifier and, when it has no match and the
// operator agrees, the fallback.
type Assistant struct {
	Offline  Classifier
	Fallback Classifier
	Consent  Consent
}

// Analyze returns ErrNoMatch when neither classifier produced an analysis,
// including when the operator declines the fallback.
func (a *Assistant) Analyze(ctx context.Context, eventType string, events []meraki.Event) (*Analysis, error) {
	if len(events) == 0 {
		return nil, ErrNoMatch
	}
	if a.Offline != nil {
		res, err := a.Offline.Classify(ctx, eventType, events)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrNoMatch) {
			return nil, err
		}
	}
	if a.Fallback == nil {
		return nil, ErrNoMatch
	}
	if a.Consent != nil {
		ok, err := a.Consent(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoMatch
		}
	}
	return a.Fallback.Classify(ctx, eventType, events)
}
