package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/gangworks/strawboss/internal/driver"
)

// APIConfig configures an APIDispatcher.
type APIConfig struct {
	// Model is the Claude model to use.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name.
	AWSProfile string
	// MaxTokens bounds each response; defaults to 8192.
	MaxTokens int64
}

// APIDispatcher executes tasks through the Anthropic Messages API.
// It has no tool access: the model reasons over the prompt and
// answers with a report, which suits planning-heavy agents that
// describe work rather than perform it directly.
type APIDispatcher struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

var _ driver.Dispatcher = (*APIDispatcher)(nil)

// NewAPIDispatcher creates a dispatcher backed by the direct API or
// AWS Bedrock, mirroring the credentials the environment provides.
func NewAPIDispatcher(cfg APIConfig) (*APIDispatcher, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &APIDispatcher{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Dispatch makes one Messages call and folds the text blocks into a
// result.
func (d *APIDispatcher) Dispatch(ctx context.Context, req driver.DispatchRequest) (*driver.DispatchResult, error) {
	resp, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: apiSystemPrompt(req.AgentName)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += variant.Text
		}
	}

	result := &driver.DispatchResult{Success: true, Output: text}
	if rep, ok := parseReport(text); ok {
		if rep.Summary != "" {
			result.Output = rep.Summary
		}
		result.FilesModified = rep.FilesModified
	}
	return result, nil
}

// apiSystemPrompt frames the model as one named agent on the work gang.
func apiSystemPrompt(agentName string) string {
	return fmt.Sprintf(`You are %s, an engineering agent working one task from a shared plan. Do the work described in the task, then end your reply with a single JSON object on its own line: {"summary": "<one sentence>", "files_modified": ["<path>", ...]}.`, agentName)
}

// bedrockModel converts standard Anthropic model names to Bedrock
// cross-region inference profile format.
func bedrockModel(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514: "us.anthropic.claude-sonnet-4-20250514-v1:0",
		"claude-sonnet-4-5-20250929":          "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"claude-haiku-4-5-20251001":           "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805: "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022: "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if translated, ok := bedrockModels[model]; ok {
		return anthropic.Model(translated)
	}
	return model
}
