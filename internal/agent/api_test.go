package agent

import (
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewAPIDispatcher_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAPIDispatcher(APIConfig{}); err == nil {
		t.Error("expected an error when no API key is available")
	}
}

func TestNewAPIDispatcher_Defaults(t *testing.T) {
	d, err := NewAPIDispatcher(APIConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewAPIDispatcher: %v", err)
	}
	if d.maxTokens != 8192 {
		t.Errorf("maxTokens = %d, want default 8192", d.maxTokens)
	}
	if d.model == "" {
		t.Error("model not defaulted")
	}
}

func TestBedrockModelTranslation(t *testing.T) {
	got := bedrockModel(anthropic.ModelClaudeSonnet4_20250514)
	if got != anthropic.Model("us.anthropic.claude-sonnet-4-20250514-v1:0") {
		t.Errorf("bedrockModel = %q", got)
	}

	custom := anthropic.Model("us.anthropic.already-translated-v1:0")
	if got := bedrockModel(custom); got != custom {
		t.Errorf("unknown models should pass through, got %q", got)
	}
}

func TestAPISystemPrompt(t *testing.T) {
	prompt := apiSystemPrompt("reviewer")
	if !strings.Contains(prompt, "reviewer") {
		t.Error("system prompt missing the agent name")
	}
	if !strings.Contains(prompt, "files_modified") {
		t.Error("system prompt missing the report contract")
	}
}
