package provider

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/pkg/types"
)

type stubProvider struct {
	id     string
	model  string
	models []Model
}

func (p *stubProvider) ID() string                            { return p.id }
func (p *stubProvider) Name() string                          { return p.id }
func (p *stubProvider) Models() []Model                       { return p.models }
func (p *stubProvider) DefaultModel() string                  { return p.model }
func (p *stubProvider) ChatModel() model.ToolCallingChatModel { return nil }

func newStubRegistry(defaultModel string) *Registry {
	r := NewRegistry(defaultModel)
	r.Register(&stubProvider{id: "openai", model: "gpt-4o", models: []Model{
		{ID: "gpt-4o", ProviderID: "openai"},
		{ID: "gpt-5", ProviderID: "openai"},
	}})
	r.Register(&stubProvider{id: "anthropic", model: "claude-sonnet-4-20250514", models: []Model{
		{ID: "claude-sonnet-4-20250514", ProviderID: "anthropic"},
	}})
	return r
}

func TestParseModelString(t *testing.T) {
	tests := []struct {
		input        string
		wantProvider string
		wantModel    string
	}{
		{"anthropic/claude-3-opus", "anthropic", "claude-3-opus"},
		{"openai/gpt-4o", "openai", "gpt-4o"},
		{"openrouter/meta/llama", "openrouter", "meta/llama"},
		{"claude-3-opus", "", "claude-3-opus"},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, m := ParseModelString(tt.input)
			assert.Equal(t, tt.wantProvider, p)
			assert.Equal(t, tt.wantModel, m)
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := newStubRegistry("")

	p, m, err := r.Resolve("openai/gpt-5")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.ID())
	assert.Equal(t, "gpt-5", m)

	p, m, err = r.Resolve("claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.ID())
	assert.Equal(t, "claude-sonnet-4-20250514", m)

	p, m, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.ID(), "anthropic is preferred when no default is configured")
	assert.Equal(t, "claude-sonnet-4-20250514", m)

	_, _, err = r.Resolve("missing/model")
	assert.Error(t, err)
	_, _, err = r.Resolve("unknown-model")
	assert.Error(t, err)
}

func TestRegistry_DefaultModel(t *testing.T) {
	assert.Equal(t, "openai/gpt-5", newStubRegistry("openai/gpt-5").DefaultModel())
	assert.Empty(t, NewRegistry("").DefaultModel())

	_, _, err := NewRegistry("").Resolve("")
	assert.Error(t, err)
}

func TestRegistry_AllModelsSorted(t *testing.T) {
	models := newStubRegistry("").AllModels()
	require.Len(t, models, 3)
	assert.Equal(t, "gpt-5", models[0].ID)
	assert.Equal(t, "claude-sonnet-4-20250514", models[1].ID)
	assert.Equal(t, "openai/gpt-4o", models[2].Ref())
}

func TestInitializeProviders_WithKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ARK_API_KEY", "")

	cfg := &types.Config{
		Model: "openai/gpt-4o-mini",
		Provider: map[string]types.ProviderConfig{
			"anthropic": {APIKey: "sk-ant-test"},
			"openai":    {APIKey: "sk-test", Model: "gpt-4o-mini"},
			"ark":       {APIKey: "ark-test", Disable: true},
		},
	}

	r, err := InitializeProviders(context.Background(), cfg)
	require.NoError(t, err)

	ids := []string{}
	for _, p := range r.List() {
		ids = append(ids, p.ID())
		assert.NotNil(t, p.ChatModel())
	}
	assert.Equal(t, []string{"anthropic", "openai"}, ids)
	assert.Equal(t, "openai/gpt-4o-mini", r.DefaultModel())
}

func TestNewArkProvider_RequiresModel(t *testing.T) {
	t.Setenv("ARK_MODEL_ID", "")
	_, err := NewArkProvider(context.Background(), &ArkConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIProvider(context.Background(), &OpenAIConfig{})
	assert.Error(t, err)
}
