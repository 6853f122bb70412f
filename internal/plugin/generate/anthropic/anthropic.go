package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/threadmem/memcore/internal/config"
	registrygenerate "github.com/threadmem/memcore/internal/registry/generate"
)

const defaultMaxTokens = 1024

func init() {
	registrygenerate.Register(registrygenerate.Plugin{
		Name:   "anthropic",
		Loader: load,
	})
}

func load(ctx context.Context) (registrygenerate.Generator, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("anthropic generator: MEMCORE_ANTHROPIC_API_KEY is required")
	}
	client := anthropic.NewClient(anthropicopt.WithAPIKey(cfg.AnthropicAPIKey))
	return &anthropicGenerator{client: &client, model: cfg.GenerateModel}, nil
}

type anthropicGenerator struct {
	client *anthropic.Client
	model  string
}

func (g *anthropicGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string, opts registrygenerate.Options) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(opts.Temperature)),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}

	rsp, err := g.client.Messages.New(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	result := b.String()
	if len(result) == 0 {
		return "", errors.New("no response from Anthropic")
	}
	return result, nil
}

var _ registrygenerate.Generator = (*anthropicGenerator)(nil)
