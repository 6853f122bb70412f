package memory

import (
	"context"
	"fmt"
	"strings"

	registrygenerate "github.com/threadmem/memcore/internal/registry/generate"
	"github.com/threadmem/memcore/internal/registry/store"
)

const summarySystemPrompt = "You summarize agent conversations. Produce a concise summary " +
	"of the following thread, preserving decisions, open questions and any " +
	"facts the agent will need later. Respond with the summary only."

// summaryTemperature keeps summaries stable across regenerations.
const summaryTemperature = 0.1

// GenerateThreadSummary builds a role-prefixed transcript of the thread,
// asks the configured generator for a summary and persists it on the thread.
func (p *Provider) GenerateThreadSummary(ctx context.Context, threadID string) (string, error) {
	if p.generator == nil {
		return "", &store.ValidationError{Field: "generator", Message: "no generator configured"}
	}
	thread, err := p.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	if thread == nil {
		return "", &store.NotFoundError{Resource: "thread", ID: threadID}
	}
	msgs, err := p.LoadMessages(ctx, threadID, 0)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", &store.ValidationError{Field: "threadId", Message: "thread has no messages to summarize"}
	}

	var transcript strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	summary, err := p.generator.Generate(ctx, summarySystemPrompt, transcript.String(),
		registrygenerate.Options{Temperature: summaryTemperature})
	if err != nil {
		return "", p.wrapErr(err)
	}
	summary = strings.TrimSpace(summary)

	if _, err = p.UpdateThread(ctx, threadID, store.ThreadUpdate{Summary: &summary}); err != nil {
		return "", err
	}
	return summary, nil
}
