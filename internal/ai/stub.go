package ai

import (
	"context"
	"fmt"
)

// StubProvider echoes the latest user message back, tagged with the model
// name. The real model call is a deployment concern outside this service.
type StubProvider struct {
	Model string
}

func NewStubProvider(model string) *StubProvider {
	return &StubProvider{Model: model}
}

func (p *StubProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	_ = ctx
	last := "Hello!"
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	return fmt.Sprintf("(Stubbed %s) You said: %s", p.Model, last), nil
}
