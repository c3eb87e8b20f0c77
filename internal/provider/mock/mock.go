package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/answercache/internal/provider"
)

// Provider echoes the last user message. Useful for local runs without a model.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Complete(ctx context.Context, req provider.Request) (provider.Answer, error) {
	if err := ctx.Err(); err != nil {
		return provider.Answer{}, err
	}
	var user string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			user = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(user) == "" {
		return provider.Answer{Content: "mock: ok", Model: req.Model}, nil
	}
	return provider.Answer{Content: fmt.Sprintf("mock: %s", user), Model: req.Model}, nil
}
