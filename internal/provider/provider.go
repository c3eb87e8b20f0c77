// Package provider is the boundary to the external language model.
package provider

import "context"

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
}

type Answer struct {
	Content string
	Model   string
}

// Provider produces one completion per call. Implementations must honor ctx.
type Provider interface {
	Complete(ctx context.Context, req Request) (Answer, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, req Request) (Answer, error)

func (f Func) Complete(ctx context.Context, req Request) (Answer, error) { return f(ctx, req) }
