// Package testutil provides scripted provider doubles and small helpers
// shared across package tests.
package testutil

import (
	"context"
	"iter"
	"sync"

	"github.com/quillhq/quill/internal/provider"
)

// Step is one scripted stream element: either a chunk or an error. A Gate,
// when set, blocks the stream before the step is yielded until the gate is
// released, letting tests hold a stream open at a precise point.
type Step struct {
	Chunk provider.Chunk
	Err   error
	Gate  chan struct{}
}

// TextStep is a convenience for a plain text delta.
func TextStep(delta string) Step {
	return Step{Chunk: provider.Chunk{TextDelta: delta}}
}

// ScriptedProvider plays back a fixed script of steps per stream. It records
// every request it receives and every conversation it opens.
type ScriptedProvider struct {
	ProviderName string
	Caps         provider.Capabilities

	// Script is played back by every Send. Replace between submissions to
	// vary behavior.
	Script []Step

	// OpenErr, when set, fails Open.
	OpenErr error
	// GenerateFn, when set, backs Generate.
	GenerateFn func(ctx context.Context, prompt string) (string, error)

	mu       sync.Mutex
	opens    int
	requests []provider.Request
}

var _ provider.Provider = (*ScriptedProvider)(nil)

func (p *ScriptedProvider) Name() string {
	if p.ProviderName == "" {
		return "scripted"
	}
	return p.ProviderName
}

func (p *ScriptedProvider) Capabilities() provider.Capabilities { return p.Caps }

func (p *ScriptedProvider) Open(ctx context.Context, opts provider.Options) (provider.Conversation, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	p.mu.Lock()
	p.opens++
	p.mu.Unlock()
	return &scriptedConversation{parent: p}, nil
}

func (p *ScriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.GenerateFn != nil {
		return p.GenerateFn(ctx, prompt)
	}
	return "", nil
}

// Opens reports how many conversations have been opened.
func (p *ScriptedProvider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Requests returns a copy of all requests seen across conversations.
func (p *ScriptedProvider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

type scriptedConversation struct {
	parent *ScriptedProvider
}

func (c *scriptedConversation) Send(ctx context.Context, req provider.Request) iter.Seq2[provider.Chunk, error] {
	c.parent.mu.Lock()
	c.parent.requests = append(c.parent.requests, req)
	script := make([]Step, len(c.parent.Script))
	copy(script, c.parent.Script)
	c.parent.mu.Unlock()

	return func(yield func(provider.Chunk, error) bool) {
		for _, step := range script {
			if step.Gate != nil {
				select {
				case <-step.Gate:
				case <-ctx.Done():
					yield(provider.Chunk{}, ctx.Err())
					return
				}
			}
			if ctx.Err() != nil {
				yield(provider.Chunk{}, ctx.Err())
				return
			}
			if step.Err != nil {
				yield(provider.Chunk{}, step.Err)
				return
			}
			if !yield(step.Chunk, nil) {
				return
			}
		}
	}
}
