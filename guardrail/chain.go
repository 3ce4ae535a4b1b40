package guardrail

import (
	"context"
)

// Chain is an ordered list of guardrails. A guardrail implementing both
// PreInvoke and PostInvoke participates in both phases.
//
// The first rejection short-circuits the remaining guardrails of the phase.
// Errors other than *Rejection are returned unchanged and fail the node.
//
// A Chain is immutable after construction and safe for concurrent use.
type Chain struct {
	pre  []PreInvoke
	post []PostInvoke
}

// NewChain builds a chain from guardrails in evaluation order.
func NewChain(guards ...Guardrail) *Chain {
	c := &Chain{}

	for _, g := range guards {
		if p, ok := g.(PreInvoke); ok {
			c.pre = append(c.pre, p)
		}

		if p, ok := g.(PostInvoke); ok {
			c.post = append(c.post, p)
		}
	}

	return c
}

// Append returns a new chain with guards added after the existing ones.
func (c *Chain) Append(guards ...Guardrail) *Chain {
	n := NewChain(guards...)
	if c == nil {
		return n
	}

	return &Chain{
		pre:  append(append([]PreInvoke{}, c.pre...), n.pre...),
		post: append(append([]PostInvoke{}, c.post...), n.post...),
	}
}

// Len returns the number of pre and post checks.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.pre) + len(c.post)
}

// Before runs the pre-invocation checks. A nil chain always proceeds.
func (c *Chain) Before(ctx context.Context, inv Invocation) error {
	if c == nil {
		return nil
	}

	for _, g := range c.pre {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := g.BeforeInvoke(ctx, inv); err != nil {
			return named(g, err)
		}
	}

	return nil
}

// After runs the post-invocation checks, threading rewritten outputs through
// the chain. A nil chain returns out unchanged.
func (c *Chain) After(ctx context.Context, inv Invocation, out Output) (Output, error) {
	if c == nil {
		return out, nil
	}

	for _, g := range c.post {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		next, err := g.AfterInvoke(ctx, inv, out)
		if err != nil {
			return out, named(g, err)
		}

		out = next
	}

	return out, nil
}

// named fills in the guardrail name of anonymous rejections.
func named(g Guardrail, err error) error {
	if r, ok := AsRejection(err); ok && r.Guardrail == "" {
		c := *r
		c.Guardrail = g.Name()
		return &c
	}
	return err
}
