package pipeline

import (
	"fmt"
	"strings"

	"github.com/hupe1980/meshflow/agent"
	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/model"
)

// Build turns spec into an agent tree. Pipeline level guardrails wrap the
// root node.
func Build(spec *Spec, reg *Registry) (core.Agent, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	b := &builder{reg: reg}

	root, err := b.node(&spec.Root)
	if err != nil {
		return nil, err
	}

	if len(spec.Guardrails) > 0 {
		chain, err := BuildGuardrails(spec.Guardrails)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", spec.Name, err)
		}
		root = agent.Guard(root, chain)
	}

	return root, nil
}

type builder struct {
	reg *Registry
}

func (b *builder) node(n *Node) (core.Agent, error) {
	opts, err := b.options(n)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Name, err)
	}

	a, err := b.build(n, opts)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Name, err)
	}

	return a, nil
}

func (b *builder) build(n *Node, opts []agent.Option) (core.Agent, error) {
	switch n.Type {
	case TypeGenerator:
		m, err := b.reg.Model(n.Model)
		if err != nil {
			return nil, err
		}
		return agent.NewGeneratorAgent(n.Name, m, opts...), nil

	case TypeTool:
		t, err := b.reg.Tool(n.Tool)
		if err != nil {
			return nil, err
		}
		return agent.NewToolAgent(n.Name, t, opts...), nil

	case TypeFallback:
		primary, err := b.reg.Tool(n.Tool)
		if err != nil {
			return nil, err
		}
		fallback, err := b.reg.Tool(n.FallbackTool)
		if err != nil {
			return nil, err
		}
		return agent.NewFallbackAgent(n.Name, primary, fallback, opts...), nil

	case TypeRouter:
		return b.router(n, opts)

	case TypeConditional:
		router, err := b.router(n.Router, nil)
		if err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}

		branches := make(map[string]core.Agent, len(n.Branches))
		for _, label := range sortedKeys(n.Branches) {
			child := n.Branches[label]
			if branches[label], err = b.node(&child); err != nil {
				return nil, err
			}
		}

		if n.Default != nil {
			def, err := b.node(n.Default)
			if err != nil {
				return nil, err
			}
			opts = append(opts, agent.WithDefault(def))
		}

		return b.guard(agent.NewConditionalAgent(n.Name, router, branches, opts...), n)

	case TypeCondition:
		var checker agent.ConditionChecker
		if n.Condition.Checker != "" {
			c, err := b.reg.Condition(n.Condition.Checker)
			if err != nil {
				return nil, err
			}
			checker = c
		} else {
			key, err := core.ParseStateKey(n.Condition.Key)
			if err != nil {
				return nil, err
			}
			checker = agent.StateEquals(key, n.Condition.Equals)
		}
		return b.guard(agent.NewConditionAgent(n.Name, checker, opts...), n)

	case TypeSequential:
		children, err := b.children(n.Children)
		if err != nil {
			return nil, err
		}
		seq := agent.NewSequentialAgent(n.Name, children...)
		seq.SetDescription(n.Description)
		return b.guard(seq, n)

	case TypeParallel:
		children, err := b.children(n.Children)
		if err != nil {
			return nil, err
		}
		return b.guard(agent.NewParallelAgent(n.Name, children, opts...), n)

	case TypeLoop:
		body, err := b.node(n.Body)
		if err != nil {
			return nil, err
		}
		return b.guard(agent.NewLoopAgent(n.Name, body, opts...), n)

	case TypeReflection:
		gen, err := b.reg.Model(n.Model)
		if err != nil {
			return nil, err
		}
		critic := gen
		if n.Critic != "" {
			if critic, err = b.reg.Model(n.Critic); err != nil {
				return nil, err
			}
		}
		return b.guard(agent.NewReflectionLoop(n.Name, gen, critic, opts...), n)
	}

	return nil, fmt.Errorf("unknown type %q", n.Type)
}

// guard wraps composites, which have no guardrail option of their own.
func (b *builder) guard(a core.Agent, n *Node) (core.Agent, error) {
	if len(n.Guardrails) == 0 {
		return a, nil
	}

	chain, err := BuildGuardrails(n.Guardrails)
	if err != nil {
		return nil, err
	}

	return agent.Guard(a, chain), nil
}

func (b *builder) children(nodes []Node) ([]core.Agent, error) {
	children := make([]core.Agent, 0, len(nodes))

	for i := range nodes {
		child, err := b.node(&nodes[i])
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return children, nil
}

func (b *builder) router(n *Node, opts []agent.Option) (*agent.RouterAgent, error) {
	if opts == nil {
		var err error
		if opts, err = b.options(n); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
	}

	var (
		classifier agent.Classifier
		routes     []string
	)

	switch {
	case n.Classifier != "":
		c, err := b.reg.Classifier(n.Classifier)
		if err != nil {
			return nil, err
		}
		classifier = c
		routes = sortedKeys(n.Routes)
	case len(n.Keywords) > 0:
		kc := agent.NewKeywordClassifier()
		for _, rule := range n.Keywords {
			kc.Add(rule.Label, rule.Keywords...)
			routes = append(routes, strings.ToLower(rule.Label))
		}
		classifier = kc
	default:
		m, err := b.reg.Model(n.Model)
		if err != nil {
			return nil, err
		}
		classifier = agent.NewModelClassifier(m, n.Routes)
		routes = sortedKeys(n.Routes)
	}

	return agent.NewRouterAgent(n.Name, classifier, routes, opts...), nil
}

func (b *builder) options(n *Node) ([]agent.Option, error) {
	var opts []agent.Option

	if n.Description != "" {
		opts = append(opts, agent.WithDescription(n.Description))
	}

	keys := []struct {
		raw string
		set func(core.StateKey) agent.Option
	}{
		{n.OutputKey, agent.WithOutputKey},
		{n.FailureKey, agent.WithFailureKey},
		{n.ArtifactKey, agent.WithArtifactKey},
		{n.CritiqueKey, agent.WithCritiqueKey},
	}

	for _, k := range keys {
		if k.raw == "" {
			continue
		}
		key, err := core.ParseStateKey(k.raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, k.set(key))
	}

	if n.Instruction != "" {
		opts = append(opts, agent.WithInstruction(n.Instruction))
	}

	if n.Prompt != "" {
		opts = append(opts, agent.WithPromptTemplate(n.Prompt))
	}

	if n.IncludeHistory {
		opts = append(opts, agent.WithIncludeHistory(true))
	}

	if n.Temperature != nil || n.MaxTokens > 0 {
		opts = append(opts, agent.WithModelConfig(model.GenerateConfig{Temperature: n.Temperature, MaxTokens: n.MaxTokens}))
	}

	if len(n.Args) > 0 {
		opts = append(opts, agent.WithArgs(n.Args))
	}

	if n.FailurePolicy != "" {
		p, err := agent.ParseFailurePolicy(n.FailurePolicy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithFailurePolicy(p))
	}

	if n.Timeout > 0 {
		opts = append(opts, agent.WithTimeout(n.Timeout))
	}

	if n.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(n.MaxIterations))
	}

	if n.Interval > 0 {
		opts = append(opts, agent.WithInterval(n.Interval))
	}

	if n.Task != "" {
		opts = append(opts, agent.WithTask(n.Task))
	}

	if n.Sentinel != "" {
		opts = append(opts, agent.WithSentinel(n.Sentinel))
	}

	if n.CriticInstruction != "" {
		opts = append(opts, agent.WithCriticInstruction(n.CriticInstruction))
	}

	switch n.Type {
	case TypeGenerator, TypeTool, TypeFallback, TypeRouter:
		if len(n.Guardrails) > 0 {
			chain, err := BuildGuardrails(n.Guardrails)
			if err != nil {
				return nil, err
			}
			opts = append(opts, agent.WithGuardrailChain(chain))
		}
	}

	return opts, nil
}

// BuildGuardrails constructs a chain from guardrail specs.
func BuildGuardrails(specs []GuardrailSpec) (*guardrail.Chain, error) {
	guards := make([]guardrail.Guardrail, 0, len(specs))

	for _, s := range specs {
		var g guardrail.Guardrail

		switch s.Type {
		case "max_length":
			g = guardrail.MaxLength(s.Max)
		case "blocked_keywords":
			g = guardrail.BlockedKeywords(s.Keywords...)
		case "require_args":
			g = guardrail.RequireArgs(s.Args...)
		case "arg_matches_state":
			key, err := core.ParseStateKey(s.Key)
			if err != nil {
				return nil, err
			}
			g = guardrail.ArgMatchesState(s.Arg, key)
		case "regexp":
			name := s.Name
			if name == "" {
				name = "regexp"
			}
			re, err := guardrail.Regexp(name, s.Pattern, s.Message)
			if err != nil {
				return nil, err
			}
			g = re
		case "json_object":
			g = guardrail.JSONObject(s.Fields...)
		default:
			return nil, fmt.Errorf("unknown guardrail type %q", s.Type)
		}

		guards = append(guards, g)
	}

	return guardrail.NewChain(guards...), nil
}
