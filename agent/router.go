package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/model"
)

// DefaultRoute is returned for empty or unknown classifier labels.
const DefaultRoute = "default"

// ClassifyRequest is the input of a Classifier.
type ClassifyRequest struct {
	Input  string
	Labels []string
	State  core.StateReader
}

// Classifier maps an input to a route label.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, req ClassifyRequest) (string, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, req ClassifyRequest) (string, error) {
	return f(ctx, req)
}

type keywordRule struct {
	label   string
	pattern *regexp.Regexp
}

// KeywordClassifier picks the first label whose keywords occur in the input
// as whole words, ignoring case.
type KeywordClassifier struct {
	rules []keywordRule
}

// NewKeywordClassifier creates an empty keyword classifier.
func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

// Add registers keywords for label. Rules are evaluated in insertion order.
func (k *KeywordClassifier) Add(label string, keywords ...string) *KeywordClassifier {
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			quoted = append(quoted, regexp.QuoteMeta(kw))
		}
	}

	if len(quoted) > 0 {
		k.rules = append(k.rules, keywordRule{
			label:   label,
			pattern: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
		})
	}

	return k
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(_ context.Context, req ClassifyRequest) (string, error) {
	for _, r := range k.rules {
		if r.pattern.MatchString(req.Input) {
			return r.label, nil
		}
	}
	return DefaultRoute, nil
}

// ModelClassifier asks a model to answer with exactly one label.
type ModelClassifier struct {
	llm          model.Model
	descriptions map[string]string
	instruction  string
}

// NewModelClassifier creates a classifier backed by llm. descriptions maps
// labels to a short explanation included in the instruction; it may be nil.
func NewModelClassifier(llm model.Model, descriptions map[string]string) *ModelClassifier {
	return &ModelClassifier{
		llm:          llm,
		descriptions: descriptions,
		instruction: "You are the main coordinator. Your only task is to analyze the incoming user " +
			"request and decide which specialist handles it. Do not answer the request directly.",
	}
}

// Classify implements Classifier.
func (m *ModelClassifier) Classify(ctx context.Context, req ClassifyRequest) (string, error) {
	var b strings.Builder

	b.WriteString(m.instruction)
	b.WriteString("\nRespond with exactly one of the following labels and nothing else:\n")

	for _, l := range req.Labels {
		if d, ok := m.descriptions[l]; ok && d != "" {
			fmt.Fprintf(&b, "- %s: %s\n", l, d)
		} else {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	fmt.Fprintf(&b, "If none applies, respond with %q.", DefaultRoute)

	info := m.llm.Info()

	resp, err := m.llm.Generate(ctx, model.Request{
		Instructions: b.String(),
		Contents:     []core.Content{*core.NewTextContent("user", req.Input)},
	})
	if err != nil {
		return "", core.NewServiceError(info.Provider, info.Name, false, err)
	}

	return resp.Text(), nil
}

// RouterAgent classifies the input into one of a fixed set of labels. It
// emits a decision event (content and metadata "route" hold the label) but
// does not dispatch; ConditionalAgent pairs it with a branch table.
type RouterAgent struct {
	BaseAgent
	classifier Classifier
	routes     []string
	outputKey  core.StateKey
	guardrails *guardrail.Chain
}

// NewRouterAgent creates a router over the given labels.
func NewRouterAgent(name string, classifier Classifier, routes []string, optFns ...func(o *Options)) *RouterAgent {
	opts := applyOptions(optFns)

	r := &RouterAgent{
		BaseAgent:  NewBaseAgent(name),
		classifier: classifier,
		routes:     append([]string(nil), routes...),
		outputKey:  opts.OutputKey,
		guardrails: opts.Guardrails,
	}
	r.SetDescription(opts.Description)

	return r
}

// Routes returns the registered labels.
func (r *RouterAgent) Routes() []string { return append([]string(nil), r.routes...) }

// Route classifies the current input. The result is one of the registered
// labels or DefaultRoute; matching trims whitespace, surrounding quotes and
// trailing punctuation and ignores case.
func (r *RouterAgent) Route(rc *core.RunContext) (string, error) {
	label, err := r.classifier.Classify(rc.Context, ClassifyRequest{
		Input:  rc.Input(),
		Labels: r.Routes(),
		State:  rc.State(),
	})
	if err != nil {
		return "", err
	}

	return r.resolve(label), nil
}

func (r *RouterAgent) resolve(label string) string {
	label = strings.Trim(strings.TrimSpace(label), "\"'`.!")

	for _, route := range r.routes {
		if strings.EqualFold(route, label) {
			return route
		}
	}

	return DefaultRoute
}

// Run implements core.Agent.
func (r *RouterAgent) Run(rc *core.RunContext) (core.Event, error) {
	return execute(rc, r, KindRouter, r.run)
}

func (r *RouterAgent) run(rc *core.RunContext) (core.Event, error) {
	inv := guardrail.Invocation{Node: r.Name(), Kind: KindRouter, Input: rc.Input(), State: rc.State()}

	if err := r.guardrails.Before(rc.Context, inv); err != nil {
		return rejected(rc, r.Name(), err)
	}

	label, err := r.Route(rc)
	if err != nil {
		return core.Event{}, err
	}

	rc.LogDebug("router.decision", "node", r.Name(), "route", label)

	ev := core.NewMessageEvent(rc.RunID, r.Name(), label)
	ev.SetMetadata(metaRoute, label)

	if !r.outputKey.IsZero() {
		ev.SetState(r.outputKey, label)
	}

	return emit(rc, ev)
}

const metaRoute = "route"
