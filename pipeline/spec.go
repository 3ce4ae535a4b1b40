package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/meshflow/agent"
	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/internal/util"
)

// Node types.
const (
	TypeGenerator   = "generator"
	TypeTool        = "tool"
	TypeFallback    = "fallback"
	TypeRouter      = "router"
	TypeConditional = "conditional"
	TypeCondition   = "condition"
	TypeSequential  = "sequential"
	TypeParallel    = "parallel"
	TypeLoop        = "loop"
	TypeReflection  = "reflection"
)

var nodeTypes = []string{
	TypeGenerator, TypeTool, TypeFallback, TypeRouter, TypeConditional,
	TypeCondition, TypeSequential, TypeParallel, TypeLoop, TypeReflection,
}

// Spec is a pipeline document.
type Spec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Guardrails wrap the whole tree.
	Guardrails []GuardrailSpec `yaml:"guardrails,omitempty"`
	Root       Node            `yaml:"root"`
}

// Node describes one node of the tree. Only the fields of its type are used.
type Node struct {
	Name        string          `yaml:"name"`
	Type        string          `yaml:"type"`
	Description string          `yaml:"description,omitempty"`
	Guardrails  []GuardrailSpec `yaml:"guardrails,omitempty"`

	// generator, reflection
	Model          string   `yaml:"model,omitempty"`
	Instruction    string   `yaml:"instruction,omitempty"`
	Prompt         string   `yaml:"prompt,omitempty"`
	OutputKey      string   `yaml:"output_key,omitempty"`
	IncludeHistory bool     `yaml:"include_history,omitempty"`
	Temperature    *float64 `yaml:"temperature,omitempty"`
	MaxTokens      int64    `yaml:"max_tokens,omitempty"`

	// tool, fallback
	Tool         string         `yaml:"tool,omitempty"`
	FallbackTool string         `yaml:"fallback_tool,omitempty"`
	Args         map[string]any `yaml:"args,omitempty"`
	FailureKey   string         `yaml:"failure_key,omitempty"`

	// router
	Classifier string            `yaml:"classifier,omitempty"`
	Routes     map[string]string `yaml:"routes,omitempty"`
	Keywords   []KeywordRoute    `yaml:"keywords,omitempty"`

	// conditional
	Router   *Node           `yaml:"router,omitempty"`
	Branches map[string]Node `yaml:"branches,omitempty"`
	Default  *Node           `yaml:"default,omitempty"`

	// condition
	Condition *ConditionSpec `yaml:"condition,omitempty"`

	// sequential, parallel
	Children      []Node        `yaml:"children,omitempty"`
	FailurePolicy string        `yaml:"failure_policy,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`

	// loop, reflection
	Body          *Node         `yaml:"body,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty"`
	Interval      time.Duration `yaml:"interval,omitempty"`

	// reflection
	Critic            string `yaml:"critic,omitempty"`
	CriticInstruction string `yaml:"critic_instruction,omitempty"`
	Task              string `yaml:"task,omitempty"`
	Sentinel          string `yaml:"sentinel,omitempty"`
	ArtifactKey       string `yaml:"artifact_key,omitempty"`
	CritiqueKey       string `yaml:"critique_key,omitempty"`
}

// KeywordRoute maps a label to trigger words.
type KeywordRoute struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

// ConditionSpec selects a condition checker: a registered one by name, or a
// state equality test.
type ConditionSpec struct {
	Checker string `yaml:"checker,omitempty"`
	Key     string `yaml:"key,omitempty"`
	Equals  any    `yaml:"equals,omitempty"`
}

// GuardrailSpec configures a built-in guardrail.
type GuardrailSpec struct {
	// max_length, blocked_keywords, require_args, arg_matches_state, regexp, json_object
	Type     string   `yaml:"type"`
	Name     string   `yaml:"name,omitempty"`
	Max      int      `yaml:"max,omitempty"`
	Keywords []string `yaml:"keywords,omitempty"`
	Args     []string `yaml:"args,omitempty"`
	Arg      string   `yaml:"arg,omitempty"`
	Key      string   `yaml:"key,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty"`
	Message  string   `yaml:"message,omitempty"`
	Fields   []string `yaml:"fields,omitempty"`
}

// Parse decodes a pipeline document. Unknown fields are rejected.
func Parse(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &spec, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline: %w", err)
	}

	return Parse(data)
}

// Validate checks the structure of the document without resolving
// references: node types, required fields, unique names and state keys.
func (s *Spec) Validate() error {
	v := &validator{names: map[string]bool{}}

	if s.Name == "" {
		v.errorf("pipeline", "name is required")
	}

	v.guardrails("pipeline", s.Guardrails)
	v.node("root", &s.Root)

	return errors.Join(v.errs...)
}

type validator struct {
	names map[string]bool
	errs  []error
}

func (v *validator) errorf(path, format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%s: %s", path, fmt.Sprintf(format, args...)))
}

func (v *validator) key(path, field, raw string) {
	if raw == "" {
		return
	}
	if _, err := core.ParseStateKey(raw); err != nil {
		v.errorf(path, "%s: %v", field, err)
	}
}

func (v *validator) template(path, field, text string) {
	if text == "" {
		return
	}
	if _, err := util.ParseTemplate(field, text); err != nil {
		v.errorf(path, "%s: %v", field, err)
	}
}

func (v *validator) node(path string, n *Node) {
	if n.Name == "" {
		v.errorf(path, "name is required")
	} else {
		path = path + "(" + n.Name + ")"
		if v.names[n.Name] {
			v.errorf(path, "duplicate node name")
		}
		v.names[n.Name] = true
	}

	if !slices.Contains(nodeTypes, n.Type) {
		v.errorf(path, "unknown type %q", n.Type)
		return
	}

	v.guardrails(path, n.Guardrails)
	v.key(path, "output_key", n.OutputKey)
	v.key(path, "failure_key", n.FailureKey)
	v.key(path, "artifact_key", n.ArtifactKey)
	v.key(path, "critique_key", n.CritiqueKey)
	v.template(path, "instruction", n.Instruction)
	v.template(path, "prompt", n.Prompt)
	v.template(path, "task", n.Task)
	for _, name := range sortedKeys(n.Args) {
		if text, ok := n.Args[name].(string); ok {
			v.template(path, "args."+name, text)
		}
	}

	switch n.Type {
	case TypeGenerator:
		if n.Model == "" {
			v.errorf(path, "model is required")
		}
	case TypeTool:
		if n.Tool == "" {
			v.errorf(path, "tool is required")
		}
	case TypeFallback:
		if n.Tool == "" || n.FallbackTool == "" {
			v.errorf(path, "tool and fallback_tool are required")
		}
	case TypeRouter:
		set := 0
		for _, ok := range []bool{n.Classifier != "", len(n.Keywords) > 0, n.Model != ""} {
			if ok {
				set++
			}
		}
		if set != 1 {
			v.errorf(path, "exactly one of classifier, keywords or model is required")
		}
		if n.Model != "" && len(n.Routes) == 0 {
			v.errorf(path, "routes are required for a model classifier")
		}
	case TypeConditional:
		if n.Router == nil {
			v.errorf(path, "router is required")
		} else {
			if n.Router.Type == "" {
				n.Router.Type = TypeRouter
			}
			if n.Router.Type != TypeRouter {
				v.errorf(path, "router must be of type router")
			}
			v.node(path+".router", n.Router)
		}
		if len(n.Branches) == 0 {
			v.errorf(path, "branches are required")
		}
		for _, label := range sortedKeys(n.Branches) {
			child := n.Branches[label]
			v.node(path+".branches."+label, &child)
		}
		if n.Default != nil {
			v.node(path+".default", n.Default)
		}
	case TypeCondition:
		switch {
		case n.Condition == nil:
			v.errorf(path, "condition is required")
		case n.Condition.Checker == "" && n.Condition.Key == "":
			v.errorf(path, "condition needs a checker or a key")
		default:
			v.key(path, "condition.key", n.Condition.Key)
		}
	case TypeSequential, TypeParallel:
		if len(n.Children) == 0 {
			v.errorf(path, "children are required")
		}
		if n.FailurePolicy != "" && n.Type == TypeParallel {
			if _, err := agent.ParseFailurePolicy(n.FailurePolicy); err != nil {
				v.errorf(path, "%v", err)
			}
		}
		for i := range n.Children {
			v.node(fmt.Sprintf("%s.children[%d]", path, i), &n.Children[i])
		}
	case TypeLoop:
		if n.Body == nil {
			v.errorf(path, "body is required")
		} else {
			v.node(path+".body", n.Body)
		}
		if n.MaxIterations < 0 {
			v.errorf(path, "max_iterations must not be negative")
		}
	case TypeReflection:
		if n.Model == "" {
			v.errorf(path, "model is required")
		}
		if n.MaxIterations < 0 {
			v.errorf(path, "max_iterations must not be negative")
		}
	}
}

var guardrailTypes = []string{"max_length", "blocked_keywords", "require_args", "arg_matches_state", "regexp", "json_object"}

func (v *validator) guardrails(path string, specs []GuardrailSpec) {
	for i, g := range specs {
		p := fmt.Sprintf("%s.guardrails[%d]", path, i)

		if !slices.Contains(guardrailTypes, g.Type) {
			v.errorf(p, "unknown guardrail type %q", g.Type)
			continue
		}

		switch g.Type {
		case "max_length":
			if g.Max <= 0 {
				v.errorf(p, "max must be positive")
			}
		case "blocked_keywords":
			if len(g.Keywords) == 0 {
				v.errorf(p, "keywords are required")
			}
		case "require_args":
			if len(g.Args) == 0 {
				v.errorf(p, "args are required")
			}
		case "arg_matches_state":
			if g.Arg == "" || g.Key == "" {
				v.errorf(p, "arg and key are required")
			}
			v.key(p, "key", g.Key)
		case "regexp":
			if g.Pattern == "" {
				v.errorf(p, "pattern is required")
			}
		}
	}
}
