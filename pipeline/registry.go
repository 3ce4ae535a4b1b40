package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/meshflow/agent"
	"github.com/hupe1980/meshflow/model"
	"github.com/hupe1980/meshflow/tool"
)

// Registry resolves the names a pipeline document refers to.
type Registry struct {
	mu          sync.RWMutex
	models      map[string]model.Model
	tools       map[string]tool.Tool
	classifiers map[string]agent.Classifier
	conditions  map[string]agent.ConditionChecker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models:      map[string]model.Model{},
		tools:       map[string]tool.Tool{},
		classifiers: map[string]agent.Classifier{},
		conditions:  map[string]agent.ConditionChecker{},
	}
}

// RegisterModel makes m available under name.
func (r *Registry) RegisterModel(name string, m model.Model) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[name] = m

	return r
}

// RegisterTool makes t available under its own name.
func (r *Registry) RegisterTool(t tool.Tool) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[t.Name()] = t

	return r
}

// RegisterClassifier makes c available under name.
func (r *Registry) RegisterClassifier(name string, c agent.Classifier) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.classifiers[name] = c

	return r
}

// RegisterCondition makes c available under name.
func (r *Registry) RegisterCondition(name string, c agent.ConditionChecker) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conditions[name] = c

	return r
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (model.Model, error) { return lookup(r, r.models, "model", name) }

// Tool returns the tool registered under name.
func (r *Registry) Tool(name string) (tool.Tool, error) { return lookup(r, r.tools, "tool", name) }

// Classifier returns the classifier registered under name.
func (r *Registry) Classifier(name string) (agent.Classifier, error) {
	return lookup(r, r.classifiers, "classifier", name)
}

// Condition returns the condition checker registered under name.
func (r *Registry) Condition(name string) (agent.ConditionChecker, error) {
	return lookup(r, r.conditions, "condition", name)
}

// Tools lists the registered tool names in order.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.tools)
}

func lookup[T any](r *Registry, m map[string]T, kind, name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q is not registered", kind, name)
	}

	return v, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
