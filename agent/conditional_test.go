package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/model"
)

func fixedLabel(label string) Classifier {
	return ClassifierFunc(func(context.Context, ClassifyRequest) (string, error) { return label, nil })
}

func coordinator(label string, withDefault bool) *ConditionalAgent {
	router := NewRouterAgent("router", fixedLabel(label), []string{"booker", "info"})

	var opts []Option
	if withDefault {
		opts = append(opts, WithDefault(writer("unclear", core.SessionKey("handled_by"), "unclear")))
	}

	return NewConditionalAgent("coordinator", router, map[string]core.Agent{
		"booker": writer("booker", core.SessionKey("handled_by"), "booker"),
		"info":   writer("info", core.SessionKey("handled_by"), "info"),
	}, opts...)
}

func TestConditionalAgent_RunsExactlyOneBranch(t *testing.T) {
	tests := []struct {
		label   string
		handled string
	}{
		{"booker", "booker"},
		{"  Booker\n", "booker"},
		{"INFO.", "info"},
		{"xyz", "unclear"},
		{"", "unclear"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			rc, rec, sess := newRunContext("Book me a flight to London.")

			_, err := coordinator(tt.label, true).Run(rc)
			require.NoError(t, err)

			assert.Equal(t, tt.handled, lookup(t, sess, core.SessionKey("handled_by")))
			assert.Equal(t, []string{"router", tt.handled}, rec.Authors())
		})
	}
}

func TestConditionalAgent_UnclearWithoutDefault(t *testing.T) {
	rc, rec, _ := newRunContext("hmm")

	ev, err := coordinator("xyz", false).Run(rc)
	require.NoError(t, err)

	assert.Equal(t, core.StatusUnclear, ev.Status)
	assert.Equal(t, DefaultRoute, ev.CustomMetadata["route"])
	assert.Contains(t, ev.Text(), "could not delegate request: 'hmm'")
	assert.Equal(t, []string{"router", "coordinator"}, rec.Authors())
}

func TestRouterAgent_DecisionEvent(t *testing.T) {
	router := NewRouterAgent("router", fixedLabel("info"), []string{"booker", "info"},
		WithOutputKey(core.TempKey("route")))
	rc, _, sess := newRunContext("what is the capital of Italy?")

	label, err := router.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, "info", label)

	ev, err := router.Run(rc)
	require.NoError(t, err)
	assert.Equal(t, "info", ev.Text())
	assert.Equal(t, "info", lookup(t, sess, core.TempKey("route")))
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier().
		Add("booker", "book", "flight", "hotel").
		Add("info", "what", "who")

	for input, want := range map[string]string{
		"Book me a flight":      "booker",
		"What is Go?":           "info",
		"bookkeeping questions": DefaultRoute,
	} {
		got, err := c.Classify(context.Background(), ClassifyRequest{Input: input})
		require.NoError(t, err)
		assert.Equal(t, want, got, input)
	}
}

func TestModelClassifier(t *testing.T) {
	m := model.NewMockModel("router").Enqueue(" Booker ")
	c := NewModelClassifier(m, map[string]string{"booker": "flight and hotel bookings"})

	router := NewRouterAgent("router", c, []string{"booker", "info"})
	rc, _, _ := newRunContext("Book me a hotel")

	label, err := router.Route(rc)
	require.NoError(t, err)
	assert.Equal(t, "booker", label)

	req := m.Calls()[0]
	assert.Contains(t, req.Instructions, "- booker: flight and hotel bookings")
	assert.Contains(t, req.Instructions, "- info\n")
	assert.Equal(t, "Book me a hotel", req.Prompt())
}
