package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseStateKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    StateKey
		wantErr bool
	}{
		{name: "unqualified defaults to session", in: "draft", want: SessionKey("draft")},
		{name: "user scope", in: "user:name", want: UserKey("name")},
		{name: "temp scope", in: "temp:scratch", want: TempKey("scratch")},
		{name: "unknown scope", in: "app:x", wantErr: true},
		{name: "missing name", in: "user:", wantErr: true},
		{name: "empty", in: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStateKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStateDelta_Persistent(t *testing.T) {
	d := NewStateDelta()
	d.Set(SessionKey("a"), 1)
	d.Set(UserKey("b"), 2)
	d.Set(TempKey("c"), 3)

	p := d.Persistent()

	assert.Equal(t, 2, p.Len())
	_, ok := p.Get(TempKey("c"))
	assert.False(t, ok)
	assert.Equal(t, 3, d.Len(), "source delta must be untouched")

	onlyTemp := NewStateDelta()
	onlyTemp.Set(TempKey("x"), true)
	assert.Nil(t, onlyTemp.Persistent())
}

// Merging deltas that write disjoint keys yields the same state in any order.
func TestProperty_StateDelta_DisjointMergeCommutes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "branches")

		deltas := make([]StateDelta, n)
		for i := range deltas {
			d := NewStateDelta()
			keys := rapid.IntRange(1, 4).Draw(rt, fmt.Sprintf("keys_%d", i))
			for j := 0; j < keys; j++ {
				scope := rapid.SampledFrom(Scopes).Draw(rt, fmt.Sprintf("scope_%d_%d", i, j))
				d.Set(StateKey{Scope: scope, Name: fmt.Sprintf("b%d_k%d", i, j)}, rapid.Int().Draw(rt, "v"))
			}
			deltas[i] = d
		}

		perm := rapid.Permutation(deltas).Draw(rt, "order")

		forward := NewSession("s", "u")
		for _, d := range deltas {
			forward.ApplyStateDelta(d)
		}

		shuffled := NewSession("s", "u")
		for _, d := range perm {
			shuffled.ApplyStateDelta(d)
		}

		require.Equal(rt, forward.Snapshot(), shuffled.Snapshot())
	})
}
