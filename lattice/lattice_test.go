package lattice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGCounterJoinIsCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewGCounter().Increment("r1", 3)
	b := NewGCounter().Increment("r2", 5)
	c := NewGCounter().Increment("r1", 1).Increment("r3", 7)

	require.Equal(t, a.Join(b).Value(), b.Join(a).Value())

	left := a.Join(b.Join(c))
	right := a.Join(b).Join(c)
	require.Equal(t, left.Value(), right.Value())

	require.Equal(t, a.Value(), a.Join(a).Value())
}

func TestGCounterIncrementTakesMaxPerReplica(t *testing.T) {
	a := NewGCounter().Increment("r1", 3)
	b := NewGCounter().Increment("r1", 9)
	joined := a.Join(b)
	require.Equal(t, uint64(9), joined.Value())
}

func TestGSetUnionConverges(t *testing.T) {
	a := NewGSet[string]().Add("x").Add("y")
	b := NewGSet[string]().Add("y").Add("z")

	ab := a.Join(b)
	ba := b.Join(a)
	require.ElementsMatch(t, ab.Members(), ba.Members())
	require.True(t, ab.Contains("x"))
	require.True(t, ab.Contains("y"))
	require.True(t, ab.Contains("z"))
}

func TestTwoPSetNeverReAdds(t *testing.T) {
	s := NewTwoPSet[int]().Add(1).Remove(1)
	s = s.Add(1) // attempt to re-add after tombstoning
	require.False(t, s.Contains(1), "2P-Set must never resurrect a removed element")
}

func TestLWWRegisterJoinPicksLatestTimestamp(t *testing.T) {
	a := NewLWWRegister[string]().Set("first", 10, "r1")
	b := NewLWWRegister[string]().Set("second", 20, "r2")

	joined := a.Join(b)
	require.Equal(t, "second", joined.Value)

	joinedReverse := b.Join(a)
	require.Equal(t, joined, joinedReverse)
}

func TestLWWRegisterTieBreaksByReplica(t *testing.T) {
	a := NewLWWRegister[string]().Set("alpha", 5, "r1")
	b := NewLWWRegister[string]().Set("beta", 5, "r2")

	joined := a.Join(b)
	require.Equal(t, "beta", joined.Value, "higher replica id wins a timestamp tie")
}

func TestORMapConcurrentAddSurvivesConcurrentRemove(t *testing.T) {
	base := NewORMap[string, string]().Add("k", "tag-1", "v1")

	// Replica A observes base, then removes k (tombstones tag-1).
	removed := base.Remove("k")

	// Replica B, concurrently, observed only base and adds a second value
	// under a fresh tag it could not have known was about to be removed.
	added := base.Add("k", "tag-2", "v2")

	merged := removed.Join(added)
	require.ElementsMatch(t, []string{"v2"}, merged.Get("k"),
		"a concurrent add must survive a concurrent remove it did not observe")
}

func TestORMapJoinCommutativeAssociativeIdempotent(t *testing.T) {
	a := NewORMap[string, int]().Add("k1", "t1", 1)
	b := NewORMap[string, int]().Add("k2", "t2", 2)
	c := NewORMap[string, int]().Add("k1", "t3", 3).Remove("k2")

	left := a.Join(b.Join(c))
	right := a.Join(b).Join(c)
	require.ElementsMatch(t, left.Get("k1"), right.Get("k1"))
	require.ElementsMatch(t, left.Get("k2"), right.Get("k2"))

	require.ElementsMatch(t, a.Get("k1"), a.Join(a).Get("k1"))
}
