package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigStoreReload(t *testing.T) {
	cs := NewConfigStore(map[string]any{"threshold": int64(1)})
	var seen []map[string]any
	cs.OnReload(func(snapshot map[string]any) { seen = append(seen, snapshot) })

	cs.SetConfig(map[string]any{"bufferDir": "/tmp"})
	if assert.Len(t, seen, 1, "listeners run synchronously") {
		assert.Equal(t, map[string]any{"threshold": int64(1), "bufferDir": "/tmp"}, seen[0])
	}

	snap := cs.GetSnapshot()
	snap["threshold"] = int64(99)
	v, ok := cs.Get("threshold")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v, "snapshots are copies")
}

func TestConfigStoreListenerAddedDuringReload(t *testing.T) {
	cs := NewConfigStore(nil)
	var late int
	cs.OnReload(func(map[string]any) {
		cs.OnReload(func(map[string]any) { late++ })
	})

	cs.SetConfig(map[string]any{"threshold": int64(1)})
	assert.Zero(t, late, "a listener added mid-dispatch waits for the next change")
	cs.SetConfig(map[string]any{"threshold": int64(2)})
	assert.Equal(t, 1, late)
}

func TestMetricsRegistry(t *testing.T) {
	mr := NewMetricsRegistry()
	assert.True(t, mr.Updated().IsZero())
	assert.Equal(t, int64(1), mr.Add("created", 1))
	assert.Equal(t, int64(3), mr.Add("created", 2))
	mr.Set("modes", map[string]int{"DISK": 1})

	snap := mr.GetSnapshot()
	assert.Equal(t, int64(3), snap["created"])
	assert.Equal(t, map[string]int{"DISK": 1}, snap["modes"])
	assert.False(t, mr.Updated().IsZero())
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("a", func() any { return 1 })
	dp.RegisterProbe("b", func() any { return "x" })
	RegisterPlatformProbes(dp)
	dp.UnregisterProbe("b")

	state := dp.DumpState()
	assert.Equal(t, 1, state["a"])
	assert.NotContains(t, state, "b")
	platform, ok := state["platform"].(map[string]any)
	if assert.True(t, ok) {
		assert.Positive(t, platform["cpus"])
		assert.Positive(t, platform["page_size"])
	}
}
