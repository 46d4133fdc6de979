package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartrouter/internal/classify"
)

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	s.RecordRequest(classify.TierSimple)
	s.RecordRequest(classify.TierSimple)
	s.RecordRequest(classify.TierCodex)
	s.RecordError()

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap["total"])
	assert.Equal(t, int64(1), snap["errors"])
	byTier := snap["by_tier"].(map[string]int64)
	assert.Equal(t, int64(2), byTier["simple"])
	assert.Equal(t, int64(1), byTier["codex"])
}

func TestStatsConcurrentRecording(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordRequest(classify.TierMedium)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), s.Snapshot()["total"])
}

func TestGate(t *testing.T) {
	g := NewGate(2)
	require.True(t, g.TryAcquire())
	require.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	assert.Equal(t, int64(2), g.Active())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGateMinimumCapacity(t *testing.T) {
	g := NewGate(0)
	require.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
}

func TestGateConcurrentAcquire(t *testing.T) {
	g := NewGate(10)
	var wg sync.WaitGroup
	admitted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	n := 0
	for range admitted {
		n++
	}
	assert.LessOrEqual(t, n, 10)
	assert.Equal(t, int64(n), g.Active())
}
