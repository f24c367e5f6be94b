package util

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDAt_MonotonicWithinMillisecond(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)

	prev := NewIDAt(at)
	for i := 0; i < 100; i++ {
		next := NewIDAt(at)
		assert.Greater(t, next, prev)
		prev = next
	}

	id, err := ulid.Parse(prev)
	require.NoError(t, err)
	assert.Equal(t, uint64(at.UnixMilli()), id.Time())
}

func TestNewIDAt_ConcurrentUnique(t *testing.T) {
	const n = 500
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewIDAt(time.Now())
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
