// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package stats

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector()

	const workers = 32
	const perWorker = 5000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				Increment(&c.TLS.ClientHelloSeen)
				c.TCP.Errors.Add(1)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, uint64(workers*perWorker), snap.TLS.ClientHelloSeen)
	assert.Equal(t, uint64(workers*perWorker), snap.TCP.Errors)
	assert.Zero(t, snap.TLS.ClientHelloModified)
}

func TestCollector_SnapshotIsolated(t *testing.T) {
	c := NewCollector()
	Increment(&c.TCP.ConnectionsModified)

	snap := c.Snapshot()
	Increment(&c.TCP.ConnectionsModified)

	assert.Equal(t, uint64(1), snap.TCP.ConnectionsModified)
	assert.Equal(t, uint64(2), c.Snapshot().TCP.ConnectionsModified)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestSnapshot_JSON(t *testing.T) {
	c := NewCollector()
	Increment(&c.TCP.PacketsProcessed)
	Increment(&c.TLS.PacketsPassed)

	data, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	tcp := decoded["tcp"].(map[string]any)
	tls := decoded["tls"].(map[string]any)
	assert.Equal(t, float64(1), tcp["packets_processed"])
	assert.Equal(t, float64(1), tls["packets_passed"])
}
