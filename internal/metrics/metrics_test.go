// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounterConcurrent(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8000), c.Value())

	c.Add(-8000)
	assert.Equal(t, int64(0), c.Value())
	c.Inc()
	c.Reset()
	assert.Equal(t, int64(0), c.Value())
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram()
	assert.Equal(t, int64(0), h.Stats().Count)
	assert.Equal(t, float64(0), h.Stats().Min)

	h.Observe(500 * time.Microsecond)
	h.Observe(20 * time.Millisecond)
	h.Observe(10 * time.Second)

	s := h.Stats()
	assert.Equal(t, int64(3), s.Count)
	assert.InDelta(t, 0.5, s.Min, 1e-9)
	assert.InDelta(t, 10000, s.Max, 1e-9)
	assert.Equal(t, int64(1), s.Buckets["1ms"])
	assert.Equal(t, int64(1), s.Buckets["25ms"])
	assert.Equal(t, int64(1), s.Buckets["5s+"])

	h.Reset()
	assert.Equal(t, int64(0), h.Stats().Count)
}
