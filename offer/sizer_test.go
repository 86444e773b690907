/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 — single accept: maxCores=4, minMBPerCore=0, maxMBPerCore=∞,
// overhead=384; offer cpus=4, mem=2048.
func TestSizeResources_Balanced(t *testing.T) {
	sizing, ok := SizeResources(4, 2048, 0, 1<<30, 384)
	require.True(t, ok)
	assert.Equal(t, 4.0, sizing.CpusToUse)
	assert.Equal(t, 2048.0, sizing.TotalMemToAdvertise)
	assert.Equal(t, 1664.0, sizing.HeapMem)
}

// S2 — memory-poor clamp: minMBPerCore=1024, overhead=0; offer cpus=4,
// mem=2048 -> cpus=2, mem=2048, heap=2048.
func TestSizeResources_MemoryPoorClamp(t *testing.T) {
	sizing, ok := SizeResources(4, 2048, 1024, 1<<30, 0)
	require.True(t, ok)
	assert.Equal(t, 2.0, sizing.CpusToUse)
	assert.Equal(t, 2048.0, sizing.TotalMemToAdvertise)
	assert.Equal(t, 2048.0, sizing.HeapMem)
}

// S3 — memory-rich cap: maxMBPerCore=512, overhead=0; offer cpus=2,
// mem=4096 -> cpus=2, mem=1024, heap=1024.
func TestSizeResources_MemoryRichCap(t *testing.T) {
	sizing, ok := SizeResources(2, 4096, 0, 512, 0)
	require.True(t, ok)
	assert.Equal(t, 2.0, sizing.CpusToUse)
	assert.Equal(t, 1024.0, sizing.TotalMemToAdvertise)
	assert.Equal(t, 1024.0, sizing.HeapMem)
}

func TestSizeResources_NoCpus(t *testing.T) {
	_, ok := SizeResources(0, 2048, 0, 1<<30, 0)
	assert.False(t, ok)
}

func TestSizeResources_InsufficientForSingleCore(t *testing.T) {
	_, ok := SizeResources(4, 100, 1024, 1<<30, 0)
	assert.False(t, ok)
}

func TestSizeResources_MemoryPoorRoundsToZero(t *testing.T) {
	_, ok := SizeResources(1, 50, 1024, 1<<30, 0)
	assert.False(t, ok)
}

// Property 8: for any returned (c, m, h), m == h + overhead and
// h/c is within [minMBPerCore, maxMBPerCore].
func TestSizeResources_RoundTripInvariant(t *testing.T) {
	cases := []struct {
		cpus, mem, min, max, overhead float64
	}{
		{4, 2048, 0, 1 << 30, 384},
		{4, 2048, 1024, 1 << 30, 0},
		{2, 4096, 0, 512, 0},
		{8, 16384, 512, 4096, 1024},
		{1, 2000, 100, 2048, 200},
	}
	for _, c := range cases {
		sizing, ok := SizeResources(c.cpus, c.mem, c.min, c.max, c.overhead)
		if !ok {
			continue
		}
		assert.InDelta(t, sizing.HeapMem+c.overhead, sizing.TotalMemToAdvertise, 1e-9)
		ratio := sizing.HeapMem / sizing.CpusToUse
		assert.True(t, ratio >= c.min-1e-9 && ratio <= c.max+1e-9,
			"ratio %f not within [%f, %f]", ratio, c.min, c.max)
	}
}
