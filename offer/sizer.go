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

// SizeResources implements C2: given the cpus/mem actually available on
// an offer (already clamped to maxCores - totalCoresAcquired by the
// caller) and the configured min/max MB-per-core band plus the memory
// overhead the upstream application requires, decide how much of the
// offer to use. Returns ok=false when the offer cannot satisfy any
// single core under the configured policy.
func SizeResources(availableCpus, availableMemMB, minMBPerCore, maxMBPerCore, overhead float64) (Sizing, bool) {
	if availableCpus <= 0 {
		return Sizing{}, false
	}

	usableMem := availableMemMB - overhead
	if usableMem < minMBPerCore {
		return Sizing{}, false
	}

	ratio := usableMem / availableCpus

	switch {
	case ratio > maxMBPerCore:
		// Memory-rich: cap heap at maxMBPerCore per core instead of
		// handing the executor more heap than the policy allows.
		cappedHeap := maxMBPerCore * availableCpus
		if cappedHeap < minMBPerCore {
			return Sizing{}, false
		}
		return Sizing{
			CpusToUse:           availableCpus,
			TotalMemToAdvertise: cappedHeap + overhead,
			HeapMem:             cappedHeap,
		}, true

	case ratio < minMBPerCore:
		// Memory-poor: shed cpus until the remaining ones can each get
		// minMBPerCore.
		desiredCpus := float64(int(usableMem / minMBPerCore))
		if desiredCpus <= 0 {
			return Sizing{}, false
		}
		return Sizing{
			CpusToUse:           desiredCpus,
			TotalMemToAdvertise: usableMem + overhead,
			HeapMem:             usableMem,
		}, true

	default:
		return Sizing{
			CpusToUse:           availableCpus,
			TotalMemToAdvertise: usableMem + overhead,
			HeapMem:             usableMem,
		}, true
	}
}
