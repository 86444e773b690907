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

package backend

import (
	"sync"
	"sync/atomic"

	"github.com/metamx/mesos-coarse-scheduler/ids"
)

// bookkeeping is C4: every mutable field the offer and status handlers
// touch, behind a single non-reentrant mutex. Unlike the teacher's
// EtcdScheduler, which guards its maps with a sync.RWMutex because
// read-only admin paths (RunningCopy) dominate, nearly every access this
// core makes under lock is a mutation of the offer/status critical
// section (the snapshot copy and the readiness check are the only
// read-only ones), so a plain sync.Mutex is the right generalization,
// not a copy of the teacher's choice.
type bookkeeping struct {
	mu sync.Mutex

	coresByTaskID      map[ids.TaskID]int
	totalCoresAcquired int
	nodesWithExecutors map[ids.NodeID]struct{}
	nodeIDToHost       map[ids.NodeID]string

	// taskToNode/nodeToTask form the TaskId<->NodeId bijection (one
	// live task per node); kept consistent by bind/unbind below.
	taskToNode map[ids.TaskID]ids.NodeID
	nodeToTask map[ids.NodeID]ids.TaskID

	failuresByNodeID map[ids.NodeID]int
	executorLimit    *int
	pendingRemoved   map[ids.NodeID]struct{}

	nextTaskID int64

	appID string

	stopCalled int32
}

func newBookkeeping() *bookkeeping {
	return &bookkeeping{
		coresByTaskID:      map[ids.TaskID]int{},
		nodesWithExecutors: map[ids.NodeID]struct{}{},
		nodeIDToHost:       map[ids.NodeID]string{},
		taskToNode:         map[ids.TaskID]ids.NodeID{},
		nodeToTask:         map[ids.NodeID]ids.TaskID{},
		failuresByNodeID:   map[ids.NodeID]int{},
		pendingRemoved:     map[ids.NodeID]struct{}{},
	}
}

// mintTaskID must be called with mu held.
func (b *bookkeeping) mintTaskID() ids.TaskID {
	t := ids.TaskID(b.nextTaskID)
	b.nextTaskID++
	return t
}

// bind records a fresh launch: must be called with mu held, and only
// after the caller has verified admission (single-executor-per-node,
// core cap, executor limit).
func (b *bookkeeping) bind(task ids.TaskID, node ids.NodeID, host string, cpus int) {
	b.coresByTaskID[task] = cpus
	b.totalCoresAcquired += cpus
	b.nodesWithExecutors[node] = struct{}{}
	b.nodeIDToHost[node] = host
	b.taskToNode[task] = node
	b.nodeToTask[node] = task
}

// unbind tears down a terminated task's bookkeeping and returns the
// node it was bound to and the cores it held. Must be called with mu
// held. Safe to call at most once per task; callers must check `ok`.
func (b *bookkeeping) unbind(task ids.TaskID) (node ids.NodeID, cpus int, ok bool) {
	node, ok = b.taskToNode[task]
	if !ok {
		return "", 0, false
	}
	cpus = b.coresByTaskID[task]
	delete(b.coresByTaskID, task)
	b.totalCoresAcquired -= cpus
	delete(b.nodesWithExecutors, node)
	delete(b.taskToNode, task)
	delete(b.nodeToTask, node)
	return node, cpus, true
}

func (b *bookkeeping) taskForNode(node ids.NodeID) (ids.TaskID, bool) {
	t, ok := b.nodeToTask[node]
	return t, ok
}

func (b *bookkeeping) nodeForTask(task ids.TaskID) (ids.NodeID, bool) {
	n, ok := b.taskToNode[task]
	return n, ok
}

func (b *bookkeeping) hasNode(node ids.NodeID) bool {
	_, ok := b.nodesWithExecutors[node]
	return ok
}

func (b *bookkeeping) isBlacklisted(node ids.NodeID, maxSlaveFailures int) bool {
	return b.failuresByNodeID[node] >= maxSlaveFailures
}

// recordFailure increments the node's failure counter and returns the
// new count. The counter is monotonic and never reset, per invariant 4.
func (b *bookkeeping) recordFailure(node ids.NodeID) int {
	b.failuresByNodeID[node]++
	return b.failuresByNodeID[node]
}

func (b *bookkeeping) executorCount() int {
	return len(b.taskToNode)
}

func (b *bookkeeping) atExecutorLimit() bool {
	if b.executorLimit == nil {
		return false
	}
	return b.executorCount() >= *b.executorLimit
}

func (b *bookkeeping) setExecutorLimit(n int) {
	b.executorLimit = &n
}

func (b *bookkeeping) availableCoreBudget(maxCores float64) float64 {
	budget := maxCores - float64(b.totalCoresAcquired)
	if budget < 0 {
		return 0
	}
	return budget
}

func (b *bookkeeping) stopRequested() bool {
	return atomic.LoadInt32(&b.stopCalled) == 1
}

// trySetStop compare-and-sets stopCalled false->true, returning true
// only for the caller that wins the race (so Stop() is idempotent).
func (b *bookkeeping) trySetStop() bool {
	return atomic.CompareAndSwapInt32(&b.stopCalled, 0, 1)
}

// Snapshot is a point-in-time, lock-free-to-read copy of the counters
// an operator would want to see, used by the admin HTTP surface (D4) so
// that surface never holds the state lock for the length of an HTTP
// response.
type Snapshot struct {
	TotalCoresAcquired int            `json:"total_cores_acquired"`
	ExecutorCount      int            `json:"executor_count"`
	ExecutorLimit      *int           `json:"executor_limit,omitempty"`
	FailuresByNodeID   map[string]int `json:"failures_by_node_id"`
	PendingRemoved     []string       `json:"pending_removed"`
	AppID              string         `json:"app_id"`
	StopCalled         bool           `json:"stop_called"`
}

func (b *bookkeeping) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	failures := make(map[string]int, len(b.failuresByNodeID))
	for n, c := range b.failuresByNodeID {
		failures[string(n)] = c
	}
	pending := make([]string, 0, len(b.pendingRemoved))
	for n := range b.pendingRemoved {
		pending = append(pending, string(n))
	}
	var limit *int
	if b.executorLimit != nil {
		l := *b.executorLimit
		limit = &l
	}
	return Snapshot{
		TotalCoresAcquired: b.totalCoresAcquired,
		ExecutorCount:      b.executorCount(),
		ExecutorLimit:      limit,
		FailuresByNodeID:   failures,
		PendingRemoved:     pending,
		AppID:              b.appID,
		StopCalled:         b.stopRequested(),
	}
}
