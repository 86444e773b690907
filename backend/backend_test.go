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
	"testing"
	"time"

	mesos "github.com/mesos/mesos-go/mesosproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metamx/mesos-coarse-scheduler/config"
	"github.com/metamx/mesos-coarse-scheduler/ids"
)

func launchedTaskID(t *testing.T, task *mesos.TaskInfo) ids.TaskID {
	t.Helper()
	id, err := ids.ParseTaskID(task.TaskId.GetValue())
	require.NoError(t, err)
	return id
}

func testConfig() config.Configuration {
	return config.Configuration{
		MaxCores:          4,
		MinMBPerCore:      0,
		MaxMBPerCore:      1 << 30,
		MaxSlaveFailures:  2,
		ShutdownTimeoutMs: 10000,
	}
}

// S1 — single accept.
func TestResourceOffers_SingleAccept(t *testing.T) {
	cfg := testConfig()
	adapter := newFakeAdapter()
	adapter.overheadMB = 384
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o1", "node-a", "host-a", 4, 2048)})

	require.Len(t, driver.launched, 1)
	require.Empty(t, driver.declined)

	snap := b.Snapshot()
	assert.Equal(t, 4, snap.TotalCoresAcquired)
	assert.Equal(t, 1, snap.ExecutorCount)
}

// S4 — second offer to same node declined.
func TestResourceOffers_SingleExecutorPerNode(t *testing.T) {
	cfg := testConfig()
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o1", "node-a", "host-a", 1, 512)})
	require.Len(t, driver.launched, 1)

	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o2", "node-a", "host-a", 1, 512)})
	assert.Len(t, driver.launched, 1, "second offer from the same node must not launch")
	assert.Len(t, driver.declined, 1)
}

// S5 — blacklist after two consecutive FAILED status updates.
func TestStatusUpdate_BlacklistAfterRepeatedFailures(t *testing.T) {
	cfg := testConfig()
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o1", "node-b", "host-b", 1, 512)})
	require.Len(t, driver.launched, 1)
	firstTaskID := launchedTaskID(t, driver.launched[0])

	b.StatusUpdate(driver, taskStatus(firstTaskID, mesos.TaskState_TASK_FAILED))

	// Node b is free again (no executor), offer it a second time and let
	// it fail again.
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o2", "node-b", "host-b", 1, 512)})
	require.Len(t, driver.launched, 2)
	secondTaskID := launchedTaskID(t, driver.launched[1])
	b.StatusUpdate(driver, taskStatus(secondTaskID, mesos.TaskState_TASK_FAILED))

	// Now node-b has 2 failures == MaxSlaveFailures: blacklisted.
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o3", "node-b", "host-b", 1, 512)})
	assert.Len(t, driver.launched, 2, "blacklisted node must not receive further launches")
	assert.Len(t, driver.declined, 1)
}

// S6 — shutdown drain.
func TestStop_DrainsBeforeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownTimeoutMs = 2000
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o1", "node-c", "host-c", 1, 512)})
	require.Len(t, driver.launched, 1)
	taskID := launchedTaskID(t, driver.launched[0])
	b.driver = driver

	done := make(chan struct{})
	start := time.Now()
	go func() {
		b.Stop(time.Duration(cfg.ShutdownTimeoutMs) * time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	b.StatusUpdate(driver, taskStatus(taskID, mesos.TaskState_TASK_FINISHED))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after drain")
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, time.Duration(cfg.ShutdownTimeoutMs)*time.Millisecond)
	assert.True(t, driver.stopped)
	assert.Equal(t, 1, adapter.removedCount())
}

// S7 — executor limit.
func TestDoRequestTotalExecutors_LimitsAdmission(t *testing.T) {
	cfg := testConfig()
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)
	require.NoError(t, b.DoRequestTotalExecutors(1))

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{
		makeOffer("o1", "node-d", "host-d", 1, 512),
		makeOffer("o2", "node-e", "host-e", 1, 512),
	})

	assert.Len(t, driver.launched, 1, "executor limit of 1 must allow exactly one launch")
	assert.Len(t, driver.declined, 1)
}

// Per the oversubscription design note, the cpu share advertised on the
// launched TaskInfo must be CpusToUse + ExtraCoresPerSlave, not just
// CpusToUse.
func TestResourceOffers_AdvertisesOversubscribedCpuShare(t *testing.T) {
	cfg := testConfig()
	cfg.ExtraCoresPerSlave = 2
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o1", "node-j", "host-j", 2, 1024)})
	require.Len(t, driver.launched, 1)

	task := driver.launched[0]
	var cpus float64
	for _, r := range task.Resources {
		if r.GetName() == "cpus" {
			cpus = r.GetScalar().GetValue()
		}
	}
	assert.Equal(t, float64(2+cfg.ExtraCoresPerSlave), cpus,
		"advertised cpu share must be CpusToUse + ExtraCoresPerSlave")
}

func TestResourceOffers_StopCalledDeclinesEverything(t *testing.T) {
	cfg := testConfig()
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)
	b.driver = &fakeDriver{}
	b.Stop(0)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o1", "node-f", "host-f", 4, 2048)})
	assert.Empty(t, driver.launched)
	assert.Len(t, driver.declined, 1)
}

func TestResourceOffers_CoreCapNeverExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCores = 4
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{
		makeOffer("o1", "node-g", "host-g", 3, 1024),
		makeOffer("o2", "node-h", "host-h", 3, 1024),
	})

	snap := b.Snapshot()
	assert.LessOrEqual(t, float64(snap.TotalCoresAcquired), cfg.MaxCores)
	assert.Len(t, driver.launched, 2, "second offer should still accept a clamped share")
}

func TestDoKillExecutors_RemovesOnSubsequentStatus(t *testing.T) {
	cfg := testConfig()
	adapter := newFakeAdapter()
	b, err := NewBackend(cfg, adapter)
	require.NoError(t, err)

	driver := &fakeDriver{}
	b.ResourceOffers(driver, []*mesos.Offer{makeOffer("o1", "node-i", "host-i", 1, 512)})
	require.Len(t, driver.launched, 1)
	taskID := launchedTaskID(t, driver.launched[0])
	b.driver = driver

	execID := ids.NewExecutorID(ids.NodeID("node-i"), taskID)
	require.NoError(t, b.DoKillExecutors([]ids.ExecutorID{execID}))
	require.Len(t, driver.killed, 1)

	b.StatusUpdate(driver, taskStatus(taskID, mesos.TaskState_TASK_KILLED))
	assert.Equal(t, 1, adapter.removedCount())
}
