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

	"github.com/gogo/protobuf/proto"
	mesos "github.com/mesos/mesos-go/mesosproto"
	util "github.com/mesos/mesos-go/mesosutil"

	"github.com/metamx/mesos-coarse-scheduler/ids"
)

// fakeDriver satisfies scheduler.SchedulerDriver well enough to drive
// the backend under test, recording every call instead of talking to a
// real Mesos master.
type fakeDriver struct {
	mu sync.Mutex

	launched []*mesos.TaskInfo
	declined []*mesos.OfferID
	killed   []*mesos.TaskID
	revived  int
	stopped  bool
}

func (f *fakeDriver) Start() (mesos.Status, error) { return mesos.Status_DRIVER_RUNNING, nil }
func (f *fakeDriver) Stop(bool) (mesos.Status, error) {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return mesos.Status_DRIVER_STOPPED, nil
}
func (f *fakeDriver) Abort() (mesos.Status, error) { return mesos.Status_DRIVER_ABORTED, nil }
func (f *fakeDriver) Join() (mesos.Status, error)  { return mesos.Status_DRIVER_RUNNING, nil }
func (f *fakeDriver) Run() (mesos.Status, error)   { return mesos.Status_DRIVER_RUNNING, nil }

func (f *fakeDriver) RequestResources([]*mesos.Request) (mesos.Status, error) {
	return mesos.Status_DRIVER_RUNNING, nil
}

func (f *fakeDriver) LaunchTasks(offerIDs []*mesos.OfferID, tasks []*mesos.TaskInfo, filters *mesos.Filters) (mesos.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, tasks...)
	return mesos.Status_DRIVER_RUNNING, nil
}

func (f *fakeDriver) KillTask(taskID *mesos.TaskID) (mesos.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, taskID)
	return mesos.Status_DRIVER_RUNNING, nil
}

func (f *fakeDriver) DeclineOffer(offerID *mesos.OfferID, filters *mesos.Filters) (mesos.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, offerID)
	return mesos.Status_DRIVER_RUNNING, nil
}

func (f *fakeDriver) ReviveOffers() (mesos.Status, error) {
	f.mu.Lock()
	f.revived++
	f.mu.Unlock()
	return mesos.Status_DRIVER_RUNNING, nil
}

func (f *fakeDriver) SendFrameworkMessage(*mesos.ExecutorID, *mesos.SlaveID, string) (mesos.Status, error) {
	return mesos.Status_DRIVER_RUNNING, nil
}

func (f *fakeDriver) ReconcileTasks([]*mesos.TaskStatus) (mesos.Status, error) {
	return mesos.Status_DRIVER_RUNNING, nil
}

// fakeAdapter is a minimal upstream.Adapter for tests.
type fakeAdapter struct {
	mu               sync.Mutex
	overheadMB       int
	removed          []ids.ExecutorID
	removeReasons    []string
	registeredCalled bool
	errs             []string
	env              map[string]string
	driverURL        string
	appName          string
	sparkHome        string
	minRatio         float64
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{overheadMB: 0, appName: "app-1", driverURL: "driver://host:1234"}
}

func (a *fakeAdapter) CalculateMemoryOverhead() int { return a.overheadMB }

func (a *fakeAdapter) RemoveExecutor(id ids.ExecutorID, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, id)
	a.removeReasons = append(a.removeReasons, reason)
}

func (a *fakeAdapter) MarkRegistered() { a.registeredCalled = true }
func (a *fakeAdapter) Error(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, msg)
}
func (a *fakeAdapter) ExecutorEnvironment() map[string]string    { return a.env }
func (a *fakeAdapter) DriverURL() string                         { return a.driverURL }
func (a *fakeAdapter) AppName() string                            { return a.appName }
func (a *fakeAdapter) SparkHome() string                          { return a.sparkHome }
func (a *fakeAdapter) MinRegisteredResourcesRatio() float64       { return a.minRatio }

func (a *fakeAdapter) removedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.removed)
}

func makeOffer(offerID, nodeID, hostname string, cpus, mem float64) *mesos.Offer {
	return &mesos.Offer{
		Id:       &mesos.OfferID{Value: proto.String(offerID)},
		SlaveId:  &mesos.SlaveID{Value: proto.String(nodeID)},
		Hostname: proto.String(hostname),
		Resources: []*mesos.Resource{
			util.NewScalarResource("cpus", cpus),
			util.NewScalarResource("mem", mem),
		},
	}
}

func taskStatus(taskID ids.TaskID, state mesos.TaskState) *mesos.TaskStatus {
	return &mesos.TaskStatus{
		TaskId: &mesos.TaskID{Value: proto.String(taskID.String())},
		State:  state.Enum(),
	}
}
