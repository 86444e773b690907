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

// Package backend implements C5 (Offer Handler), C6 (Status Handler),
// and C7 (Lifecycle Controller): the resource-manager driver's
// scheduler.Scheduler callback sink, generalized from the teacher's
// EtcdScheduler into a policy-driven acceptor that sizes and launches
// long-lived executors instead of fixed-shape etcd server tasks.
package backend

import (
	"fmt"
	"time"

	"github.com/gogo/protobuf/proto"
	log "github.com/golang/glog"
	mesos "github.com/mesos/mesos-go/mesosproto"
	util "github.com/mesos/mesos-go/mesosutil"
	"github.com/mesos/mesos-go/scheduler"

	"github.com/metamx/mesos-coarse-scheduler/command"
	"github.com/metamx/mesos-coarse-scheduler/config"
	"github.com/metamx/mesos-coarse-scheduler/ids"
	"github.com/metamx/mesos-coarse-scheduler/offer"
	"github.com/metamx/mesos-coarse-scheduler/upstream"
)

// refuseSecondsOnAccept is how long we ask the resource manager not to
// re-offer the slice of resources we just accepted from.
const refuseSecondsOnAccept = 5.0

// Backend is the scheduler.Scheduler implementation the driver is
// constructed with. It owns no goroutines of its own: every method is
// invoked by the driver's own callback threads or by the allocation
// controller's scale-request calls, and all of them serialize on bk.mu.
type Backend struct {
	cfg         config.Configuration
	constraints offer.Constraints
	adapter     upstream.Adapter
	bk          *bookkeeping

	onFrameworkRegistered func(frameworkID string)
	onFatalError          func(msg string)
	onRunningFirstSeen    func(host string, port int) error

	driver scheduler.SchedulerDriver
}

// NewBackend parses the configured constraint string once at
// construction and wires it against the given upstream adapter.
func NewBackend(cfg config.Configuration, adapter upstream.Adapter) (*Backend, error) {
	constraints, err := offer.ParseConstraints(cfg.Constraints)
	if err != nil {
		return nil, fmt.Errorf("backend: invalid mesos.constraints: %w", err)
	}
	return &Backend{
		cfg:         cfg,
		constraints: constraints,
		adapter:     adapter,
		bk:          newBookkeeping(),
	}, nil
}

// OnFrameworkRegistered wires D1's ZooKeeper framework-id persistence
// (or any other registration side effect) without backend importing
// the rpc package directly.
func (b *Backend) OnFrameworkRegistered(fn func(frameworkID string)) { b.onFrameworkRegistered = fn }

// OnFatalError wires a hook invoked alongside adapter.Error on every
// driver error; the standalone binary uses it to clear the framework
// id persisted in ZooKeeper by D1.
func (b *Backend) OnFatalError(fn func(msg string)) { b.onFatalError = fn }

// OnExecutorRunning wires D2's shuffle-service registration. Only
// called when cfg.ShuffleServiceEnabled is true.
func (b *Backend) OnExecutorRunning(fn func(host string, port int) error) {
	b.onRunningFirstSeen = fn
}

// Snapshot returns a point-in-time copy of the bookkeeping counters,
// safe to serialize without holding the state lock.
func (b *Backend) Snapshot() Snapshot {
	return b.bk.snapshot()
}

// ----------------------- lifecycle controller (C7) ------------------------- //

// Start constructs and starts the resource-manager driver bound to this
// backend. Configuration errors (missing executor home with no
// executor.uri, already validated by config.Decode) must be caught
// before this is called; Start only fails when the driver cannot be
// constructed or started.
func (b *Backend) Start(master string, framework *mesos.FrameworkInfo) error {
	driver, err := scheduler.NewMesosSchedulerDriver(scheduler.DriverConfig{
		Master:    master,
		Framework: framework,
		Scheduler: b,
	})
	if err != nil {
		return fmt.Errorf("backend: failed to create scheduler driver: %w", err)
	}
	b.driver = driver
	if _, err := driver.Start(); err != nil {
		return fmt.Errorf("backend: failed to start scheduler driver: %w", err)
	}
	return nil
}

func (b *Backend) Registered(
	driver scheduler.SchedulerDriver,
	frameworkID *mesos.FrameworkID,
	masterInfo *mesos.MasterInfo,
) {
	log.Infof("backend: registered with master %v, framework id %s",
		masterInfo, frameworkID.GetValue())
	b.driver = driver

	b.bk.mu.Lock()
	b.bk.appID = frameworkID.GetValue()
	b.bk.mu.Unlock()

	if b.onFrameworkRegistered != nil {
		b.onFrameworkRegistered(frameworkID.GetValue())
	}
	b.adapter.MarkRegistered()
}

func (b *Backend) Reregistered(driver scheduler.SchedulerDriver, masterInfo *mesos.MasterInfo) {
	log.Infof("backend: reregistered with master %v", masterInfo)
	b.driver = driver
}

func (b *Backend) Disconnected(scheduler.SchedulerDriver) {
	log.Warning("backend: disconnected from mesos master")
}

func (b *Backend) Error(driver scheduler.SchedulerDriver, msg string) {
	log.Errorf("backend: driver error: %s", msg)
	b.adapter.Error(msg)
	if b.onFatalError != nil {
		b.onFatalError(msg)
	}
}

// Stop is the only cancellation point. It is idempotent: only the
// caller that wins the compare-and-swap actually drains and stops the
// driver. The upstream stop procedure runs under the state lock; the
// drain poll that follows deliberately runs lock-free so that
// in-flight status updates can still make progress and empty
// nodesWithExecutors.
func (b *Backend) Stop(timeout time.Duration) {
	if !b.bk.trySetStop() {
		return
	}

	b.bk.mu.Lock()
	if stopper, ok := b.adapter.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	b.bk.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		b.bk.mu.Lock()
		drained := len(b.bk.nodesWithExecutors) == 0
		b.bk.mu.Unlock()
		if drained || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if b.driver != nil {
		b.driver.Stop(false)
	}
}

// SufficientResourcesRegistered implements the allocation controller's
// readiness check.
func (b *Backend) SufficientResourcesRegistered() bool {
	b.bk.mu.Lock()
	defer b.bk.mu.Unlock()
	ratio := b.adapter.MinRegisteredResourcesRatio()
	return float64(b.bk.totalCoresAcquired) >= b.cfg.MaxCores*ratio
}

// DoRequestTotalExecutors sets the executor limit the offer handler
// enforces. Enforcement itself happens in ResourceOffers.
func (b *Backend) DoRequestTotalExecutors(n int) error {
	b.bk.mu.Lock()
	b.bk.setExecutorLimit(n)
	b.bk.mu.Unlock()
	return nil
}

// DoKillExecutors kills the live task backing each executor id, if
// any. Bookkeeping teardown completes asynchronously via the status
// update that follows the kill.
func (b *Backend) DoKillExecutors(execIDs []ids.ExecutorID) error {
	if b.driver == nil {
		return fmt.Errorf("backend: cannot kill executors before the driver has started")
	}
	for _, id := range execIDs {
		node, task, err := id.Split()
		if err != nil {
			log.Errorf("backend: skipping malformed kill request %q: %v", id, err)
			continue
		}

		b.bk.mu.Lock()
		liveTask, ok := b.bk.taskForNode(node)
		if ok && liveTask == task {
			b.bk.pendingRemoved[node] = struct{}{}
		}
		b.bk.mu.Unlock()

		if ok && liveTask == task {
			b.driver.KillTask(&mesos.TaskID{Value: proto.String(task.String())})
		}
	}
	return nil
}

func (b *Backend) SlaveLost(driver scheduler.SchedulerDriver, slaveID *mesos.SlaveID) {
	b.driver = driver
	node := ids.NodeID(slaveID.GetValue())

	b.bk.mu.Lock()
	hadExecutor := b.bk.hasNode(node)
	b.executorTerminatedLocked(node, "node lost")
	b.bk.mu.Unlock()

	if hadExecutor && b.driver != nil {
		b.driver.ReviveOffers()
	}
}

func (b *Backend) ExecutorLost(
	driver scheduler.SchedulerDriver,
	executorID *mesos.ExecutorID,
	slaveID *mesos.SlaveID,
	status int,
) {
	log.Warningf("backend: executor %s lost on slave %s (status %d)",
		executorID.GetValue(), slaveID.GetValue(), status)
	b.SlaveLost(driver, slaveID)
}

func (b *Backend) FrameworkMessage(
	driver scheduler.SchedulerDriver,
	executorID *mesos.ExecutorID,
	slaveID *mesos.SlaveID,
	data string,
) {
	log.V(2).Infof("backend: framework message from %s: %s", executorID.GetValue(), data)
}

func (b *Backend) OfferRescinded(driver scheduler.SchedulerDriver, offerID *mesos.OfferID) {
	log.V(2).Infof("backend: offer %s rescinded", offerID.GetValue())
}

// ----------------------- offer handler (C5) ------------------------- //

// ResourceOffers holds the state lock for the entire batch, per §5's
// ordering guarantee: a task's terminal-status teardown is fully
// visible to every offer evaluated afterward.
func (b *Backend) ResourceOffers(driver scheduler.SchedulerDriver, offers []*mesos.Offer) {
	b.driver = driver

	b.bk.mu.Lock()
	defer b.bk.mu.Unlock()

	if b.bk.stopRequested() {
		for _, o := range offers {
			b.declineLocked(driver, o)
		}
		return
	}

	for _, o := range offers {
		parsed := parseOffer(o)

		if b.bk.atExecutorLimit() {
			log.V(2).Infof("declining offer %s: executor limit reached", parsed.OfferID)
			b.declineLocked(driver, o)
			continue
		}
		if float64(b.bk.totalCoresAcquired) >= b.cfg.MaxCores {
			log.V(2).Infof("declining offer %s: core cap reached", parsed.OfferID)
			b.declineLocked(driver, o)
			continue
		}
		if !b.constraints.Matches(parsed.Attributes) {
			log.V(2).Infof("declining offer %s: constraints not satisfied", parsed.OfferID)
			b.declineLocked(driver, o)
			continue
		}

		availableCpus := parsed.Cpus
		if budget := b.bk.availableCoreBudget(b.cfg.MaxCores); budget < availableCpus {
			availableCpus = budget
		}
		overhead := float64(b.adapter.CalculateMemoryOverhead())
		sizing, ok := offer.SizeResources(availableCpus, parsed.Mem, b.cfg.MinMBPerCore, b.cfg.MaxMBPerCore, overhead)
		if !ok {
			log.V(2).Infof("declining offer %s: insufficient resources", parsed.OfferID)
			b.declineLocked(driver, o)
			continue
		}
		if b.bk.isBlacklisted(parsed.NodeID, b.cfg.MaxSlaveFailures) {
			log.V(2).Infof("declining offer %s: node %s is blacklisted", parsed.OfferID, parsed.NodeID)
			b.declineLocked(driver, o)
			continue
		}
		if b.bk.hasNode(parsed.NodeID) {
			log.V(2).Infof("declining offer %s: node %s already has an executor", parsed.OfferID, parsed.NodeID)
			b.declineLocked(driver, o)
			continue
		}

		taskID := b.bk.mintTaskID()
		b.bk.bind(taskID, parsed.NodeID, parsed.Hostname, int(sizing.CpusToUse))

		spec := command.Build(
			b.cfg, parsed, sizing, taskID,
			b.adapter.DriverURL(), b.bk.appID, b.adapter.ExecutorEnvironment(),
		)
		task := b.buildTask(taskID, parsed, o, sizing, spec)

		log.Infof("backend: launching task %d on node %s (cpus=%.2f mem=%.0f heap=%.0f)",
			taskID, parsed.NodeID, sizing.CpusToUse, sizing.TotalMemToAdvertise, sizing.HeapMem)

		driver.LaunchTasks([]*mesos.OfferID{o.Id}, []*mesos.TaskInfo{task}, &mesos.Filters{
			RefuseSeconds: proto.Float64(refuseSecondsOnAccept),
		})
	}
}

// declineLocked declines with no filter, per §4.5 ("On reject: decline
// the offer (no filter)"), unlike the 5-second refuse filter used on
// accept.
func (b *Backend) declineLocked(driver scheduler.SchedulerDriver, o *mesos.Offer) {
	driver.DeclineOffer(o.Id, nil)
}

func (b *Backend) buildTask(
	taskID ids.TaskID,
	parsed offer.Offer,
	mesosOffer *mesos.Offer,
	sizing offer.Sizing,
	spec command.Spec,
) *mesos.TaskInfo {
	cpuShare := sizing.CpusToUse + float64(b.cfg.ExtraCoresPerSlave)

	var uris []*mesos.CommandInfo_URI
	for _, u := range spec.FetchURIs {
		uris = append(uris, &mesos.CommandInfo_URI{Value: proto.String(u)})
	}

	var envVars []*mesos.Environment_Variable
	for k, v := range spec.Env {
		envVars = append(envVars, &mesos.Environment_Variable{
			Name:  proto.String(k),
			Value: proto.String(v),
		})
	}

	executorInfo := &mesos.ExecutorInfo{
		ExecutorId: util.NewExecutorID(string(parsed.NodeID)),
		Name:       proto.String("executor"),
		Command: &mesos.CommandInfo{
			Value:       proto.String(spec.Value),
			Uris:        uris,
			Environment: &mesos.Environment{Variables: envVars},
		},
		Resources: []*mesos.Resource{
			util.NewScalarResource("cpus", 0.1),
			util.NewScalarResource("mem", 32),
		},
	}
	if spec.ContainerImage != "" {
		executorInfo.Container = &mesos.ContainerInfo{
			Type: mesos.ContainerInfo_DOCKER.Enum(),
			Docker: &mesos.ContainerInfo_DockerInfo{
				Image: proto.String(spec.ContainerImage),
			},
		}
	}

	return &mesos.TaskInfo{
		Name:     proto.String(fmt.Sprintf("executor-%d", taskID)),
		TaskId:   &mesos.TaskID{Value: proto.String(taskID.String())},
		SlaveId:  mesosOffer.SlaveId,
		Executor: executorInfo,
		Resources: []*mesos.Resource{
			util.NewScalarResource("cpus", cpuShare),
			util.NewScalarResource("mem", sizing.TotalMemToAdvertise),
		},
	}
}

func parseOffer(o *mesos.Offer) offer.Offer {
	attrs := make(map[string]offer.AttributeValue, len(o.Attributes))
	for _, a := range o.Attributes {
		switch a.GetType() {
		case mesos.Value_SCALAR:
			attrs[a.GetName()] = offer.AttributeValue{
				Kind: offer.KindScalar, Scalar: a.GetScalar().GetValue(),
			}
		case mesos.Value_TEXT:
			attrs[a.GetName()] = offer.AttributeValue{
				Kind: offer.KindText, Text: a.GetText().GetValue(),
			}
		case mesos.Value_SET:
			attrs[a.GetName()] = offer.AttributeValue{
				Kind: offer.KindSet, Set: a.GetSet().GetItem(),
			}
		case mesos.Value_RANGES:
			ranges := make([]offer.Range, 0, len(a.GetRanges().GetRange()))
			for _, r := range a.GetRanges().GetRange() {
				ranges = append(ranges, offer.Range{Begin: r.GetBegin(), End: r.GetEnd()})
			}
			attrs[a.GetName()] = offer.AttributeValue{Kind: offer.KindRange, Ranges: ranges}
		}
	}

	return offer.Offer{
		OfferID:    o.Id.GetValue(),
		NodeID:     ids.NodeID(o.SlaveId.GetValue()),
		Hostname:   o.GetHostname(),
		Cpus:       sumScalar(o.Resources, "cpus"),
		Mem:        sumScalar(o.Resources, "mem"),
		Attributes: attrs,
	}
}

func sumScalar(resources []*mesos.Resource, name string) float64 {
	total := 0.0
	for _, r := range util.FilterResources(resources, func(r *mesos.Resource) bool {
		return r.GetName() == name
	}) {
		total += r.GetScalar().GetValue()
	}
	return total
}

// ----------------------- status handler (C6) ------------------------- //

func (b *Backend) StatusUpdate(driver scheduler.SchedulerDriver, status *mesos.TaskStatus) {
	b.driver = driver

	task, err := ids.ParseTaskID(status.GetTaskId().GetValue())
	if err != nil {
		log.Errorf("backend: could not parse task id %q from status update: %v",
			status.GetTaskId().GetValue(), err)
		return
	}

	log.Infof("backend: status update for task %d: %s", task, status.GetState())

	b.bk.mu.Lock()

	if status.GetState() == mesos.TaskState_TASK_RUNNING && b.cfg.ShuffleServiceEnabled {
		if node, ok := b.bk.nodeForTask(task); ok {
			if host, known := b.bk.nodeIDToHost[node]; known {
				delete(b.bk.nodeIDToHost, node)
				if b.onRunningFirstSeen != nil {
					if err := b.onRunningFirstSeen(host, b.cfg.ShuffleServicePort); err != nil {
						log.Errorf("backend: shuffle service registration failed for %s: %v", host, err)
					}
				}
			}
		}
	}

	var reviveNeeded bool
	if isTerminalState(status.GetState()) {
		if node, ok := b.bk.nodeForTask(task); ok {
			if isFailureState(status.GetState()) {
				count := b.bk.recordFailure(node)
				if count >= b.cfg.MaxSlaveFailures {
					log.Warningf("backend: node %s has reached the blacklist threshold (%d failures)",
						node, count)
				}
			}
			b.executorTerminatedLocked(node, status.GetState().String())
			reviveNeeded = true
		}
	}

	b.bk.mu.Unlock()

	if reviveNeeded && b.driver != nil {
		b.driver.ReviveOffers()
	}
}

// executorTerminatedLocked is §4.6's executorTerminated: idempotent,
// must be called with bk.mu held.
func (b *Backend) executorTerminatedLocked(node ids.NodeID, reason string) {
	if !b.bk.hasNode(node) {
		return
	}
	task, _ := b.bk.taskForNode(node)
	b.bk.unbind(task)
	delete(b.bk.pendingRemoved, node)
	b.adapter.RemoveExecutor(ids.NewExecutorID(node, task), reason)
}

func isTerminalState(state mesos.TaskState) bool {
	switch state {
	case mesos.TaskState_TASK_FINISHED,
		mesos.TaskState_TASK_FAILED,
		mesos.TaskState_TASK_KILLED,
		mesos.TaskState_TASK_LOST,
		mesos.TaskState_TASK_ERROR:
		return true
	default:
		return false
	}
}

func isFailureState(state mesos.TaskState) bool {
	switch state {
	case mesos.TaskState_TASK_FAILED,
		mesos.TaskState_TASK_LOST,
		mesos.TaskState_TASK_ERROR:
		return true
	default:
		return false
	}
}
