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

// Package upstream defines the narrow capability set the scheduler core
// requires from the hosting application (C8): the application never
// needs to know about offers or task ids, only executor removal,
// registration, and a handful of configuration accessors.
package upstream

import "github.com/metamx/mesos-coarse-scheduler/ids"

// Adapter bridges the core to the hosting application.
type Adapter interface {
	// CalculateMemoryOverhead returns the MB of non-heap memory to
	// reserve per executor, consumed by C2.
	CalculateMemoryOverhead() int

	// RemoveExecutor is called exactly once per launched TaskId over
	// its lifetime, when that executor's task reaches a terminal state
	// or is otherwise torn down.
	RemoveExecutor(id ids.ExecutorID, reason string)

	// MarkRegistered signals that the framework has registered with
	// the resource manager and it is safe to begin scheduling work
	// against it.
	MarkRegistered()

	// Error propagates a fatal driver-level error to the application's
	// own task scheduler.
	Error(msg string)

	// ExecutorEnvironment returns the environment variables the
	// application wants set in every executor process.
	ExecutorEnvironment() map[string]string

	// DriverURL is the address executors should use to call back into
	// the application.
	DriverURL() string

	// AppName is the human-readable application identifier; the
	// standalone binary uses it as the framework name and registers it
	// with the shuffle service.
	AppName() string

	// SparkHome is the application's executor home directory. The
	// backend does not call it: the launcher path is built from
	// Configuration.ExecutorHome when no executor URI is configured.
	SparkHome() string

	// MinRegisteredResourcesRatio is the fraction of MaxCores that must
	// be acquired before SufficientResourcesRegistered reports true.
	MinRegisteredResourcesRatio() float64
}

// OffersReviver is an optional interface for adapters that want a
// revive-offers hook. The backend does not type-assert for it or call
// ReviveOffersHook: its revive requests go to the driver only.
type OffersReviver interface {
	ReviveOffersHook()
}
