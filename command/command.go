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

// Package command assembles the shell command, environment, and fetch
// URIs used to launch an executor process on an accepted offer,
// following the shape of the teacher's EtcdScheduler.newExecutorInfo:
// resolve a binary name, build a CommandInfo-equivalent, and attach
// resource/container metadata.
package command

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/metamx/mesos-coarse-scheduler/config"
	"github.com/metamx/mesos-coarse-scheduler/ids"
	"github.com/metamx/mesos-coarse-scheduler/offer"
)

// Spec is the launch command assembled for one executor.
type Spec struct {
	Env            map[string]string
	FetchURIs      []string
	Value          string
	ContainerImage string
}

// Build assembles the launch command for a task on the given offer. The
// executor-id passed as --executor-id is NodeId alone when no
// executorUri is configured, and the composite NodeId/TaskId when one
// is: an asymmetry carried over unmodified from the source design (see
// Open Question 2 in DESIGN.md) rather than unified, since the source
// intent for the difference is unclear.
func Build(
	cfg config.Configuration,
	off offer.Offer,
	sizing offer.Sizing,
	taskID ids.TaskID,
	driverURL string,
	appID string,
	executorEnv map[string]string,
) Spec {
	env := map[string]string{
		"EXECUTOR_OPTS":   cfg.ExecutorExtraJavaOpts,
		"EXECUTOR_MEMORY": fmt.Sprintf("%dM", int(sizing.HeapMem)),
	}
	for k, v := range executorEnv {
		env[k] = v
	}
	if cfg.ExecutorExtraClassPath != "" {
		env["CLASSPATH"] = cfg.ExecutorExtraClassPath
	}
	if cfg.ExecutorExtraLibraryDir != "" {
		if existing, ok := env["LD_LIBRARY_PATH"]; ok && existing != "" {
			env["LD_LIBRARY_PATH"] = cfg.ExecutorExtraLibraryDir + ":" + existing
		} else {
			env["LD_LIBRARY_PATH"] = cfg.ExecutorExtraLibraryDir
		}
	}

	var launcher, executorID string
	var fetchURIs []string
	if cfg.ExecutorURI == "" {
		launcher = filepath.Join(cfg.ExecutorHome, "bin", launcherName)
		executorID = string(off.NodeID)
	} else {
		fetchURIs = []string{cfg.ExecutorURI}
		dirName := uriBasename(cfg.ExecutorURI)
		launcher = filepath.Join(dirName+"*", "bin", launcherName)
		executorID = string(ids.NewExecutorID(off.NodeID, taskID))
	}

	cmd := []string{
		launcher,
		"--driver-url", driverURL,
		"--executor-id", executorID,
		"--hostname", off.Hostname,
		"--cores", fmt.Sprintf("%d", int(sizing.CpusToUse)),
		"--app-id", appID,
	}

	return Spec{
		Env:            env,
		FetchURIs:      fetchURIs,
		Value:          strings.Join(cmd, " "),
		ContainerImage: cfg.ContainerImage,
	}
}

const launcherName = "spark-executor"

// uriBasename extracts the fetched archive's unpacked-directory name:
// the first path segment of the URI's filename before its first '.'.
func uriBasename(uri string) string {
	file := filepath.Base(uri)
	if idx := strings.IndexByte(file, '.'); idx >= 0 {
		return file[:idx]
	}
	return file
}
