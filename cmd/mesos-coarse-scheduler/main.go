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

// Command mesos-coarse-scheduler wires the backend core up to an actual
// Mesos master, ZooKeeper-backed framework-id persistence, and the
// admin HTTP surface, the way the teacher's own etcd-mesos scheduler
// binary would be wired, had it shipped one alongside scheduler.go.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gogo/protobuf/proto"
	log "github.com/golang/glog"
	mesos "github.com/mesos/mesos-go/mesosproto"

	"github.com/metamx/mesos-coarse-scheduler/admin"
	"github.com/metamx/mesos-coarse-scheduler/backend"
	"github.com/metamx/mesos-coarse-scheduler/config"
	"github.com/metamx/mesos-coarse-scheduler/ids"
	"github.com/metamx/mesos-coarse-scheduler/rpc"
)

var (
	master = flag.String("master", "", "zk://host:port/mesos or host:port of the Mesos master")
	user   = flag.String("user", "", "framework user; defaults to the process owner")
)

func main() {
	flag.Parse()

	cfg, err := config.Decode(propertiesFromEnv())
	if err != nil {
		log.Exitf("mesos-coarse-scheduler: invalid configuration: %v", err)
	}
	if *master == "" && !cfg.Testing {
		log.Exit("mesos-coarse-scheduler: --master is required")
	}

	adapter := newDefaultAdapter(cfg)
	b, err := backend.NewBackend(cfg, adapter)
	if err != nil {
		log.Exitf("mesos-coarse-scheduler: %v", err)
	}

	var zkStore *rpc.ZKStore
	if cfg.ZKConnect != "" {
		zkStore, err = rpc.DialZK(strings.Split(cfg.ZKConnect, ","), 10*time.Second, cfg.ZKChroot, cfg.ClusterName)
		if err != nil {
			log.Exitf("mesos-coarse-scheduler: %v", err)
		}
		defer zkStore.Close()

		b.OnFrameworkRegistered(func(frameworkID string) {
			if err := zkStore.PersistFrameworkID(frameworkID); err != nil {
				log.Errorf("mesos-coarse-scheduler: %v", err)
			}
		})
		b.OnFatalError(func(msg string) {
			log.Warningf("mesos-coarse-scheduler: clearing persisted framework id after fatal error: %s", msg)
			if err := zkStore.ClearFrameworkID(); err != nil {
				log.Errorf("mesos-coarse-scheduler: %v", err)
			}
		})
	}

	if cfg.ShuffleServiceEnabled {
		shuffleClient := rpc.NewShuffleClient()
		b.OnExecutorRunning(func(host string, port int) error {
			return shuffleClient.RegisterHost(host, port, adapter.AppName())
		})
	}

	if cfg.AdminHTTPPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.AdminHTTPPort)
		srv := admin.New(addr, func() interface{} { return b.Snapshot() })
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				log.Errorf("mesos-coarse-scheduler: admin server exited: %v", err)
			}
		}()
	}

	frameworkInfo := &mesos.FrameworkInfo{
		User:            proto.String(*user),
		Name:            proto.String(adapter.AppName()),
		Checkpoint:      proto.Bool(true),
		FailoverTimeout: proto.Float64(float64(cfg.ShutdownTimeoutMs) / 1000.0 * 10),
	}
	if zkStore != nil {
		if persisted, err := zkStore.ReadFrameworkID(); err == nil {
			frameworkInfo.Id = &mesos.FrameworkID{Value: proto.String(persisted)}
		}
	}

	if err := b.Start(*master, frameworkInfo); err != nil {
		log.Exitf("mesos-coarse-scheduler: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("mesos-coarse-scheduler: caught signal %v, shutting down", sig)
	b.Stop(time.Duration(cfg.ShutdownTimeoutMs) * time.Millisecond)
}

// propertiesFromEnv flattens the process environment into the
// dotted-key map config.Decode expects: for each MESOS_COARSE_-prefixed
// env var the prefix is stripped, the rest lowercased and '_' turned
// into '.', so MESOS_COARSE_EXECUTOR_HOME becomes executor.home. Keys
// containing upper-case letters cannot be produced this way.
func propertiesFromEnv() map[string]string {
	props := map[string]string{}
	const prefix = "MESOS_COARSE_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		key = strings.ReplaceAll(key, "_", ".")
		props[key] = parts[1]
	}
	return props
}

// defaultAdapter is the minimal upstream.Adapter for running the
// scheduler standalone, deriving everything it needs from
// Configuration rather than from a hosting application.
type defaultAdapter struct {
	cfg config.Configuration
}

func newDefaultAdapter(cfg config.Configuration) *defaultAdapter {
	return &defaultAdapter{cfg: cfg}
}

// CalculateMemoryOverhead follows the familiar max(384, 0.1*executorMemory)
// rule of thumb for JVM non-heap overhead.
func (a *defaultAdapter) CalculateMemoryOverhead() int {
	overhead := 0.1 * a.cfg.ExecutorMemoryMB
	if overhead < 384 {
		overhead = 384
	}
	return int(math.Ceil(overhead))
}

func (a *defaultAdapter) RemoveExecutor(id ids.ExecutorID, reason string) {
	log.Infof("mesos-coarse-scheduler: executor %s removed: %s", id, reason)
}

func (a *defaultAdapter) MarkRegistered() {
	log.Info("mesos-coarse-scheduler: framework registered")
}

func (a *defaultAdapter) Error(msg string) {
	log.Errorf("mesos-coarse-scheduler: driver error: %s", msg)
}

func (a *defaultAdapter) ExecutorEnvironment() map[string]string {
	return map[string]string{
		"EXECUTOR_MEMORY_MB": strconv.Itoa(int(a.cfg.ExecutorMemoryMB)),
	}
}

func (a *defaultAdapter) DriverURL() string {
	return fmt.Sprintf("spark://%s:%d", a.cfg.DriverHost, a.cfg.DriverPort)
}

func (a *defaultAdapter) AppName() string { return a.cfg.AppName }

func (a *defaultAdapter) SparkHome() string { return a.cfg.ExecutorHome }

func (a *defaultAdapter) MinRegisteredResourcesRatio() float64 {
	return a.cfg.MinRegisteredResourcesRatio
}
