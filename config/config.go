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

// Package config decodes the flat key/value configuration the hosting
// application supplies (mesos.*, executor.*, shuffle.*, cores.*) into a
// frozen Configuration, following the decode-then-validate shape used by
// elsevier-core-engineering/replicator's agent config parser: decode
// with mapstructure, collect every violation with go-multierror instead
// of failing on the first one.
package config

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
)

// Configuration is frozen once Decode returns successfully; nothing in
// the backend mutates it afterwards.
type Configuration struct {
	MaxCores           float64 `mapstructure:"cores.max"`
	MinMBPerCore       float64 `mapstructure:"cores.mb.min"`
	MaxMBPerCore       float64 `mapstructure:"cores.mb.max"`
	ExtraCoresPerSlave int     `mapstructure:"mesos.extra.cores"`
	ShutdownTimeoutMs  int     `mapstructure:"mesos.coarse.shutdown.ms"`
	Constraints        string  `mapstructure:"mesos.constraints"`

	ShuffleServiceEnabled bool `mapstructure:"shuffle.service.enabled"`
	ShuffleServicePort    int  `mapstructure:"shuffle.service.port"`

	ExecutorHome            string  `mapstructure:"executor.home"`
	ExecutorURI             string  `mapstructure:"executor.uri"`
	ExecutorMemoryMB        float64 `mapstructure:"executor.memory.mb"`
	AppName                 string  `mapstructure:"app.name"`
	ExecutorExtraClassPath  string  `mapstructure:"executor.extraClassPath"`
	ExecutorExtraJavaOpts   string  `mapstructure:"executor.extraJavaOptions"`
	ExecutorExtraLibraryDir string  `mapstructure:"executor.extraLibraryPath"`

	ContainerImage string `mapstructure:"mesos.executor.docker.image"`

	DriverHost string `mapstructure:"driver.host"`
	DriverPort int    `mapstructure:"driver.port"`
	Testing    bool   `mapstructure:"testing"`

	MaxSlaveFailures int `mapstructure:"-"`

	// Ambient fields (D1, D4): optional, default to disabled.
	ZKConnect                   string  `mapstructure:"mesos.zk.connect"`
	ZKChroot                    string  `mapstructure:"mesos.zk.chroot"`
	ClusterName                 string  `mapstructure:"mesos.cluster.name"`
	AdminHTTPPort               int     `mapstructure:"mesos.admin.http.port"`
	MinRegisteredResourcesRatio float64 `mapstructure:"spark.scheduler.minRegisteredResourcesRatio"`
}

func defaults() Configuration {
	return Configuration{
		MaxCores:           1 << 30, // effectively unbounded, per spec.md "∞"
		MinMBPerCore:       0.0,
		MaxMBPerCore:       1 << 30,
		ExtraCoresPerSlave: 0,
		ShutdownTimeoutMs:  10000,
		ShuffleServicePort: 7337,
		MaxSlaveFailures:   2,
		ExecutorMemoryMB:   1024,
		AppName:            "mesos-coarse-scheduler",
	}
}

// Decode builds a Configuration from a flat string-keyed map, the shape
// the hosting application's property set arrives in. All violations of
// §7's configuration-error taxonomy are collected into a single
// *multierror.Error rather than surfaced one at a time.
func Decode(raw map[string]string) (Configuration, error) {
	cfg := defaults()

	m := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		m[k] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return Configuration{}, fmt.Errorf("config: could not build decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return Configuration{}, fmt.Errorf("config: failed to decode: %w", err)
	}
	cfg.MaxSlaveFailures = 2

	var result *multierror.Error
	if cfg.ExecutorURI == "" && cfg.ExecutorHome == "" {
		result = multierror.Append(result, fmt.Errorf(
			"executor.home must be set when executor.uri is not provided"))
	}
	if cfg.ShutdownTimeoutMs < 0 {
		result = multierror.Append(result, fmt.Errorf(
			"mesos.coarse.shutdown.ms must be >= 0, got %d", cfg.ShutdownTimeoutMs))
	}
	if cfg.MinMBPerCore < 0 {
		result = multierror.Append(result, fmt.Errorf(
			"cores.mb.min must be >= 0, got %f", cfg.MinMBPerCore))
	}
	if cfg.MaxMBPerCore < cfg.MinMBPerCore {
		result = multierror.Append(result, fmt.Errorf(
			"cores.mb.max (%f) must be >= cores.mb.min (%f)",
			cfg.MaxMBPerCore, cfg.MinMBPerCore))
	}
	if cfg.MaxCores <= 0 {
		result = multierror.Append(result, fmt.Errorf(
			"cores.max must be > 0, got %f", cfg.MaxCores))
	}
	if cfg.ExtraCoresPerSlave < 0 {
		result = multierror.Append(result, fmt.Errorf(
			"mesos.extra.cores must be >= 0, got %d", cfg.ExtraCoresPerSlave))
	}
	if !cfg.Testing && (cfg.DriverPort == 0 || cfg.DriverHost == "") {
		result = multierror.Append(result, fmt.Errorf(
			"driver.host and driver.port are required unless testing is set"))
	}
	if cfg.MinRegisteredResourcesRatio < 0 || cfg.MinRegisteredResourcesRatio > 1 {
		result = multierror.Append(result, fmt.Errorf(
			"spark.scheduler.minRegisteredResourcesRatio must be in [0,1], got %f",
			cfg.MinRegisteredResourcesRatio))
	}

	if result != nil {
		result.ErrorFormat = multierror.ListFormatFunc
		return Configuration{}, result
	}
	return cfg, nil
}
