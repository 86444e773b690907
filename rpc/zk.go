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

// Package rpc holds the scheduler's two upstream-facing clients: D1
// persists the framework id across restarts in ZooKeeper the way the
// teacher persisted etcd cluster membership, and D2 registers executors
// with the shuffle service once their task first reports running.
// Neither client is imported by
// backend directly; both are wired in through Backend's hook setters so
// the offer/status core stays free of ZK and HTTP concerns.
package rpc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/golang/glog"
	"github.com/samuel/go-zookeeper/zk"
)

// ErrNoFrameworkID is returned by ReadFrameworkID when the znode exists
// but is empty, or doesn't exist at all.
var ErrNoFrameworkID = errors.New("rpc: no persisted framework id")

// ZKStore persists the framework id this scheduler was assigned under
// a chroot path, so a restarted scheduler process re-registers against
// the same framework instead of orphaning every running executor.
type ZKStore struct {
	conn        *zk.Conn
	chroot      string
	clusterName string
}

// DialZK connects to the ensemble and returns a store rooted at
// chroot/clusterName, creating intermediate znodes as needed.
func DialZK(servers []string, sessionTimeout time.Duration, chroot, clusterName string) (*ZKStore, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to connect to zookeeper: %w", err)
	}
	store := &ZKStore{conn: conn, chroot: strings.TrimRight(chroot, "/"), clusterName: clusterName}
	if err := store.ensurePath(store.frameworkIDPath()); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying ZooKeeper session.
func (s *ZKStore) Close() {
	s.conn.Close()
}

func (s *ZKStore) frameworkIDPath() string {
	return fmt.Sprintf("%s/%s/framework_id", s.chroot, s.clusterName)
}

// ensurePath creates every missing component of an absolute znode
// path as a persistent, empty znode.
func (s *ZKStore) ensurePath(path string) error {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur += "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return fmt.Errorf("rpc: failed to check znode %s: %w", cur, err)
		}
		if !exists {
			_, err := s.conn.Create(cur, []byte{}, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return fmt.Errorf("rpc: failed to create znode %s: %w", cur, err)
			}
		}
	}
	return nil
}

// PersistFrameworkID records the framework id handed out by the master
// on registration, so a future process restart can reuse it.
func (s *ZKStore) PersistFrameworkID(frameworkID string) error {
	path := s.frameworkIDPath()
	_, stat, err := s.conn.Get(path)
	if err != nil {
		return fmt.Errorf("rpc: failed to stat %s: %w", path, err)
	}
	if _, err := s.conn.Set(path, []byte(frameworkID), stat.Version); err != nil {
		return fmt.Errorf("rpc: failed to persist framework id: %w", err)
	}
	log.Infof("rpc: persisted framework id %s at %s", frameworkID, path)
	return nil
}

// ReadFrameworkID returns the previously persisted framework id, or
// ErrNoFrameworkID if none has been recorded yet.
func (s *ZKStore) ReadFrameworkID() (string, error) {
	data, _, err := s.conn.Get(s.frameworkIDPath())
	if err == zk.ErrNoNode {
		return "", ErrNoFrameworkID
	}
	if err != nil {
		return "", fmt.Errorf("rpc: failed to read framework id: %w", err)
	}
	if len(data) == 0 {
		return "", ErrNoFrameworkID
	}
	return string(data), nil
}

// ClearFrameworkID wipes the persisted id. The standalone binary calls
// it from the hook wired to Backend.OnFatalError, on every fatal driver
// error.
func (s *ZKStore) ClearFrameworkID() error {
	path := s.frameworkIDPath()
	_, stat, err := s.conn.Get(path)
	if err != nil {
		return fmt.Errorf("rpc: failed to stat %s: %w", path, err)
	}
	if _, err := s.conn.Set(path, []byte{}, stat.Version); err != nil {
		return fmt.Errorf("rpc: failed to clear framework id: %w", err)
	}
	log.Infof("rpc: cleared persisted framework id at %s", path)
	return nil
}
