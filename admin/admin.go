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

// Package admin is D4: a small read-only HTTP surface an operator can
// hit to see what the scheduler currently believes about its
// executors, modeled on the teacher's debug/pprof-style admin muxes
// but serving backend.Snapshot() as JSON instead of etcd cluster state.
package admin

import (
	"encoding/json"
	"net/http"

	log "github.com/golang/glog"
	"github.com/gorilla/mux"
)

// Server serves the admin HTTP surface. It never touches the
// scheduler's state lock itself: every request calls the backend's own
// Snapshot accessor, which holds the lock only while copying counters.
type Server struct {
	router *mux.Router
	http   *http.Server
}

// SnapshotFunc defers the concrete Snapshot type to the caller so this
// package has no import-time dependency on backend.
type SnapshotFunc func() interface{}

// New builds the admin server bound to addr, with two GET routes:
// /snapshot and /healthz. healthz always returns 200 as long as the
// process is alive; it does not attempt to assess Mesos connectivity.
func New(addr string, snapshot SnapshotFunc) *Server {
	r := mux.NewRouter()
	s := &Server{router: r, http: &http.Server{Addr: addr, Handler: r}}

	r.HandleFunc("/snapshot", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			log.Errorf("admin: failed to encode snapshot: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return s
}

// ListenAndServe blocks serving the admin surface until the process is
// killed or the listener fails.
func (s *Server) ListenAndServe() error {
	log.Infof("admin: serving on %s", s.http.Addr)
	return s.http.ListenAndServe()
}
