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

package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	log "github.com/golang/glog"
)

// ShuffleClient registers executors with the external shuffle service
// once their task first reaches TASK_RUNNING, mirroring the retry
// discipline the teacher used to configure newly-joined cluster
// members: a handful of attempts with exponential backoff, since the
// service on the target host may not have finished starting yet.
type ShuffleClient struct {
	httpClient *http.Client
	maxRetries int
}

// NewShuffleClient builds a client with a 5 second per-request timeout.
func NewShuffleClient() *ShuffleClient {
	return &ShuffleClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		maxRetries: 5,
	}
}

type registerRequest struct {
	AppID string `json:"app_id"`
}

type registerResponse struct {
	Status string `json:"status"`
}

// RegisterHost tells the shuffle service instance on host:port which
// application it should now expect executors of ours to contact.
func (c *ShuffleClient) RegisterHost(host string, port int, appID string) error {
	url := fmt.Sprintf("http://%s:%d/api/v1/applications", host, port)
	body, err := json.Marshal(registerRequest{AppID: appID})
	if err != nil {
		return fmt.Errorf("rpc: failed to encode shuffle registration: %w", err)
	}

	backoff := 1
	var lastErr error
	for retries := 0; retries < c.maxRetries; retries++ {
		req, err := http.NewRequest("POST", url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("rpc: failed to build shuffle registration request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Warningf("rpc: shuffle registration attempt %d against %s failed: %v", retries, host, err)
			time.Sleep(time.Duration(backoff) * time.Second)
			backoff = backoff << 1
			continue
		}

		respBody, err := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("shuffle service on %s returned %d: %s", host, resp.StatusCode, string(respBody))
			log.Warningf("rpc: %v", lastErr)
			time.Sleep(time.Duration(backoff) * time.Second)
			backoff = backoff << 1
			continue
		}

		var decoded registerResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			lastErr = fmt.Errorf("rpc: unexpected shuffle registration response from %s: %s", host, string(respBody))
			continue
		}
		log.Infof("rpc: registered app %s with shuffle service on %s:%d (status=%s)", appID, host, port, decoded.Status)
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return fmt.Errorf("rpc: failed to register with shuffle service on %s after %d attempts: %w", host, c.maxRetries, lastErr)
}
