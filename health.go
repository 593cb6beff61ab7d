// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package glmocr

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// readyPingTimeout bounds the model service check of /readyz.
const readyPingTimeout = 5 * time.Second

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status string                `json:"status"`
	Model  string                `json:"model"`
	Error  string                `json:"error,omitempty"`
	Queue  QueueStats            `json:"queue"`
	Cache  *RecognizerCacheStats `json:"cache,omitempty"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (n *OCRNode) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 if the model service answers (readiness check)
func (n *OCRNode) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status: "ready",
		Model:  n.model.Name(),
		Queue:  n.requestQueue.Stats(),
	}
	if n.cachedRecognizer != nil {
		stats := n.cachedRecognizer.Stats()
		resp.Cache = &stats
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
	defer cancel()

	status := http.StatusOK
	if err := n.model.Ping(ctx); err != nil {
		resp.Status = "not_ready"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
