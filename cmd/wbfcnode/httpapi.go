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

package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"wbfc/internal/flushctl"
	"wbfc/pkg/wbfc"
)

// httpAPI exposes the controller's intake and a debug planning endpoint
// over HTTP, grounded on api.Server's shape (NewServer + RegisterRoutes +
// one handler per concern) from internal/ratelimiter/api/server.go.
type httpAPI struct {
	exec *flushctl.Executor
}

func newHTTPAPI(exec *flushctl.Executor) *httpAPI {
	return &httpAPI{exec: exec}
}

// registerRoutes wires the three endpoints onto mux.
func (a *httpAPI) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/access", a.handleAccess)
	mux.HandleFunc("/size", a.handleSize)
	mux.HandleFunc("/plan", a.handlePlan)
}

// handleAccess records that region was just touched. Query params:
// region (required), at (optional RFC3339Nano, defaults to now).
func (a *httpAPI) handleAccess(w http.ResponseWriter, r *http.Request) {
	region, ok := parseRegion(w, r)
	if !ok {
		return
	}
	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid at timestamp", http.StatusBadRequest)
			return
		}
		at = parsed
	}
	a.exec.RecordAccess(region, at)
	w.WriteHeader(http.StatusNoContent)
}

// handleSize records region's current write-buffer footprint. Query
// params: region (required), bytes (required).
func (a *httpAPI) handleSize(w http.ResponseWriter, r *http.Request) {
	region, ok := parseRegion(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("bytes")
	size, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "bytes is required and must be a non-negative integer", http.StatusBadRequest)
		return
	}
	a.exec.RecordSize(region, size)
	w.WriteHeader(http.StatusNoContent)
}

// handlePlan runs the planner against the current state without executing
// any flush, for operational visibility into what the next tick would do.
func (a *httpAPI) handlePlan(w http.ResponseWriter, r *http.Request) {
	victims := a.exec.PlanSnapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"victims": victims,
		"count":   len(victims),
	})
}

func parseRegion(w http.ResponseWriter, r *http.Request) (wbfc.RegionID, bool) {
	raw := r.URL.Query().Get("region")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "region is required and must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return wbfc.RegionID(id), true
}
