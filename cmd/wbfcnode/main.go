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

// Package main provides the entry point for wbfcnode, a standalone
// write-buffer flush controller. It wires the pure planner (pkg/wbfc) and
// its ticking harness (internal/flushctl) to a choice of tablet registry,
// event intake, and audit sink, then serves HTTP ingress and Prometheus
// metrics until an OS signal asks it to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"

	"wbfc/internal/flushctl"
	"wbfc/internal/flushctl/audit"
	"wbfc/internal/flushctl/events"
	"wbfc/pkg/wbfc"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file overriding the defaults (total-limit, soft-limit, flush-threshold, evict-life-time, max-flush-batch, check-interval)")
	httpAddr := flag.String("http_addr", ":8090", "HTTP listen address for /access, /size, /plan")
	metricsAddr := flag.String("metrics_addr", ":9090", "Prometheus /metrics listen address; empty disables it")
	auditLogPath := flag.String("audit_log", "", "If non-empty, append every flush decision to this JSONL file")
	pruneAfterMisses := flag.Int("prune_after_misses", 0, "Evict a region's last-access entry after this many consecutive planner ticks with no matching size entry; 0 disables pruning")
	redisStream := flag.String("redis_stream", "", "If non-empty, consume access/size events from this Redis Stream instead of only HTTP")
	redisAddr := flag.String("redis_addr", "127.0.0.1:6379", "Redis address used when -redis_stream is set")
	redisGroup := flag.String("redis_group", "wbfc", "Redis consumer group name")
	redisConsumer := flag.String("redis_consumer", "wbfcnode-1", "Redis consumer name within the group")
	kafkaTopic := flag.String("kafka_topic", "", "If non-empty, consume access/size events from this Kafka topic (demo-only logging consumer) in addition to HTTP")
	demo := flag.Bool("demo", false, "Seed a handful of mock tablets and a memory-pressure oracle snapshot in the registry; regions still need /access and /size reports before /plan selects them")
	flag.Parse()

	cfg := wbfc.DefaultConfig()
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("wbfcnode: reading config: %v", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Fatalf("wbfcnode: parsing config: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("wbfcnode: invalid config: %v", err)
	}

	registry := flushctl.NewMockTabletRegistry()
	if *demo {
		seedDemoRegions(registry)
	}

	var auditSink flushctl.AuditSink
	if *auditLogPath != "" {
		sink, err := audit.NewFileSink(*auditLogPath)
		if err != nil {
			log.Fatalf("wbfcnode: opening audit log: %v", err)
		}
		defer sink.Close()
		auditSink = sink
	}

	controller := flushctl.NewController(cfg, registry, *pruneAfterMisses)
	exec := flushctl.NewExecutor(controller, cfg.CheckInterval.Duration(), auditSink)
	exec.Start()

	var eventCancel context.CancelFunc
	if *redisStream != "" {
		ctx, cancel := context.WithCancel(context.Background())
		eventCancel = cancel
		reader := events.NewGoRedisStreamReader(*redisAddr)
		src := events.NewRedisStreamSource(reader, exec, *redisStream, *redisGroup, *redisConsumer)
		go func() {
			if err := src.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("wbfcnode: redis stream source stopped: %v", err)
			}
		}()
	}
	if *kafkaTopic != "" {
		ctx, cancel := context.WithCancel(context.Background())
		if eventCancel != nil {
			prev := eventCancel
			eventCancel = func() { prev(); cancel() }
		} else {
			eventCancel = cancel
		}
		src := events.NewKafkaSource(events.LoggingKafkaConsumer{}, exec, *kafkaTopic, 256)
		go func() {
			if err := src.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("wbfcnode: kafka source stopped: %v", err)
			}
		}()
	}

	if *metricsAddr != "" {
		flushctl.ServeMetrics(*metricsAddr)
		fmt.Printf("wbfcnode: metrics listening on %s\n", *metricsAddr)
	}

	api := newHTTPAPI(exec)
	mux := http.NewServeMux()
	api.registerRoutes(mux)
	httpServer := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("wbfcnode: HTTP ingress listening on %s\n", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("wbfcnode: could not listen on %s: %v", *httpAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nwbfcnode: shutting down...")

	if eventCancel != nil {
		eventCancel()
	}

	// Stop the executor first: it performs one final tick, flushing
	// whatever the planner still finds eligible, before returning.
	exec.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("wbfcnode: HTTP shutdown failed: %v", err)
	}

	fmt.Println("wbfcnode: stopped cleanly.")
}

// seedDemoRegions registers a handful of mock tablets of varying size in the
// registry and sets its oracle snapshot above the soft limit. It records
// nothing in the controller's state (no access times, no sizes), so the
// planner selects nothing until /access and /size reports arrive.
func seedDemoRegions(registry *flushctl.MockTabletRegistry) {
	seeds := []struct {
		region   wbfc.RegionID
		size     uint64
		postSize uint64
	}{
		{1, 4 << 20, 0},
		{2, 12 << 20, 1 << 20},
		{3, 512 << 10, 0},
		{4, 64 << 20, 2 << 20},
	}
	for _, s := range seeds {
		registry.Put(s.region, flushctl.NewMockTabletHandle(s.size, s.postSize))
	}
	registry.SetStats(3<<30, 2<<30)
}
