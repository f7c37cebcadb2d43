// Package main implements slicepool, a pre-forked pool of worker processes
// that count requests per key range and share a pool-wide view of that
// load through their supervisor.
//
// The same binary runs in two roles:
//
//	┌──────────────────────────────────────────────┐
//	│                 supervisor                   │
//	│  spawns N workers, respawns them on exit,    │
//	│  fans pool-wide requests out to all of them  │
//	└───────┬──────────────┬──────────────┬────────┘
//	        │ fd 3         │ fd 3         │ fd 3      coordination channels
//	┌───────▼──────┐ ┌─────▼────────┐ ┌───▼──────────┐
//	│  worker 0    │ │  worker 1    │ │  worker 2    │
//	│  HTTP on the shared listener (fd 4)            │
//	└──────────────┘ └──────────────┘ └──────────────┘
//
// Worker HTTP API:
//
//	GET  /get-load-info             pool-wide load table
//	POST /update-responsible-slices replace every worker's slices
//	POST /record/{key}              count one request for key
//	GET  /info                      this worker's pid, slices and load
//	GET  /health                    liveness
//
// Configuration (environment):
//   - SLICEPOOL_LISTEN: shared listen address (default ":8080")
//   - SLICEPOOL_WORKERS: pool size (default: available CPUs)
//   - SLICEPOOL_KEEPALIVE_TIMEOUT: idle connection timeout (default 15s)
//   - SLICEPOOL_CALL_TIMEOUT: per-worker fan-out timeout (default none)
//   - SLICEPOOL_HEALTH_INTERVAL: worker ping interval (default off)
//   - SLICEPOOL_METRICS_ADDR: Prometheus listen address (default off)
//
// Example usage:
//
//	SLICEPOOL_WORKERS=4 ./slicepool
//	curl -X POST localhost:8080/update-responsible-slices \
//	  -d '[{"start":0,"end":100},{"start":100,"end":200}]'
//	curl -X POST localhost:8080/record/42
//	curl localhost:8080/get-load-info
package main

import (
	"log"

	"github.com/dreamware/slicepool/internal/config"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
	}

	switch cfg.Role {
	case config.RoleWorker:
		runWorker(cfg)
	default:
		runSupervisor(cfg)
	}
}
