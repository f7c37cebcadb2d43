package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/slicepool/internal/cluster"
	"github.com/dreamware/slicepool/internal/config"
	"github.com/dreamware/slicepool/internal/coordinator"
	"github.com/dreamware/slicepool/internal/metrics"
	"github.com/dreamware/slicepool/internal/supervisor"
)

// runSupervisor opens the shared listener, starts the pool and blocks until
// SIGINT or SIGTERM.
func runSupervisor(cfg config.Config) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logFatal("listen %s: %v", cfg.Listen, err)
	}
	lnFile, err := ln.(*net.TCPListener).File()
	if err != nil {
		logFatal("listener fd: %v", err)
	}
	// the workers accept; the supervisor only hands the socket down
	_ = ln.Close()
	defer lnFile.Close()

	exe, err := os.Executable()
	if err != nil {
		logFatal("locate executable: %v", err)
	}

	size := cfg.Workers
	if size == 0 {
		size = supervisor.Parallelism()
	}

	spawner := &supervisor.ExecSpawner{
		Path:     exe,
		Args:     os.Args[1:],
		Env:      workerEnv,
		Listener: lnFile,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, live := newPool(spawner, size, cfg)

	if cfg.HealthInterval > 0 {
		mon := coordinator.NewHealthMonitor(cfg.HealthInterval)
		mon.SetOnUnhealthy(func(slot, pid int) {
			// the slot may already hold a replacement
			if h, ok := sup.Handle(slot); ok && h.PID() == pid {
				if err := sup.Kill(slot); err != nil && !errors.Is(err, os.ErrProcessDone) {
					log.Printf("supervisor: kill unhealthy slot %d: %v", slot, err)
				}
			}
		})
		go mon.Start(ctx, live)
		defer mon.Stop()
	}

	if cfg.MetricsAddr != "" {
		ms := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Printf("supervisor: metrics on %s", cfg.MetricsAddr)
			if err := ms.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("supervisor: metrics listener: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	log.Printf("supervisor[%d] listening on %s with %d workers", os.Getpid(), ln.Addr(), size)
	if err := sup.Run(ctx); err != nil {
		log.Printf("supervisor: %v", err)
	}
}

// newPool builds a supervisor whose worker channels route pool-wide
// requests to a coordinator over the live workers.
func newPool(spawner supervisor.Spawner, size int, cfg config.Config) (*supervisor.Supervisor, func() []coordinator.Peer) {
	coord := coordinator.New(cfg.CallTimeout)

	var sup *supervisor.Supervisor
	live := func() []coordinator.Peer { return coordinator.Peers(sup.Handles()) }
	sup = supervisor.New(spawner, size,
		supervisor.WithEndpointSetup(func(_ *supervisor.WorkerHandle, ep *cluster.Endpoint) {
			coord.Register(ep, live)
		}),
	)
	return sup, live
}

// workerEnv marks a spawned process as the worker for slot.
func workerEnv(slot int) []string {
	return []string{
		fmt.Sprintf("%s=%s", config.EnvRole, config.RoleWorker),
		fmt.Sprintf("%s=%d", config.EnvSlot, slot),
	}
}

func metricsHandler() http.Handler {
	registry := prometheus.NewRegistry()
	for _, c := range metrics.Collectors() {
		registry.MustRegister(c)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
