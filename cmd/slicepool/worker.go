package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/slicepool/internal/cluster"
	"github.com/dreamware/slicepool/internal/config"
	"github.com/dreamware/slicepool/internal/slice"
	"github.com/dreamware/slicepool/internal/supervisor"
	"github.com/dreamware/slicepool/internal/worker"
)

// poolClient is the worker's line to the supervisor.
type poolClient interface {
	Request(ctx context.Context, kind cluster.Kind, payload, out any) error
}

// workerServer is the HTTP surface of one worker process.
type workerServer struct {
	rt   *worker.Runtime
	pool poolClient
	pid  int
	slot int
}

// runWorker serves HTTP on the inherited listener until the supervisor
// channel closes or the process is signaled.
func runWorker(cfg config.Config) {
	pid := os.Getpid()

	conn, err := supervisor.InheritedConn()
	if err != nil {
		logFatal("worker[%d] channel: %v", pid, err)
	}
	ln, err := supervisor.InheritedListener()
	if err != nil {
		logFatal("worker[%d] listener: %v", pid, err)
	}

	rt := worker.NewRuntime()
	ep := cluster.NewEndpoint("supervisor", conn)
	rt.Register(ep)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ep.Serve(ctx); err != nil {
			log.Printf("worker[%d] channel: %v", pid, err)
		}
	}()

	ws := &workerServer{rt: rt, pool: ep, pid: pid, slot: cfg.Slot}
	s := &http.Server{
		Handler:           ws.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       cfg.KeepAliveTimeout,
	}
	go func() {
		log.Printf("worker[%d] slot %d serving on %s", pid, cfg.Slot, ln.Addr())
		if err := s.Serve(ln); err != nil && err != http.ErrServerClosed {
			logFatal("worker[%d] serve: %v", pid, err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("worker[%d] signaled, stopping", pid)
	case <-ep.Done():
		log.Printf("worker[%d] supervisor channel closed, exiting", pid)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		log.Printf("worker[%d] shutdown: %v", pid, err)
	}
	_ = ep.Close()
	log.Printf("worker[%d] stopped", pid)
}

func (ws *workerServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /get-load-info", ws.handleLoadInfo)
	mux.HandleFunc("POST /update-responsible-slices", ws.handleUpdateSlices)
	mux.HandleFunc("POST /record/{key}", ws.handleRecord)
	mux.HandleFunc("GET /info", ws.handleInfo)
	return mux
}

// handleLoadInfo asks the supervisor for the load of the whole pool.
func (ws *workerServer) handleLoadInfo(w http.ResponseWriter, r *http.Request) {
	var total slice.LoadTable
	if err := ws.pool.Request(r.Context(), cluster.KindRequestLoad, nil, &total); err != nil {
		log.Printf("worker[%d] load info: %v", ws.pid, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if total == nil {
		total = slice.LoadTable{}
	}
	writeJSON(w, total)
}

// handleUpdateSlices asks the supervisor to give every worker the posted
// slice set.
func (ws *workerServer) handleUpdateSlices(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	slices, err := decodeSlices(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// inverted slices are kept as given; they never contain a key
	for _, s := range slices {
		if !s.Valid() {
			log.Printf("worker[%d] update slices: inverted slice %s", ws.pid, s.Key())
		}
	}

	var ack cluster.Ack
	req := cluster.UpdateSlicesRequest{Slices: slices}
	if err := ws.pool.Request(r.Context(), cluster.KindUpdateResponsibleSlices, req, &ack); err != nil {
		log.Printf("worker[%d] update slices: %v", ws.pid, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, ack)
}

// handleRecord counts one application request for the key in the path.
func (ws *workerServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	key, err := strconv.ParseInt(r.PathValue("key"), 10, 64)
	if err != nil {
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	}
	s, ok := ws.rt.Record(key)
	if !ok {
		http.Error(w, "no responsible slice", http.StatusNotFound)
		return
	}
	writeJSON(w, struct {
		Key   int64       `json:"key"`
		Slice slice.Slice `json:"slice"`
		PID   int         `json:"pid"`
	}{Key: key, Slice: s, PID: ws.pid})
}

// handleInfo reports this worker's own state without asking the pool.
func (ws *workerServer) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := ws.rt.Info()
	writeJSON(w, struct {
		PID        int             `json:"pid"`
		Slot       int             `json:"slot"`
		Slices     []slice.Slice   `json:"slices"`
		Load       slice.LoadTable `json:"load"`
		Generation uint64          `json:"generation"`
	}{
		PID:        ws.pid,
		Slot:       ws.slot,
		Slices:     info.Slices,
		Load:       info.Load,
		Generation: info.Generation,
	})
}

// decodeSlices accepts either a bare JSON array of slices or an object
// with a "slices" field.
func decodeSlices(body []byte) ([]slice.Slice, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var slices []slice.Slice
		if err := json.Unmarshal(body, &slices); err != nil {
			return nil, err
		}
		return slices, nil
	}
	var req cluster.UpdateSlicesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return req.Slices, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
