package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"almos/kernel/klog"
	"almos/kernel/metrics"
	"almos/kernel/runtime"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot a runtime and serve ps/kill/pwd/dqdt/fork/migrate over HTTP",
	Long: `serve boots a runtime from a scenario file and keeps it alive behind
an HTTP admin surface: GET /ps, POST /kill, GET /pwd, GET /dqdt,
POST /fork, POST /migrate and a Prometheus /metrics endpoint — the
network-reachable equivalent of ksh's ps/kill/pwd/fork/migrate
built-ins, styled after pkg/api's health/metrics mux rather than a
generated RPC service, since nothing in this port's dependency set
gives a smaller surface a running service that way.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("scenario", "testdata/scenario.yaml", "scenario YAML file")
	serveCmd.Flags().String("addr", "127.0.0.1:7878", "HTTP listen address")
	serveCmd.Flags().Duration("sample-interval", time.Second, "how often to resample DQDT/CPU/PPM gauges")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("scenario")
	addr, _ := cmd.Flags().GetString("addr")
	interval, _ := cmd.Flags().GetDuration("sample-interval")

	scenario, err := loadScenario(path)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}

	r, err := runtime.Boot(scenario.Config, &scenario.Boot)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	go sampleLoop(r, interval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ps", psHandler(r))
	mux.HandleFunc("/kill", killHandler(r))
	mux.HandleFunc("/pwd", pwdHandler(r))
	mux.HandleFunc("/dqdt", dqdtHandler(r))
	mux.HandleFunc("/fork", forkHandler(r))
	mux.HandleFunc("/migrate", migrateHandler(r))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	klog.Logger.Info().Str("addr", addr).Msg("admin server listening")
	return srv.ListenAndServe()
}

func sampleLoop(r *runtime.Runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		r.Sample()
	}
}

func psHandler(r *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, r.Ps())
	}
}

type killRequest struct {
	Pid    uint32 `json:"pid"`
	Signal string `json:"signal"`
}

func killHandler(r *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body killRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sig, err := runtime.ParseSignal(body.Signal)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := r.Kill(body.Pid, sig); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func pwdHandler(r *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		pid, err := strconv.ParseUint(req.URL.Query().Get("pid"), 10, 32)
		if err != nil {
			pid = 1
		}
		cwd, err := r.Pwd(uint32(pid))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"cwd": cwd})
	}
}

type forkRequest struct {
	Pid uint32 `json:"pid"`
}

func forkHandler(r *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body forkRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		child, err := r.Fork(body.Pid)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]uint32{"pid": child.Pid})
	}
}

type migrateRequest struct {
	Pid uint32 `json:"pid"`
}

func migrateHandler(r *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body migrateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := r.MigrateThread(req.Context(), body.Pid); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func dqdtHandler(r *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.Sample()
		writeJSON(w, r.DQDTSnapshot())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
