package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		entries := deps.Commands.List()
		active := 0
		for _, e := range entries {
			if !e.Status.Terminal() {
				active++
			}
		}

		// Command registry gauges.
		fmt.Fprintf(w, "# HELP shellherd_commands_active Commands not yet in a terminal state.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_active gauge\n")
		fmt.Fprintf(w, "shellherd_commands_active %d\n", active)

		fmt.Fprintf(w, "# HELP shellherd_commands_tracked Command handles in the registry.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_tracked gauge\n")
		fmt.Fprintf(w, "shellherd_commands_tracked %d\n", len(entries))

		// Lifecycle counters.
		fmt.Fprintf(w, "# HELP shellherd_commands_started_total Total commands spawned.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_started_total counter\n")
		fmt.Fprintf(w, "shellherd_commands_started_total %d\n", metrics.CommandsStarted.Load())

		fmt.Fprintf(w, "# HELP shellherd_commands_completed_total Total commands that exited zero.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_completed_total counter\n")
		fmt.Fprintf(w, "shellherd_commands_completed_total %d\n", metrics.CommandsCompleted.Load())

		fmt.Fprintf(w, "# HELP shellherd_commands_failed_total Total commands that exited nonzero or failed to spawn.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_failed_total counter\n")
		fmt.Fprintf(w, "shellherd_commands_failed_total %d\n", metrics.CommandsFailed.Load())

		fmt.Fprintf(w, "# HELP shellherd_commands_timed_out_total Total commands stopped by timeout.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_timed_out_total counter\n")
		fmt.Fprintf(w, "shellherd_commands_timed_out_total %d\n", metrics.CommandsTimedOut.Load())

		fmt.Fprintf(w, "# HELP shellherd_commands_killed_total Total commands killed on request.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_killed_total counter\n")
		fmt.Fprintf(w, "shellherd_commands_killed_total %d\n", metrics.CommandsKilled.Load())

		fmt.Fprintf(w, "# HELP shellherd_commands_blocked_total Total commands refused by the guard.\n")
		fmt.Fprintf(w, "# TYPE shellherd_commands_blocked_total counter\n")
		fmt.Fprintf(w, "shellherd_commands_blocked_total %d\n", metrics.CommandsBlocked.Load())

		// Tool registry.
		registered := 0
		if deps.Tools != nil {
			registered = len(deps.Tools.Schemas())
		}
		fmt.Fprintf(w, "# HELP shellherd_tools_registered Number of registered tools.\n")
		fmt.Fprintf(w, "# TYPE shellherd_tools_registered gauge\n")
		fmt.Fprintf(w, "shellherd_tools_registered %d\n", registered)

		// Uptime.
		fmt.Fprintf(w, "# HELP shellherd_uptime_seconds Seconds since the server started.\n")
		fmt.Fprintf(w, "# TYPE shellherd_uptime_seconds gauge\n")
		fmt.Fprintf(w, "shellherd_uptime_seconds %.0f\n", time.Since(startTime).Seconds())

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
		fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
		fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)

		fmt.Fprintf(w, "# HELP go_memstats_sys_bytes Total bytes of memory obtained from the OS.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_sys_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_sys_bytes %d\n", mem.Sys)

		fmt.Fprintf(w, "# HELP go_gc_duration_seconds Total GC pause duration.\n")
		fmt.Fprintf(w, "# TYPE go_gc_duration_seconds gauge\n")
		fmt.Fprintf(w, "go_gc_duration_seconds %f\n", float64(mem.PauseTotalNs)/1e9)
	}
}
