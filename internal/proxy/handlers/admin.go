package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/keisium/ccrelay/internal/breaker"
	"github.com/keisium/ccrelay/internal/db/models"
	"github.com/keisium/ccrelay/internal/proxy/monitor"
	"github.com/keisium/ccrelay/internal/version"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}

// Health answers liveness probes from the host UI.
func Health(core *Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": version.Version,
			"uptime":  int64(time.Since(core.StartedAt).Seconds()),
		})
	}
}

type statusResponse struct {
	Running       bool                `json:"running"`
	Address       string              `json:"address"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Requests      monitor.Stats       `json:"requests"`
	Targets       map[string][]string `json:"targets"`
	Breakers      []breaker.Snapshot  `json:"breakers"`
}

// Status reports the live view the host UI renders: bind address, counters,
// the chain each app would try right now, and breaker states.
func Status(core *Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets := make(map[string][]string, len(models.AllAppTypes))
		for _, app := range models.AllAppTypes {
			chain, err := core.Chains.SelectProviders(app)
			if err != nil {
				targets[app] = []string{}
				continue
			}
			names := make([]string, 0, len(chain))
			for _, p := range chain {
				names = append(names, p.Name)
			}
			targets[app] = names
		}

		writeJSON(w, http.StatusOK, statusResponse{
			Running:       true,
			Address:       core.Address(),
			Version:       version.Version,
			UptimeSeconds: int64(time.Since(core.StartedAt).Seconds()),
			Requests:      core.Monitor.Stats(),
			Targets:       targets,
			Breakers:      core.Breakers.Snapshots(),
		})
	}
}

type logsResponse struct {
	Items    []models.RequestLog `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// Logs serves the paginated request-log view. Query params: app, page,
// page_size.
func Logs(core *Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}
		pageSize, _ := strconv.Atoi(q.Get("page_size"))
		if pageSize < 1 {
			pageSize = 50
		}

		items, total, err := core.Store.GetRequestLogs(q.Get("app"), page, pageSize)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if items == nil {
			items = []models.RequestLog{}
		}
		writeJSON(w, http.StatusOK, logsResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
	}
}

// Stats serves the aggregate request counters.
func Stats(core *Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, core.Monitor.Stats())
	}
}
