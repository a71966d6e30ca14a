package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ProgressFunc samples the state of a running import.
type ProgressFunc func() ProgressReport

type ProgressReport struct {
	File       string  `json:"file"`
	Percentage float64 `json:"percentage"`
	Events     int64   `json:"events"`
	Done       bool    `json:"done"`
}

// ProgressServer pushes import progress to websocket subscribers twice a
// second while an archive is loading. It exists so a long import is not a
// silent wall; the browser shows a progress bar off this feed.
type ProgressServer struct {
	log      *slog.Logger
	sample   ProgressFunc
	upgrader websocket.Upgrader

	mu   sync.Mutex
	done bool
}

func NewProgressServer(log *slog.Logger, sample ProgressFunc) *ProgressServer {
	return &ProgressServer{
		log:    log,
		sample: sample,
		upgrader: websocket.Upgrader{
			// progress is not sensitive; any local frontend may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Finish marks the import complete; subscribers get one last report and are
// disconnected.
func (p *ProgressServer) Finish() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

func (p *ProgressServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn("progress_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		report := p.sample()
		p.mu.Lock()
		report.Done = p.done
		p.mu.Unlock()

		if err := conn.WriteJSON(report); err != nil {
			return
		}
		if report.Done {
			return
		}
	}
}
