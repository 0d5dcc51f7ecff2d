// Package dashboard serves the bot's operations endpoint: health, Prometheus
// metrics, scheduled jobs and the audit trail, with a WebSocket feed that
// streams new audit records as they are written.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"admin-activead/internal/db"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
	backlogSize       = 20
	writeTimeout      = 5 * time.Second
)

// Source is the data the dashboard exposes.
type Source interface {
	ScheduledJobs(ctx context.Context) ([]db.Job, error)
	RecentJobs(ctx context.Context, limit int) ([]db.Job, error)
	AuditLog(ctx context.Context, limit int) ([]db.AuditRecord, error)
	OnAudit(fn func(db.AuditRecord))
}

// Server is the operations HTTP server. /api/* and /ws require the bearer
// token when one is configured.
type Server struct {
	source    Source
	gatherer  prometheus.Gatherer
	token     string
	server    *http.Server
	router    *mux.Router
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan db.AuditRecord
	stop      chan struct{}
	isRunning bool
	mu        sync.Mutex
}

func New(source Source, gatherer prometheus.Gatherer, port int, token string) *Server {
	s := &Server{
		source:    source,
		gatherer:  gatherer,
		token:     token,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan db.AuditRecord, 100),
		stop:      make(chan struct{}),
	}
	if token == "" {
		log.Warn().Msg("Dashboard token not set, API endpoints are unauthenticated")
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireToken)
	api.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/recent", s.handleRecentJobs).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)

	r.Handle("/ws", s.requireToken(http.HandlerFunc(s.handleWebSocket))).Methods(http.MethodGet)
	s.router = r

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	source.OnAudit(func(rec db.AuditRecord) {
		select {
		case s.broadcast <- rec:
		default:
			log.Warn().Int64("audit_id", rec.ID).Msg("Dashboard broadcast queue full, dropping record")
		}
	})
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("dashboard is already running")
	}

	go s.clientBroadcaster()
	go func() {
		log.Info().Str("address", s.server.Addr).Msg("Starting dashboard server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Dashboard server failed")
		}
	}()

	s.isRunning = true
	return nil
}

// Stop closes WebSocket clients and shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	close(s.stop)

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown dashboard server")
		return err
	}

	s.isRunning = false
	log.Info().Msg("Dashboard stopped")
	return nil
}

func (s *Server) clientBroadcaster() {
	for {
		select {
		case rec := <-s.broadcast:
			s.broadcastToClients(rec)
		case <-s.stop:
			return
		}
	}
}

func (s *Server) broadcastToClients(rec db.AuditRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal audit record for broadcast")
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("Dropping WebSocket client")
			client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorized accepts the token as a bearer header or, for browser
// WebSockets that cannot set headers, as the token query parameter.
func (s *Server) authorized(r *http.Request) bool {
	got := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		got = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.source.ScheduledJobs(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Dashboard: list jobs failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(jobs))
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.source.RecentJobs(r.Context(), limitParam(r))
	if err != nil {
		log.Error().Err(err).Msg("Dashboard: recent jobs failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(jobs))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.source.AuditLog(r.Context(), limitParam(r))
	if err != nil {
		log.Error().Err(err).Msg("Dashboard: audit log failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(records))
}

// handleWebSocket sends the latest audit records oldest first, then streams
// new ones until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	backlog, err := s.source.AuditLog(r.Context(), backlogSize)
	if err != nil {
		log.Warn().Err(err).Msg("Dashboard: audit backlog failed")
	}

	s.clientsMu.Lock()
	for i := len(backlog) - 1; i >= 0; i-- {
		if data, err := json.Marshal(backlog[i]); err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.clientsMu.Unlock()
				return
			}
		}
	}
	s.clients[conn] = true
	s.clientsMu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, nil); err != nil {
		log.Error().Err(err).Msg("Failed to render dashboard")
	}
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultAuditLimit
	}
	if n > maxAuditLimit {
		return maxAuditLimit
	}
	return n
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>AD Admin Bot</title>
    <meta charset="UTF-8">
    <style>
        body { font-family: 'Segoe UI', Tahoma, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .card { background: white; border-radius: 10px; padding: 20px; margin-bottom: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 6px; border-bottom: 1px solid #eee; }
        #status { font-weight: bold; }
    </style>
</head>
<body>
    <div class="card">
        <h2>Scheduled jobs</h2>
        <table><thead><tr><th>#</th><th>Account</th><th>Run at</th><th>Created by</th></tr></thead><tbody id="jobs"></tbody></table>
    </div>
    <div class="card">
        <h2>Audit <span id="status">connecting</span></h2>
        <table><thead><tr><th>Time</th><th>User</th><th>Action</th><th>Target</th><th>Details</th></tr></thead><tbody id="audit"></tbody></table>
    </div>
    <script>
        const token = new URLSearchParams(location.search).get('token') || '';
        const cell = (tr, v) => { const td = document.createElement('td'); td.textContent = v == null ? '' : v; tr.appendChild(td); };

        fetch('/api/jobs', { headers: { 'Authorization': 'Bearer ' + token } })
            .then(r => r.json())
            .then(jobs => jobs.forEach(j => {
                const tr = document.createElement('tr');
                [j.id, j.sam, new Date(j.runAt).toLocaleString(), j.createdBy].forEach(v => cell(tr, v));
                document.getElementById('jobs').appendChild(tr);
            }));

        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/ws?token=' + encodeURIComponent(token));
        ws.onopen = () => document.getElementById('status').textContent = 'live';
        ws.onclose = () => document.getElementById('status').textContent = 'disconnected';
        ws.onmessage = (e) => {
            const rec = JSON.parse(e.data);
            const tr = document.createElement('tr');
            [new Date(rec.ts).toLocaleString(), rec.userId, rec.action, rec.target, rec.details].forEach(v => cell(tr, v));
            const body = document.getElementById('audit');
            body.insertBefore(tr, body.firstChild);
        };
    </script>
</body>
</html>
`))
