package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/ledger"
	"github.com/shehryarbajwa/serpwatch/internal/report"
	"github.com/shehryarbajwa/serpwatch/internal/session"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

// LedgerSource returns the ledger of the current cycle
type LedgerSource func() *ledger.Ledger

// ProxyView exposes the proxy pool read-only
type ProxyView interface {
	Stats() models.ProxyStats
	Records() []models.ProxyRecord
}

// SessionView exposes the live session
type SessionView interface {
	Current() (*session.Session, bool)
}

// TokenView reports remaining search tokens per egress
type TokenView interface {
	Tokens(key string) float64
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	ledger   LedgerSource
	proxies  ProxyView
	sessions SessionView
	pacing   TokenView
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler. proxies and pacing may be nil.
func NewHandler(ledger LedgerSource, sessions SessionView, proxies ProxyView, pacing TokenView, logger *zap.Logger) *Handler {
	return &Handler{
		ledger:   ledger,
		proxies:  proxies,
		sessions: sessions,
		pacing:   pacing,
		logger:   logger.With(zap.String("component", "api")),
	}
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ledgerResponse struct {
	Totals  report.Totals     `json:"totals"`
	Tasks   []ledger.Group    `json:"tasks"`
	Entries map[string]string `json:"entries"`
}

// GetLedger handles GET /v1/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	l := h.ledger()
	if l == nil {
		writeJSON(w, http.StatusOK, ledgerResponse{Tasks: []ledger.Group{}, Entries: map[string]string{}})
		return
	}

	groups := l.Groups()
	writeJSON(w, http.StatusOK, ledgerResponse{
		Totals:  report.Count(groups),
		Tasks:   groups,
		Entries: l.Snapshot(),
	})
}

type proxyEntry struct {
	models.ProxyRecord
	Tokens *float64 `json:"tokens,omitempty"`
}

type proxiesResponse struct {
	Stats   models.ProxyStats `json:"stats"`
	Proxies []proxyEntry      `json:"proxies"`
}

// ListProxies handles GET /v1/proxies
func (h *Handler) ListProxies(w http.ResponseWriter, r *http.Request) {
	resp := proxiesResponse{Proxies: []proxyEntry{}}
	if h.proxies != nil {
		resp.Stats = h.proxies.Stats()
		for _, rec := range h.proxies.Records() {
			entry := proxyEntry{ProxyRecord: rec}
			if h.pacing != nil {
				tokens := h.pacing.Tokens(rec.Address)
				entry.Tokens = &tokens
			}
			resp.Proxies = append(resp.Proxies, entry)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionResponse struct {
	models.SessionInfo
	DebuggerURL string `json:"debuggerUrl,omitempty"`
}

// GetSession handles GET /v1/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Current()
	if !ok {
		http.Error(w, "No live session", http.StatusNotFound)
		return
	}

	info := sess.Info()
	resp := sessionResponse{SessionInfo: info}
	if info.DevtoolsURL != "" {
		resp.DebuggerURL = fmt.Sprintf("ws://%s/v1/session/ws", r.Host)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
