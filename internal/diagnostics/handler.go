// Package diagnostics exposes runtime telemetry and a cast intake over HTTP
// and websocket.
package diagnostics

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"spellforge/server/internal/metrics"
	"spellforge/server/internal/persist"
	"spellforge/server/internal/runtime"
	"spellforge/server/internal/telemetry"
	"spellforge/server/internal/toggle"
	"spellforge/server/logging"
)

const defaultPushInterval = time.Second

type Toggles interface {
	Active() []toggle.Activation
}

type RouterStats interface {
	Stats() logging.RouterStats
}

type Intake interface {
	Enqueue(intent runtime.Intent) (bool, string)
	Tick() int64
}

type Journal interface {
	RecentJournal(ctx context.Context, actor uuid.UUID, limit int) ([]persist.JournalEntry, error)
}

type Presence interface {
	Len() int
}

// Actors applies lifecycle transitions. Calls return immediately; the
// transition happens on the next tick.
type Actors interface {
	Join(actor uuid.UUID)
	Disconnect(actor uuid.UUID)
	Death(actor uuid.UUID)
	ZoneChange(actor uuid.UUID)
}

type Config struct {
	Debug     *metrics.DebugMetrics
	Toggles   Toggles
	Router    RouterStats
	Telemetry *logging.Metrics
	Presence  Presence
	Intake    Intake
	Journal   Journal
	Actors    Actors
	TickRate  int

	PushInterval time.Duration
	EnablePprof  bool
	Logger       telemetry.Logger
}

// ActiveToggle is one running toggle in a snapshot.
type ActiveToggle struct {
	Actor         string `json:"actor"`
	Ability       string `json:"ability"`
	StartedAtTick int64  `json:"startedAtTick"`
	ActiveTicks   int64  `json:"activeTicks"`
}

// Snapshot is the document served on /diagnostics and pushed on /ws.
type Snapshot struct {
	Type          string              `json:"type"`
	Status        string              `json:"status"`
	ServerTime    int64               `json:"serverTime"`
	Tick          int64               `json:"tick"`
	TickRate      int                 `json:"tickRate"`
	Actors        int                 `json:"actors"`
	Casting       metrics.Snapshot    `json:"casting"`
	ActiveToggles []ActiveToggle      `json:"activeToggles"`
	Router        logging.RouterStats `json:"router"`
	Telemetry     map[string]uint64   `json:"telemetry,omitempty"`
}

type castRequest struct {
	Type       string             `json:"type,omitempty"`
	Seq        uint64             `json:"seq,omitempty"`
	Actor      string             `json:"actor"`
	Ability    string             `json:"ability"`
	Scope      string             `json:"scope,omitempty"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
}

type intentAckMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
	Tick int64  `json:"tick,omitempty"`
}

type intentRejectMessage struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq,omitempty"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
}

// Server builds snapshots and serves the diagnostics endpoints.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = defaultPushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

// Snapshot collects the current telemetry. Safe from any goroutine.
func (s *Server) Snapshot() Snapshot {
	snapshot := Snapshot{
		Type:          "diagnostics",
		Status:        "ok",
		ServerTime:    time.Now().UnixMilli(),
		TickRate:      s.cfg.TickRate,
		Casting:       s.cfg.Debug.Snapshot(),
		ActiveToggles: []ActiveToggle{},
	}
	if s.cfg.Intake != nil {
		snapshot.Tick = s.cfg.Intake.Tick()
	}
	if s.cfg.Presence != nil {
		snapshot.Actors = s.cfg.Presence.Len()
	}
	if s.cfg.Toggles != nil {
		for _, activation := range s.cfg.Toggles.Active() {
			activeTicks := snapshot.Tick - activation.StartedAtTick
			if activeTicks < 0 {
				activeTicks = 0
			}
			snapshot.ActiveToggles = append(snapshot.ActiveToggles, ActiveToggle{
				Actor:         activation.Actor.String(),
				Ability:       activation.Ability,
				StartedAtTick: activation.StartedAtTick,
				ActiveTicks:   activeTicks,
			})
		}
		sort.Slice(snapshot.ActiveToggles, func(i, j int) bool {
			a, b := snapshot.ActiveToggles[i], snapshot.ActiveToggles[j]
			if a.Ability != b.Ability {
				return a.Ability < b.Ability
			}
			return a.Actor < b.Actor
		})
	}
	if s.cfg.Router != nil {
		snapshot.Router = s.cfg.Router.Stats()
	}
	if s.cfg.Telemetry != nil {
		snapshot.Telemetry = s.cfg.Telemetry.Snapshot()
	}
	return snapshot
}

func (s *Server) Handler() nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, nethttp.StatusOK, s.Snapshot())
	})

	mux.HandleFunc("/intents", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if s.cfg.Intake == nil {
			httpError(w, "intake disabled", nethttp.StatusServiceUnavailable)
			return
		}
		defer r.Body.Close()
		var req castRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}
		intent, ok := req.intent()
		if !ok {
			httpError(w, "invalid actor or ability", nethttp.StatusBadRequest)
			return
		}
		if accepted, reason := s.cfg.Intake.Enqueue(intent); !accepted {
			writeJSON(w, nethttp.StatusTooManyRequests, intentRejectMessage{
				Type:   "intentReject",
				Seq:    req.Seq,
				Reason: reason,
				Retry:  reason == runtime.IntentRejectQueueLimit,
			})
			return
		}
		writeJSON(w, nethttp.StatusAccepted, intentAckMessage{Type: "intentAck", Seq: req.Seq, Tick: s.cfg.Intake.Tick()})
	})

	mux.HandleFunc("/journal", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if s.cfg.Journal == nil {
			httpError(w, "journal disabled", nethttp.StatusServiceUnavailable)
			return
		}
		actor := uuid.Nil
		if raw := r.URL.Query().Get("actor"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				httpError(w, "invalid actor", nethttp.StatusBadRequest)
				return
			}
			actor = parsed
		}
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				httpError(w, "invalid limit", nethttp.StatusBadRequest)
				return
			}
			limit = parsed
		}
		entries, err := s.cfg.Journal.RecentJournal(r.Context(), actor, limit)
		if err != nil {
			s.cfg.Logger.Printf("journal query failed: %v", err)
			httpError(w, "journal unavailable", nethttp.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []persist.JournalEntry{}
		}
		writeJSON(w, nethttp.StatusOK, struct {
			Entries []persist.JournalEntry `json:"entries"`
		}{Entries: entries})
	})

	mux.HandleFunc("/actors/", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if s.cfg.Actors == nil {
			httpError(w, "lifecycle disabled", nethttp.StatusServiceUnavailable)
			return
		}
		action := strings.TrimPrefix(r.URL.Path, "/actors/")
		defer r.Body.Close()
		var req struct {
			Actor string `json:"actor"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}
		actor, err := uuid.Parse(req.Actor)
		if err != nil || actor == uuid.Nil {
			httpError(w, "invalid actor", nethttp.StatusBadRequest)
			return
		}
		switch action {
		case "join":
			s.cfg.Actors.Join(actor)
		case "leave", "disconnect":
			s.cfg.Actors.Disconnect(actor)
		case "death":
			s.cfg.Actors.Death(actor)
		case "zone-change":
			s.cfg.Actors.ZoneChange(actor)
		default:
			httpError(w, "unknown action", nethttp.StatusNotFound)
			return
		}
		w.WriteHeader(nethttp.StatusAccepted)
	})

	if s.cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	mux.HandleFunc("/ws", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.cfg.Logger.Printf("diagnostics upgrade failed: %v", err)
			return
		}
		newStream(s, conn).serve(r.Context())
	})

	return mux
}

func (req castRequest) intent() (runtime.Intent, bool) {
	actor, err := uuid.Parse(req.Actor)
	if err != nil || actor == uuid.Nil || req.Ability == "" {
		return runtime.Intent{}, false
	}
	return runtime.Intent{
		Actor:      actor,
		Ability:    req.Ability,
		Scope:      req.Scope,
		Attributes: req.Attributes,
	}, true
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, message string, status int) {
	nethttp.Error(w, message, status)
}
