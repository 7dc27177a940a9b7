package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/slapchain/oracled/internal/api"
	"github.com/slapchain/oracled/internal/bridge"
	"github.com/slapchain/oracled/internal/config"
	"github.com/slapchain/oracled/internal/corruption"
	"github.com/slapchain/oracled/internal/ingest"
	"github.com/slapchain/oracled/internal/model"
)

const maxEventBodyBytes = 64 << 10

// Server exposes the daemon surface: telemetry ingest, the detached-window
// websocket, wallet updates, dock/undock actions, and read-only state views.
type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	pipeline *ingest.Pipeline
	bridge   *bridge.Bridge
	store    *corruption.Store
	upgrader websocket.Upgrader

	httpSrv  *http.Server
	mu       sync.Mutex
	listener net.Listener
	shutdown sync.Once
}

func NewServer(cfg config.Config, pipeline *ingest.Pipeline, br *bridge.Bridge, store *corruption.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("daemon"),
		pipeline: pipeline,
		bridge:   br,
		store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The detached window is a same-origin popup the bridge itself
			// spawned; its provenance is the session token, not the Origin
			// header, so cross-origin upgrades are allowed here and filtered
			// by token instead.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/events", s.eventsHandler)
	mux.HandleFunc("/v1/channel", s.channelHandler)
	mux.HandleFunc("/v1/wallet", s.walletHandler)
	mux.HandleFunc("/v1/dock", s.dockHandler)
	mux.HandleFunc("/v1/undock", s.undockHandler)
	mux.HandleFunc("/v1/players/", s.playerHandler)
	mux.HandleFunc("/v1/status", s.statusHandler)
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdown.Do(func() {
		err = s.httpSrv.Shutdown(ctx)
	})
	return err
}

// Addr returns the bound listen address, for tests using port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
	})
}

// eventsHandler ingests telemetry on the embedded channel path. Provenance
// comes from headers so the body stays exactly the shared wire format.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	channel := model.Channel(strings.TrimSpace(r.Header.Get(api.HeaderChannel)))
	if channel == "" {
		channel = model.ChannelEmbedded
	}
	token := strings.TrimSpace(r.Header.Get(api.HeaderSourceToken))
	if err := s.bridge.ValidateInbound(channel, token); err != nil {
		s.pipeline.MarkProvenanceRejected()
		s.writeError(w, http.StatusForbidden, model.ErrProvenanceRejected, "message source rejected")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrParse, "unreadable request body")
		return
	}
	if err := s.pipeline.Ingest(r.Context(), raw, channel); err != nil {
		if errors.Is(err, ingest.ErrParse) {
			s.writeError(w, http.StatusBadRequest, model.ErrParse, "malformed event message")
			return
		}
		s.writeError(w, http.StatusInternalServerError, model.ErrUnavailable, "ingest failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.IngestAck{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Accepted:      true,
	})
}

// channelHandler upgrades the detached window's websocket and runs its read
// pump. The token minted at undock is the provenance handle.
func (s *Server) channelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if err := s.bridge.BindDetached(token, conn); err != nil {
		s.pipeline.MarkProvenanceRejected()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "source rejected"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	go s.detachedReadPump(conn, token)
}

func (s *Server) detachedReadPump(conn *websocket.Conn, token string) {
	defer s.bridge.DetachedGone(token)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Token is revalidated per message: a dock/undock cycle invalidates
		// the old window's handle even while its socket drains.
		if err := s.bridge.ValidateInbound(model.ChannelDetached, token); err != nil {
			s.pipeline.MarkProvenanceRejected()
			continue
		}
		if err := s.pipeline.Ingest(context.Background(), raw, model.ChannelDetached); err != nil {
			continue
		}
	}
}

func (s *Server) walletHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.WalletUpdateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrParse, "invalid request body")
		return
	}
	s.bridge.SetIdentity(model.WalletIdentity{
		Connected: req.Connected,
		Address:   strings.TrimSpace(req.Address),
	})
	s.writeJSON(w, http.StatusOK, api.IngestAck{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Accepted:      true,
	})
}

func (s *Server) dockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.bridge.Dock()
	s.writeJSON(w, http.StatusOK, api.DockResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		ActiveChannel: string(s.bridge.State().Active),
	})
}

func (s *Server) undockHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	token := s.bridge.Undock()
	s.writeJSON(w, http.StatusOK, api.UndockResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		ChannelToken:  token,
		ChannelPath:   "/v1/channel?token=" + token,
	})
}

func (s *Server) playerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	playerID := strings.TrimPrefix(r.URL.Path, "/v1/players/")
	if playerID == "" || strings.Contains(playerID, "/") {
		s.writeError(w, http.StatusNotFound, model.ErrNotFound, "unknown player path")
		return
	}
	st := s.store.Get(playerID)
	resp := api.PlayerStateResponse{
		SchemaVersion:   api.SchemaVersion,
		GeneratedAt:     time.Now().UTC(),
		PlayerID:        st.PlayerID,
		CorruptionLevel: st.CorruptionLevel,
		PersonalityTier: string(st.PersonalityTier),
		TotalEventsSeen: st.TotalEventsSeen,
	}
	if !st.LastUpdatedAt.IsZero() {
		v := st.LastUpdatedAt.UTC().Format(time.RFC3339Nano)
		resp.LastUpdatedAt = &v
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	st := s.bridge.State()
	s.writeJSON(w, http.StatusOK, api.StatusEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Channel: api.ChannelStatus{
			ActiveChannel:   string(st.Active),
			EmbeddedReady:   st.EmbeddedReady,
			DetachedReady:   st.DetachedReady,
			WalletConnected: st.MirroredIdentity.Connected,
			WalletAddress:   st.MirroredIdentity.Address,
		},
		Pipeline:     s.pipeline.Counters(),
		KnownPlayers: s.store.Len(),
	})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrMethodNotAllowed, "method not allowed")
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error:         api.APIError{Code: code, Message: message},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", zap.Error(err))
	}
}
