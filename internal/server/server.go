package server

import (
	"crypto/tls"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go/http3"

	"github.com/neo/debatematch_backend/internal/clock"
	"github.com/neo/debatematch_backend/internal/dedupe"
	"github.com/neo/debatematch_backend/internal/logging"
	"github.com/neo/debatematch_backend/internal/match"
	"github.com/neo/debatematch_backend/internal/room"
	"github.com/neo/debatematch_backend/internal/session"
	"github.com/neo/debatematch_backend/internal/store"
	"github.com/neo/debatematch_backend/internal/transport"
	"github.com/neo/debatematch_backend/internal/types"
)

// Server is the composition root: it owns every long-lived collaborator
// (transport hub, session coordinator, room registry, store gateway,
// judge client) and the set of currently-running matches, and wires them
// together behind one gin.Engine.
type Server struct {
	cfg      Config
	router   *gin.Engine
	hub      *transport.Hub
	coord    *session.Coordinator
	registry *room.Registry
	gateway  store.Gateway
	judge    match.JudgeEvaluator
	dedup    *dedupe.Deduper
	clockSrc clock.Clock

	mu      sync.Mutex
	matches map[string]*match.Match
}

// New builds a Server around an already-open Store Gateway and Judge
// Client. Routes and middleware are installed but listening does not
// start until Run is called.
func New(cfg Config, gateway store.Gateway, judgeClient match.JudgeEvaluator) *Server {
	s := &Server{
		cfg:      cfg,
		registry: room.NewRegistry(),
		gateway:  gateway,
		judge:    judgeClient,
		dedup:    dedupe.New(),
		clockSrc: clock.New(),
		matches:  make(map[string]*match.Match),
	}

	s.hub = transport.New(s.handleEnvelope, s.handleDisconnect)
	s.coord = session.New(s.hub)

	s.router = gin.New()
	s.router.Use(RequestIDMiddleware(), RecoveryMiddleware(), LoggingMiddleware(), ErrorHandler(), s.corsMiddleware())

	s.router.GET("/ws/match", s.serveWS)
	s.router.GET("/api/subjects", s.handleSubjectsREST)
	s.router.GET("/healthz", s.handleHealthz)

	return s
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	origins := s.cfg.CORSOrigins
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowOrigin(origins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func allowOrigin(origins []string, origin string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) serveWS(c *gin.Context) {
	connID := uuid.NewString()
	s.hub.ServeWS(c.Writer, c.Request, connID)
}

func (s *Server) handleSubjectsREST(c *gin.Context) {
	subjects, err := store.Subjects(s.gateway)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjectsView(subjects)})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDisconnect(connID string) {
	s.coord.Unbind(connID)
	s.dedup.DropConnection(connID)
}

// Run starts listening, serving HTTP/1.1 and, when TLS material is
// configured, HTTP/3 over the same address simultaneously.
func (s *Server) Run() error {
	addr := ":" + s.cfg.Port
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		return s.runHTTPS(addr)
	}
	return s.runHTTP(addr)
}

func (s *Server) runHTTP(addr string) error {
	logging.Info("starting HTTP server", map[string]interface{}{"addr": addr})
	return s.router.Run(addr)
}

func (s *Server) runHTTPS(addr string) error {
	logging.Info("starting HTTPS server with HTTP/3 support", map[string]interface{}{"addr": addr})

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
		TLSConfig: &tls.Config{
			NextProtos: []string{"h3", "http/1.1"},
		},
	}

	http3Srv := &http3.Server{
		Addr:      addr,
		Handler:   s.router,
		TLSConfig: srv.TLSConfig,
	}

	go func() {
		if err := http3Srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP/3 server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	return srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
}

func (s *Server) matchFor(roomID string) (*match.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[roomID]
	return m, ok
}

// startMatch builds a Match for a room whose ToggleReady call just
// returned justStarted=true, and registers it so future events route to
// it until it tears itself down.
func (s *Server) startMatch(r *room.Room) {
	var agreeP, disagreeP, refereeP *room.Participant
	for _, p := range r.Participants {
		switch {
		case p.Role == types.RoleReferee:
			refereeP = p
		case p.Position == types.PositionAgree:
			agreeP = p
		case p.Position == types.PositionDisagree:
			disagreeP = p
		}
	}
	if agreeP == nil || disagreeP == nil {
		logging.Error("battle started without both positions resolved", map[string]interface{}{"room_id": r.RoomID})
		return
	}

	agree := match.Player{UserID: agreeP.UserID, DisplayName: agreeP.DisplayName, Position: agreeP.Position}
	disagree := match.Player{UserID: disagreeP.UserID, DisplayName: disagreeP.DisplayName, Position: disagreeP.Position}

	refereeUserID := ""
	if refereeP != nil {
		refereeUserID = refereeP.UserID
	}

	m := match.New(r.RoomID, r.Subject, agree, disagree, refereeP != nil, refereeUserID, s.clockSrc, s.coord, s.gateway, s.judge, s.onMatchTerminal)

	s.mu.Lock()
	s.matches[r.RoomID] = m
	s.mu.Unlock()

	s.coord.Broadcast(r.RoomID, "battle_start", roomView(r))
}

func (s *Server) onMatchTerminal(roomID string) {
	s.mu.Lock()
	delete(s.matches, roomID)
	s.mu.Unlock()

	if r, ok := s.registry.Get(roomID); ok {
		r.IsCompleted = true
		s.coord.Broadcast(roomID, "room_state_updated", roomView(r))
	}
}
