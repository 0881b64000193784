package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/maestro/internal/common/config"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/events/bus"
	websocketgw "github.com/kandev/maestro/internal/gateway/websocket"
	"github.com/kandev/maestro/internal/tracing"

	messagehandlers "github.com/kandev/maestro/internal/message/handlers"
	messagerepo "github.com/kandev/maestro/internal/message/repository"
	messageservice "github.com/kandev/maestro/internal/message/service"

	projecthandlers "github.com/kandev/maestro/internal/project/handlers"
	projectrepo "github.com/kandev/maestro/internal/project/repository"
	projectservice "github.com/kandev/maestro/internal/project/service"

	queuehandlers "github.com/kandev/maestro/internal/queue/handlers"
	queuerepo "github.com/kandev/maestro/internal/queue/repository"
	queueservice "github.com/kandev/maestro/internal/queue/service"

	sessionhandlers "github.com/kandev/maestro/internal/session/handlers"
	sessionrepo "github.com/kandev/maestro/internal/session/repository"
	sessionservice "github.com/kandev/maestro/internal/session/service"
	"github.com/kandev/maestro/internal/session/spawn"

	taskhandlers "github.com/kandev/maestro/internal/task/handlers"
	taskrepo "github.com/kandev/maestro/internal/task/repository"
	taskservice "github.com/kandev/maestro/internal/task/service"

	teammemberhandlers "github.com/kandev/maestro/internal/teammember/handlers"
	teammemberrepo "github.com/kandev/maestro/internal/teammember/repository"
	teammemberservice "github.com/kandev/maestro/internal/teammember/service"

	"github.com/kandev/maestro/internal/events"
)

// Server owns every wired domain service plus the HTTP server that exposes
// them, and knows how to start and gracefully stop the whole process.
type Server struct {
	cfg    *config.Config
	logger *logger.Logger
	bus    bus.EventBus

	httpServer *http.Server
	hub        *websocketgw.Hub
	mcp        *mcpManager

	projectSub  bus.Subscription
	mcpWatchSub bus.Subscription

	sweeper *messageservice.Sweeper
}

// New wires every repository, service, and handler together and returns a
// Server ready to Run. Grounded on the teacher's cmd/kandev/main.go wiring
// order: config -> logger -> event bus -> repositories -> services -> HTTP.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("connecting to nats", zap.String("url", cfg.NATS.URL))
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		eventBus = natsBus
	} else {
		log.Info("using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// Repositories, one JSON-file subtree each under cfg.Data.Dir.
	projectRepo := projectrepo.New(cfg.Data.Dir, log)
	taskRepo := taskrepo.New(cfg.Data.Dir, log)
	teamMemberRepo := teammemberrepo.New(cfg.Data.Dir, log)
	sessionRepo := sessionrepo.New(cfg.Data.Dir, log)
	messageRepo := messagerepo.New(cfg.Data.Dir, log)
	queueRepo := queuerepo.New(cfg.Data.Dir, log)

	for name, init := range map[string]func() error{
		"projects":     projectRepo.Initialize,
		"tasks":        taskRepo.Initialize,
		"team members": teamMemberRepo.Initialize,
		"sessions":     sessionRepo.Initialize,
		"messages":     messageRepo.Initialize,
		"queues":       queueRepo.Initialize,
	} {
		if err := init(); err != nil {
			return nil, fmt.Errorf("initialize %s repository: %w", name, err)
		}
	}

	// Services. Constructors first, then the cross-domain Set* hooks, per
	// each package's "SetX must be called before Y" doc comment.
	projectSvc := projectservice.New(projectRepo, eventBus, log)
	taskSvc := taskservice.New(taskRepo, projectSvc, eventBus, log)
	teamMemberSvc := teammemberservice.New(teamMemberRepo, eventBus, log)
	sessionSvc := sessionservice.New(sessionRepo, eventBus, log)

	messageSvc := messageservice.New(messageRepo, &sessionLookup{sessions: sessionSvc}, eventBus, log, cfg.Message.RateLimitPerMinute, cfg.Message.TTL())
	messageSvc.SetNotifier(&timelineNotifier{sessions: sessionSvc})

	queueSvc := queueservice.New(queueRepo, taskSvc, eventBus, log)

	taskSvc.SetSessionUnlinker(sessionSvc)
	projectSvc.SetCascade(&projectCascade{
		tasks:       taskSvc,
		sessions:    sessionSvc,
		teamMembers: teamMemberSvc,
		messages:    messageSvc,
		queues:      queueSvc,
	})

	spawner := spawn.New(projectSvc, taskSvc, teamMemberSvc, sessionSvc, eventBus, log)

	mcp := newMCPManager(&mcpDependencies{
		tasks:    taskSvc,
		sessions: sessionSvc,
		messages: messageSvc,
		spawner:  spawner,
	}, log)
	spawner.SetMCPStarter(mcp)

	hub := websocketgw.NewHub(eventBus, log)

	srv := &Server{
		cfg:     cfg,
		logger:  log,
		bus:     eventBus,
		hub:     hub,
		mcp:     mcp,
		sweeper: messageservice.NewSweeper(messageSvc, cfg.Message.SweepIntervalSeconds),
	}

	projectSub, err := eventBus.Subscribe(events.BuildWildcardSubject("project"), func(ctx context.Context, evt *bus.Event) error {
		if evt.Type != events.ProjectCreated {
			return nil
		}
		projectID, _ := evt.Data["projectId"].(string)
		if projectID == "" {
			return nil
		}
		return teamMemberSvc.EnsureDefaults(ctx, projectID)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to project events: %w", err)
	}
	srv.projectSub = projectSub

	mcpWatchSub, err := mcp.watch(eventBus)
	if err != nil {
		return nil, fmt.Errorf("subscribe to session events for mcp lifecycle: %w", err)
	}
	srv.mcpWatchSub = mcpWatchSub

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	projecthandlers.NewHandler(projectSvc, log).Register(router)
	taskhandlers.NewHandler(taskSvc, log).Register(router)
	teammemberhandlers.NewHandler(teamMemberSvc, log).Register(router)
	queuehandlers.NewHandler(queueSvc).Register(router)
	messagehandlers.NewHandler(messageSvc).Register(router)

	sessionhandlers.NewHandler(sessionSvc, spawner, log, cfg.Spawn.DefaultTimeout()).Register(router)

	writeTimeout := cfg.Server.WriteTimeoutDuration()
	websocketgw.NewHandler(hub, writeTimeout, log).Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "maestro"})
	})

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	return srv, nil
}

// Handler returns the assembled HTTP handler without binding a listener,
// for tests that want to drive the API through httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Hub exposes the WebSocket hub so tests can start it directly instead of
// going through Run's full lifecycle.
func (s *Server) Hub() *websocketgw.Hub {
	return s.hub
}

// Run starts tracing, the event hub, the message sweeper, and the HTTP
// server, blocking until ctx is cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if err := tracing.Init(ctx, s.cfg.Tracing); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go func() {
		if err := s.hub.Run(hubCtx); err != nil {
			s.logger.Error("websocket hub stopped", zap.Error(err))
		}
	}()

	if s.cfg.Message.SweepIntervalSeconds > 0 {
		if err := s.sweeper.Start(s.cfg.Message.SweepIntervalSeconds); err != nil {
			return fmt.Errorf("start message sweeper: %w", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("maestro listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown stops every background component. Safe to call more than once,
// after Run has been cancelled or has errored.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.httpServer.Shutdown(shutdownCtx))

	s.sweeper.Stop()

	if s.projectSub != nil {
		record(s.projectSub.Unsubscribe())
	}
	if s.mcpWatchSub != nil {
		record(s.mcpWatchSub.Unsubscribe())
	}

	record(tracing.Shutdown(shutdownCtx))

	if closer, ok := s.bus.(interface{ Close() }); ok {
		closer.Close()
	}

	s.logger.Info("maestro stopped")
	return firstErr
}

// corsMiddleware allows any origin to reach the REST API and the WebSocket
// upgrade, matching the teacher's permissive single-deployment posture.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
