package server

import (
	"context"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/internal/api/consumer"
	"github.com/Zereker/social/internal/api/http"
	"github.com/Zereker/social/internal/api/mcp"
	"github.com/Zereker/social/internal/api/ws"
	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/memstore"
	"github.com/Zereker/social/internal/presence"
	"github.com/Zereker/social/internal/relationship"
	"github.com/Zereker/social/internal/view"
	"github.com/Zereker/social/pkg/graph"
	"github.com/Zereker/social/pkg/log"
	"github.com/Zereker/social/pkg/mq"
	"github.com/Zereker/social/pkg/redis"
	"github.com/Zereker/social/pkg/relation"
)

// Version 服务版本，MCP initialize 时返回
const Version = "0.1.0"

// backend 关系边、用户目录与会话镜像的存储组合
type backend struct {
	edges    domain.EdgeRepository
	users    domain.UserDirectory
	sessions domain.SessionRepository
	putUser  func(ctx context.Context, u domain.User) error
	close    func(ctx context.Context) error
}

// Server represents the social server
type Server struct {
	config   Config
	logger   *slog.Logger
	backend  backend
	queue    mq.MessageQueue
	friends  *action.Friends
	gateway  *ws.Gateway
	consumer *consumer.Consumer
}

// NewServer creates a new server with the given configuration
func NewServer(conf Config) (*Server, error) {
	server := &Server{
		config: conf,
	}

	if err := server.initDepend(); err != nil {
		return nil, errors.WithMessage(err, "init server dependency failed")
	}

	if err := server.initFriends(); err != nil {
		return nil, errors.WithMessage(err, "init friends failed")
	}

	if err := server.initConsumer(); err != nil {
		return nil, errors.WithMessage(err, "init consumer failed")
	}

	return server, nil
}

// initDepend initializes all dependencies
func (s *Server) initDepend() error {
	// Initialize log first
	if err := log.Init(s.config.Log); err != nil {
		return errors.WithMessage(err, "failed to init log")
	}

	// Create logger for this module
	s.logger = log.Logger("server")
	s.logger.Info("initializing dependencies", "backend", s.config.Graph.Backend)

	ctx := context.Background()

	if err := s.initBackend(ctx); err != nil {
		return err
	}

	// Redis 开启时会话镜像落到 Redis，否则沿用后端存储
	s.logger.Info("initializing redis")
	if err := redis.Init(s.config.Redis); err != nil {
		return errors.WithMessage(err, "failed to init redis")
	}
	if client := redis.Client(); client != nil {
		s.backend.sessions = redis.NewSessionStore(client, s.config.Redis.KeyPrefix)
	}

	// Initialize Kafka message queue
	s.logger.Info("initializing message queue")
	if err := mq.Init(s.config.Kafka); err != nil {
		return errors.WithMessage(err, "failed to init message queue")
	}
	if producer := mq.NewQueue(); producer != nil {
		s.queue = producer
	} else {
		s.queue = mq.NewInMemoryQueue()
	}

	for _, seed := range s.config.Graph.Users {
		if err := s.backend.putUser(ctx, seed.User()); err != nil {
			return errors.WithMessagef(err, "failed to seed user %s", seed.ID)
		}
	}
	if n := len(s.config.Graph.Users); n > 0 {
		s.logger.Info("seeded users", "count", n)
	}

	return nil
}

// initBackend opens the configured edge and user store
func (s *Server) initBackend(ctx context.Context) error {
	switch s.config.Graph.Backend {
	case BackendSQLite:
		s.logger.Info("initializing sqlite store", "path", s.config.SQLite.Path)
		if err := relation.Init(s.config.SQLite); err != nil {
			return errors.WithMessage(err, "failed to init sqlite store")
		}
		store := relation.NewStore()
		s.backend = backend{edges: store, users: store, sessions: store, putUser: store.PutUser, close: relation.Close}

	case BackendNeo4j:
		s.logger.Info("initializing graph store")
		if err := graph.Init(s.config.Neo4j); err != nil {
			return errors.WithMessage(err, "failed to init graph store")
		}
		repo := graph.NewRepository(graph.NewStore())
		if err := repo.EnsureSchema(ctx); err != nil {
			return errors.WithMessage(err, "failed to ensure graph schema")
		}
		// neo4j 不保存会话，需配合 redis
		s.backend = backend{edges: repo, users: repo, putUser: repo.PutUser, close: graph.Close}

	default:
		s.logger.Warn("using in-memory store, data is lost on restart")
		store := memstore.New()
		s.backend = backend{
			edges:    store,
			users:    store,
			sessions: store,
			putUser: func(_ context.Context, u domain.User) error {
				store.PutUser(u)
				return nil
			},
		}
	}
	return nil
}

// initFriends builds the relationship engine
func (s *Server) initFriends() error {
	s.logger.Info("initializing friends")

	engine := s.config.Engine
	nodeID := engine.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}
	timeout := durationOr(engine.PersistTimeout, 0)

	store := relationship.NewStore(s.backend.edges, relationship.Options{PersistTimeout: timeout})
	registry := presence.NewRegistry(s.backend.sessions, presence.Options{
		NodeID:         nodeID,
		PersistTimeout: timeout,
	})

	// 上次崩溃遗留的会话必须在接受连接前清理
	if _, err := registry.PurgeNode(context.Background()); err != nil {
		return errors.WithMessage(err, "failed to purge stale sessions")
	}

	s.friends = action.NewFriends(action.Options{
		Store:       store,
		Views:       view.NewFactory(store, registry, s.backend.users),
		Presence:    registry,
		Users:       s.backend.users,
		Queue:       s.queue,
		EventsTopic: s.config.Kafka.EventsTopic,
		RateLimit:   rate.Limit(engine.RateLimit),
		RateBurst:   engine.RateBurst,
	})
	s.gateway = ws.NewGateway(s.friends, s.config.WS.Gateway())
	return nil
}

// initConsumer initializes the command consumer
func (s *Server) initConsumer() error {
	s.logger.Info("initializing consumer")

	cfg := consumer.Config{Kafka: s.config.Kafka}
	if local, ok := s.queue.(*mq.InMemoryQueue); ok {
		cfg.Local = local
	}

	c, err := consumer.NewConsumer(s.friends, cfg)
	if err != nil {
		return errors.WithMessage(err, "failed to create consumer")
	}

	s.consumer = c
	return nil
}

// Friends returns the relationship engine.
func (s *Server) Friends() *action.Friends {
	return s.friends
}

// Start starts the server based on configuration mode
func (s *Server) Start() error {
	s.logger.Info("starting", "mode", s.config.Server.Mode, "port", s.config.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			s.logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.Run(ctx)
}

// Run serves until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	var runners []func(context.Context) error
	switch s.config.Server.Mode {
	case "http":
		runners = append(runners, s.runHTTPServer)
	case "mcp":
		runners = append(runners, s.runMCPServer)
	case "both":
		runners = append(runners, s.runHTTPServer, s.runMCPServer)
	default:
		return errors.Errorf("unknown mode: %s", s.config.Server.Mode)
	}

	g, ctx := errgroup.WithContext(ctx)

	if s.consumer != nil {
		g.Go(func() error {
			return s.runConsumer(ctx)
		})
	}

	for _, run := range runners {
		g.Go(func() error {
			return run(ctx)
		})
	}

	return g.Wait()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先断开连接，离线事件仍可写入会话镜像
	if s.gateway != nil {
		s.gateway.Close()
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
		}
	}

	if p, ok := s.queue.(*mq.KafkaProducer); ok {
		if err := p.Close(); err != nil {
			s.logger.Error("failed to close producer", "error", err)
		}
	}

	if s.backend.close != nil {
		if err := s.backend.close(ctx); err != nil {
			s.logger.Error("failed to close store", "backend", s.config.Graph.Backend, "error", err)
		}
	}

	if s.config.Redis.Enabled {
		if err := redis.Close(); err != nil {
			s.logger.Error("failed to close redis", "error", err)
		}
	}

	return nil
}

func (s *Server) runHTTPServer(ctx context.Context) error {
	serverCfg := http.DefaultServerConfig()
	if s.config.Server.Host != "" {
		serverCfg.Host = s.config.Server.Host
	}
	serverCfg.Port = s.config.Server.Port
	serverCfg.ReadTimeout = durationOr(s.config.Server.ReadTimeout, serverCfg.ReadTimeout)
	serverCfg.WriteTimeout = durationOr(s.config.Server.WriteTimeout, serverCfg.WriteTimeout)

	srv := http.NewServer(s.friends, s.gateway, serverCfg)

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return errors.WithMessage(err, "http server error")
	}
	return nil
}

func (s *Server) runMCPServer(ctx context.Context) error {
	server := mcp.NewServer(s.friends, mcp.ServerConfig{
		Name:    "social",
		Version: Version,
	})

	if err := server.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, "mcp server error")
	}
	return nil
}

func (s *Server) runConsumer(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return errors.WithMessage(err, "consumer start error")
	}

	// Wait for context cancellation
	<-ctx.Done()

	return s.consumer.Stop()
}
