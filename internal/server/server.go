package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/truenorth/internal/admin"
	"github.com/victornm/truenorth/internal/api"
	"github.com/victornm/truenorth/internal/deck"
	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/event"
	"github.com/victornm/truenorth/internal/leaderboard"
	"github.com/victornm/truenorth/internal/notify"
	"github.com/victornm/truenorth/internal/player"
	"github.com/victornm/truenorth/internal/question"
	"github.com/victornm/truenorth/internal/session"
	"github.com/victornm/truenorth/internal/store"
	"github.com/victornm/truenorth/internal/store/memory"
	"github.com/victornm/truenorth/internal/store/postgres"
	"github.com/victornm/truenorth/internal/store/sqlite"
	"github.com/victornm/truenorth/internal/telemetry"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level  string
		Format string
	}

	Storage struct {
		Driver string
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	SQLite struct {
		Path string
	}

	Redis struct {
		// Empty disables the leaderboard cache and cross-instance notifications.
		Addrs  []string
		Pass   string
		Prefix string
	}

	Leaderboard struct {
		Timezone string
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	}

	Question struct {
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		// Catalog is a YAML file seeded into an empty question table. Empty means the
		// built-in catalog.
		Catalog string
		Seed    bool
	}

	Game struct {
		ShareText string `mapstructure:"share_text"`
	}

	Admin struct {
		Code string
	}
}

// DefaultConfig runs a single node on an in-memory store.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Storage.Driver = DriverMemory
	c.SQLite.Path = "truenorth.db"
	c.Redis.Prefix = "truenorth"
	c.Leaderboard.Timezone = "UTC"
	c.Leaderboard.CacheTTL = 30 * time.Second
	c.Question.CacheTTL = 30 * time.Second
	c.Question.Seed = true
	c.Game.ShareText = session.DefaultShareText
	return c
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.Postgres.User, c.Postgres.Pass, c.Postgres.Addr, c.Postgres.Name)
}

type Server struct {
	c Config

	eb  *event.Bus
	reg *prometheus.Registry

	infra struct {
		store store.Store
		redis redis.UniversalClient
	}

	service struct {
		questions   *question.Bank
		player      *player.Service
		session     *session.Service
		leaderboard *leaderboard.Service
		admin       *admin.Service
	}

	hub      *notify.Hub
	notifier *notify.Notifier

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	if err := telemetry.SetupLogger(os.Stdout, c.Log.Level, c.Log.Format); err != nil {
		return nil, fmt.Errorf("server: setup logger: %w", err)
	}

	s.eb = event.NewBus()

	s.reg = prometheus.NewRegistry()
	s.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetry.NewMetrics(s.reg, s.eb)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	s.infra.store, err = OpenStore(ctx, s.c)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if s.c.Question.Seed {
		if err := SeedQuestions(ctx, s.infra.store, s.c.Question.Catalog); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	if err := s.initRedis(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

func (s *Server) initRedis(ctx context.Context) error {
	if len(s.c.Redis.Addrs) == 0 {
		slog.InfoContext(ctx, "server: redis disabled, leaderboard cache off and notifications stay local")
		return nil
	}

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

// OpenStore connects the storage driver named in c.
func OpenStore(ctx context.Context, c Config) (store.Store, error) {
	switch c.Storage.Driver {
	case DriverPostgres:
		cc, err := pgxpool.ParseConfig(c.PostgresDSN())
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}

		return postgres.New(db), nil

	case DriverSQLite:
		return sqlite.Open(c.SQLite.Path)

	case DriverMemory, "":
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
}

// SeedQuestions loads the catalog at path, or the built-in one, into an empty question table.
func SeedQuestions(ctx context.Context, st store.Store, path string) error {
	qs, err := question.DefaultCatalog()
	if path != "" {
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer f.Close()

		qs, err = question.LoadCatalog(f)
	}
	if err != nil {
		return err
	}

	_, err = question.Seed(ctx, st, qs)
	return err
}

func (s *Server) initService() error {
	loc, err := time.LoadLocation(s.c.Leaderboard.Timezone)
	if err != nil {
		return fmt.Errorf("leaderboard timezone: %w", err)
	}

	s.service.questions = question.NewBank(question.Config{
		Store: s.infra.store,
		TTL:   s.c.Question.CacheTTL,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
		Redis:    s.infra.redis,
		Prefix:   s.c.Redis.Prefix,
		CacheTTL: s.c.Leaderboard.CacheTTL,
		Location: loc,
	})

	s.service.player = player.NewService(player.Config{
		Store: s.infra.store,
	})

	s.service.session = session.NewService(session.Config{
		Store:       s.infra.store,
		Deck:        deck.NewAssembler(deck.Config{Source: s.service.questions}),
		Leaderboard: s.service.leaderboard,
		EventBus:    s.eb,
		ShareText:   s.c.Game.ShareText,
	})

	s.service.admin = admin.NewService(admin.Config{
		Store:       s.infra.store,
		Leaderboard: s.service.leaderboard,
		Questions:   s.service.questions,
		Code:        s.c.Admin.Code,
	})
	if s.c.Admin.Code == "" {
		slog.Warn("server: admin code is empty, admin endpoints will reject every request")
	}

	return nil
}

func (s *Server) initAPI() {
	s.hub = notify.NewHub()
	telemetry.WatchClients(s.reg, s.hub.Count)

	cfg := notify.Config{
		EventBus: s.eb,
		Hub:      s.hub,
		Prefix:   s.c.Redis.Prefix,
	}
	if s.infra.redis != nil {
		cfg.Redis = s.infra.redis
	}
	s.notifier = notify.New(cfg)

	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinLogger())

	api.New(api.Config{
		Player:      s.service.player,
		Session:     s.service.session,
		Leaderboard: s.service.leaderboard,
		Admin:       s.service.admin,
		Hub:         s.hub,
	}).Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
}

// Start serves until Shutdown is called or a listener fails. Canceling ctx stops relaying
// notifications from other instances.
func (s *Server) Start(ctx context.Context) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return s.notifier.Relay(ctx)
	})

	slog.InfoContext(ctx, "server: started",
		"storage", s.c.Storage.Driver,
		"redis", s.infra.redis != nil,
		"today", s.service.leaderboard.Today(),
		"deck_size", domain.DeckSize,
	)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.hub.Close()
	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if err := s.infra.store.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close store failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
