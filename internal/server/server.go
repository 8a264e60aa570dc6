package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bchewy/canyoubeatgroq/internal/api"
	"github.com/bchewy/canyoubeatgroq/internal/event"
	"github.com/bchewy/canyoubeatgroq/internal/history"
	"github.com/bchewy/canyoubeatgroq/internal/judge"
	"github.com/bchewy/canyoubeatgroq/internal/leaderboard"
	"github.com/bchewy/canyoubeatgroq/internal/round"
	"github.com/bchewy/canyoubeatgroq/internal/solver"
	"github.com/bchewy/canyoubeatgroq/internal/telemetry"
	"github.com/bchewy/canyoubeatgroq/internal/token"
	"github.com/bchewy/canyoubeatgroq/internal/typeracer"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		History struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Round struct {
		Secret string
	}

	Solver struct {
		GroqAPIKey   string
		OpenAIAPIKey string
		GeminiAPIKey string
		FallbackMs   int64
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			history *pgxpool.Pool
		}
	}

	service struct {
		solver      *solver.Service
		round       *round.Service
		judge       *judge.Service
		typeracer   *typeracer.Service
		leaderboard *leaderboard.Service
		history     *history.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := s.c.Postgres.History
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", h.User, h.Pass, h.Addr, h.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres.history = db
	return nil
}

func (s *Server) initService() {
	s.service.solver = solver.NewService(solver.Config{
		GroqAPIKey:   s.c.Solver.GroqAPIKey,
		OpenAIAPIKey: s.c.Solver.OpenAIAPIKey,
		GeminiAPIKey: s.c.Solver.GeminiAPIKey,
		FallbackMs:   s.c.Solver.FallbackMs,
	})

	s.service.history = history.NewService(history.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres.history,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.round = round.NewService(round.Config{
		Codec:       token.NewCodec(s.c.Round.Secret),
		Solver:      s.service.solver,
		Leaderboard: s.service.leaderboard,
		EventBus:    s.eb,
	})

	s.service.judge = judge.NewService(s.service.solver)

	s.service.typeracer = typeracer.NewService(typeracer.Config{
		Racer:    s.service.solver,
		Board:    s.service.leaderboard,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Round:        s.service.round,
		Solver:       s.service.solver,
		Judge:        s.service.judge,
		TypeRacer:    s.service.typeracer,
		Board:        s.service.leaderboard,
		Stats:        s.service.history,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.history.Close()
	_ = s.infra.redis.leaderboard.Close()
	_ = s.infra.redis.pubsub.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
