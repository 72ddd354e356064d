package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nitesh/meal_match/internal/api"
	"github.com/nitesh/meal_match/internal/auth"
	"github.com/nitesh/meal_match/internal/config"
	"github.com/nitesh/meal_match/internal/lock"
	"github.com/nitesh/meal_match/internal/logger"
	"github.com/nitesh/meal_match/internal/reports"
	"github.com/nitesh/meal_match/internal/service"
	"github.com/nitesh/meal_match/internal/store"
	"github.com/nitesh/meal_match/internal/upload"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "meal-match",
		Short:        "Match donor meals with nearby informer reports",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createMigrateCmd())
	rootCmd.AddCommand(createSweepCmd())
	rootCmd.AddCommand(createTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

// openDB connects and waits for postgres, which may still be starting in docker.
func openDB(ctx context.Context, cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		log.Warn("waiting for db", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("could not connect to db: %w", err)
}

// newLocker returns a redis run lock, or a no-op lock when redis is not
// configured or unreachable.
func newLocker(ctx context.Context, cfg *config.Config, log *logger.Logger) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, matching runs are not locked")
		return lock.Nop{}, func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed, matching runs are not locked", "addr", cfg.RedisAddr, "error", err)
		_ = rdb.Close()
		return lock.Nop{}, func() {}
	}
	return lock.NewRedisLocker(rdb, "meal_match:lock:", uuid.NewString), func() { _ = rdb.Close() }
}

func newUploadStorage(ctx context.Context, cfg *config.Config) (upload.Storage, string, error) {
	if cfg.UploadBackend == config.UploadS3 {
		s, err := upload.NewS3Storage(ctx, upload.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
		return s, "", err
	}
	s := upload.NewLocalStorage(cfg.UploadDir)
	return s, s.Dir(), nil
}

func newMatchService(cfg *config.Config, pg *store.PgStore, candidates service.CandidateSource, locker lock.Locker, log *logger.Logger) *service.Service {
	return service.NewService(pg, pg, candidates, service.Options{
		Location:    cfg.Location,
		PerRowSweep: cfg.SweepMode == config.SweepRow,
		Locker:      locker,
		Log:         log,
	})
}

func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDB(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.RunMigrations(db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			pg := store.NewPgStore(db)

			locker, closeLocker := newLocker(ctx, cfg, log)
			defer closeLocker()

			var candidates service.CandidateSource = pg
			if cfg.InformerSourceURL != "" {
				candidates = reports.NewClient(cfg.InformerSourceURL, nil, log)
				log.Info("listing informers from remote source", "url", cfg.InformerSourceURL)
			}

			files, uploadDir, err := newUploadStorage(ctx, cfg)
			if err != nil {
				return err
			}

			svc := newMatchService(cfg, pg, candidates, locker, log)
			if cfg.SweepInterval > 0 {
				sched, err := svc.StartSweepScheduler(cfg.SweepInterval)
				if err != nil {
					return fmt.Errorf("start sweep scheduler: %w", err)
				}
				defer func() { _ = sched.Shutdown() }()
			}

			if cfg.LogMode == "prod" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := gin.New()
			router.Use(gin.Recovery(), api.RequestLogger(log), api.CORS(cfg.CORSOrigins))
			handler := api.NewHandler(svc, service.NewReports(pg, files, log), pg, log)
			api.RegisterRoutes(router, handler, auth.New(cfg.JWTSecret, cfg.JWTTTL), uploadDir)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func createMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			db, err := openDB(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.RunMigrations(db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func createSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale and delivered matches once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			if err := cfg.ValidateSweep(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			db, err := openDB(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()
			pg := store.NewPgStore(db)

			n, err := newMatchService(cfg, pg, pg, lock.Nop{}, log).SweepStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d stale matches\n", n)
			return nil
		},
	}
}

func createTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [subject]",
		Short: "Print a bearer token for local use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}
			tok, err := auth.New(cfg.JWTSecret, cfg.JWTTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}
