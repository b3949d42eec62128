package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/sharegate/internal/config"
	"github.com/xxxsen/sharegate/internal/db"
	"github.com/xxxsen/sharegate/internal/denycache"
	"github.com/xxxsen/sharegate/internal/handler"
	"github.com/xxxsen/sharegate/internal/identity"
	"github.com/xxxsen/sharegate/internal/job"
	"github.com/xxxsen/sharegate/internal/middleware"
	"github.com/xxxsen/sharegate/internal/pkg/sharetoken"
	"github.com/xxxsen/sharegate/internal/repo"
	"github.com/xxxsen/sharegate/internal/schedule"
	"github.com/xxxsen/sharegate/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sharegate",
		Short: "sharegate share server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run sharegate server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			return runServer(cfg, conn)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(context.Background()).Info("migrations applied")
			return nil
		},
	}

	var jobName string
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "run the cleanup jobs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			scheduler, err := newScheduler(cfg, conn, false)
			if err != nil {
				return err
			}
			names := scheduler.Names()
			if jobName != "" {
				names = []string{jobName}
			}
			for _, name := range names {
				if err := scheduler.RunNow(cmd.Context(), name); err != nil {
					return fmt.Errorf("run %s: %w", name, err)
				}
			}
			return nil
		},
	}
	cleanupCmd.Flags().StringVar(&jobName, "job", "", "run only this job")

	rootCmd.AddCommand(runCmd, migrateCmd, cleanupCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

// bootstrap loads the config, initializes logging and opens a migrated
// database.
func bootstrap(configPath string) (*config.Config, *db.DB, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		cfg.LogConfig.FileCount,
		cfg.LogConfig.FileSize,
		cfg.LogConfig.KeepDays,
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return cfg, conn, nil
}

func newScheduler(cfg *config.Config, conn *db.DB, scheduled bool) (*schedule.CronScheduler, error) {
	scheduler := schedule.NewCronScheduler()
	shareSpec, reverseSpec := "", ""
	if scheduled {
		shareSpec, reverseSpec = cfg.Cleanup.ShareCron, cfg.Cleanup.ReverseShareCron
	}
	if err := scheduler.AddJob(job.NewShareCleanupJob(repo.NewShareRepo(conn), cfg.Cleanup.Retention), shareSpec); err != nil {
		return nil, err
	}
	if err := scheduler.AddJob(job.NewReverseShareCleanupJob(repo.NewReverseShareRepo(conn), cfg.Cleanup.Retention), reverseSpec); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func runServer(cfg *config.Config, conn *db.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("deny_cache", cfg.DenyCache.Type),
		zap.Bool("allow_unauthenticated_shares", cfg.Share.AllowUnauthenticatedShares),
	)

	userRepo := repo.NewUserRepo(conn)
	shareRepo := repo.NewShareRepo(conn)
	fileRepo := repo.NewShareFileRepo(conn)
	reverseRepo := repo.NewReverseShareRepo(conn)

	cache, err := denycache.New(cfg.DenyCache)
	if err != nil {
		return fmt.Errorf("init deny cache: %w", err)
	}
	viewTokens := sharetoken.NewCodec([]byte(cfg.Share.TokenSecret), cfg.Share.AccessTokenTTL)
	uploadTokens := sharetoken.NewCodec([]byte("upload:"+cfg.Share.TokenSecret), cfg.Share.AccessTokenTTL)

	var notifier *service.Notifier
	if cfg.SMTP.Enabled {
		notifier = service.NewNotifier(userRepo, service.NewEmailSender(cfg.SMTP), cfg.PublicURL)
	}
	authService := service.NewAuthService(userRepo, []byte(cfg.JWTSecret), cfg.JWTTTL)
	accessService := service.NewAccessService(shareRepo, fileRepo, viewTokens, service.WithDenyCache(cache))
	reverseService := service.NewReverseShareService(reverseRepo, shareRepo, service.ReverseSharePolicy{
		MaxExpiration: cfg.Share.MaxExpiration,
		SMTPEnabled:   cfg.SMTP.Enabled,
	}, service.WithDenyCache(cache))
	shareService := service.NewShareService(shareRepo, fileRepo, reverseRepo, reverseService, uploadTokens,
		notifier, cfg.Share.MaxExpiration)

	deps := handler.RouterDeps{
		Auth:                       handler.NewAuthHandler(authService),
		Shares:                     handler.NewShareHandler(shareService, accessService, cfg.SecureCookie),
		ReverseShares:              handler.NewReverseShareHandler(reverseService),
		Properties:                 handler.NewPropertiesHandler(cfg.Properties()),
		Resolver:                   identity.NewResolver([]byte(cfg.JWTSecret)),
		AllowUnauthenticatedShares: cfg.Share.AllowUnauthenticatedShares,
		TokenRateLimit:             cfg.RateLimit,
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := newScheduler(cfg, conn, true)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
