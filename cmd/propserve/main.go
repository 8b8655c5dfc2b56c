package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PropServe/app/controllers"
	"github.com/ManuelReschke/PropServe/app/repository"
	"github.com/ManuelReschke/PropServe/internal/pkg/cache"
	"github.com/ManuelReschke/PropServe/internal/pkg/constants"
	"github.com/ManuelReschke/PropServe/internal/pkg/database"
	"github.com/ManuelReschke/PropServe/internal/pkg/env"
	"github.com/ManuelReschke/PropServe/internal/pkg/gateway"
	"github.com/ManuelReschke/PropServe/internal/pkg/hcaptcha"
	"github.com/ManuelReschke/PropServe/internal/pkg/health"
	"github.com/ManuelReschke/PropServe/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PropServe/internal/pkg/mail"
	"github.com/ManuelReschke/PropServe/internal/pkg/ratelimit"
	"github.com/ManuelReschke/PropServe/internal/pkg/registration"
	"github.com/ManuelReschke/PropServe/internal/pkg/router"
	"github.com/ManuelReschke/PropServe/internal/pkg/s3backup"
	"github.com/ManuelReschke/PropServe/internal/pkg/security"
	"github.com/ManuelReschke/PropServe/internal/pkg/staging"
)

func main() {
	app, manager := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Printf("Shutting down...")
		manager.Stop()
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication wires the registration pipeline and starts the background
// workers. The caller stops the returned manager on shutdown.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalFactory().GetRepositories()

	gw, err := gateway.NewFromEnv()
	if err != nil {
		log.Fatalf("Payment gateway: %v", err)
	}
	tokens, err := security.NewTokenServiceFromEnv()
	if err != nil {
		log.Fatalf("Session tokens: %v", err)
	}

	var captcha controllers.CaptchaVerifier
	if v, err := hcaptcha.NewFromEnv(); err != nil {
		log.Fatalf("hCaptcha: %v", err)
	} else if v != nil {
		captcha = v
	}

	var store staging.Store
	var locker registration.Locker
	switch backend := env.GetEnv("STAGING_BACKEND", "redis"); backend {
	case "memory":
		log.Printf("Staging backend: memory (single instance only)")
		store = staging.NewMemoryStore()
		locker = registration.NewMemoryLocker()
	case "redis":
		store = staging.NewRedisStore(cache.GetClient(), env.GetEnv("STAGING_KEY_PREFIX", staging.DefaultKeyPrefix))
		locker = registration.NewRedisLocker(cache.GetClient())
	default:
		log.Fatalf("Unknown STAGING_BACKEND %q", backend)
	}

	// background jobs: welcome mail and the optional S3 document mirror
	manager := jobqueue.GetManager()
	queue := manager.GetQueue()
	jobDeps := jobqueue.Deps{Accounts: repos.Account, SendMail: mail.SendMail}
	var backup *s3backup.Client
	backupCfg, err := s3backup.LoadConfig()
	if err != nil {
		log.Fatalf("S3 backup: %v", err)
	}
	if backupCfg.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		client, err := s3backup.NewClient(ctx, backupCfg)
		cancel()
		if err != nil {
			log.Printf("Warning: S3 backup disabled: %v", err)
		} else {
			backup = client
			jobDeps.Backup = client
			jobDeps.BackupConfig = backupCfg
		}
	}
	queue.RegisterRegistrationJobs(jobDeps)

	uploadsDir := env.GetEnv("UPLOADS_DIR", "uploads")
	regCfg := registration.LoadConfig()
	svc := registration.NewService(regCfg, registration.Deps{
		Staging:  staging.NewService(store, staging.NewDocuments(uploadsDir)),
		Gateway:  gw,
		Accounts: repos.Account,
		Locker:   locker,
		Tokens:   tokens,
		Notifier: jobqueue.NewRegistrationNotifier(queue, jobDeps.Backup != nil),
	})

	manager.SetSweeper(svc, regCfg.SweepInterval)
	manager.Start()

	sqlDB, err := database.GetDB().DB()
	if err != nil {
		log.Fatalf("Database handle: %v", err)
	}
	checker := health.NewChecker(3*time.Second).
		Add("database", health.PingCheck(sqlDB)).
		Add("cache", cache.Ping).
		Add("uploads", health.WritableDirCheck(uploadsDir))
	if backup != nil {
		checker.Add("s3", backup.Ping)
	}

	fiberCfg := fiber.Config{
		// three documents of 5 MiB plus form fields
		BodyLimit:         20 * 1024 * 1024,
		EnablePrintRoutes: env.IsDev(),
	}
	// rate limiting keys on the client address, so forwarded headers are
	// trusted only from the configured proxies
	router.ApplyProxyConfig(&fiberCfg,
		env.GetEnv("PROXY_HEADER", fiber.HeaderXForwardedFor),
		strings.Split(env.GetEnv("TRUSTED_PROXIES", ""), ","))
	app := fiber.New(fiberCfg)

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: constants.DocsRoute,
		FilePath: findOpenAPIFile(),
		Path:     "v1",
	}))

	router.InstallRouter(app, router.Deps{
		Registration: controllers.NewRegistrationController(svc, captcha),
		Webhook:      controllers.NewPaymentWebhookController(svc, gw, repos.WebhookEvent),
		Ops:          controllers.NewOpsController(queue, manager, checker),
		Tokens:       tokens,
		RateLimit:    ratelimit.LoadConfig(),
		OpsUsers: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "change-me"),
		},
	})

	log.Printf("PropServe ready: gateway=%s staging_ttl=%s sweep_interval=%s", gw.Name(), regCfg.StagingTTL, regCfg.SweepInterval)
	return app, manager
}

func findOpenAPIFile() string {
	for _, base := range []string{"./", "../../", "../../../"} {
		path := base + "docs/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "docs/openapi.yml"
}
