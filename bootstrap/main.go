package bootstrap

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	pprof_gin "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/github-community-projects/internal-contribution-forks/config"
	"github.com/github-community-projects/internal-contribution-forks/controllers"
	"github.com/github-community-projects/internal-contribution-forks/gitops"
	"github.com/github-community-projects/internal-contribution-forks/logging"
	"github.com/github-community-projects/internal-contribution-forks/middleware"
	"github.com/github-community-projects/internal-contribution-forks/services"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

// based on https://www.digitalocean.com/community/tutorials/using-ldflags-to-set-version-information-for-go-applications
var Version = "dev"

// App is everything the HTTP surface is built from.
type App struct {
	Config               *config.Config
	Env                  *config.AppEnv
	GithubClientProvider utils.GithubClientProvider
	NewGit               gitops.Factory
}

// NewApp wires the real GitHub App client provider and the shell git engine.
func NewApp(cfg *config.Config, appEnv *config.AppEnv) (*App, error) {
	if err := appEnv.RequireApp(); err != nil {
		return nil, err
	}
	creds, err := utils.NewAppCredentials(appEnv.AppID, appEnv.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("could not load app credentials: %w", err)
	}
	return &App{
		Config:               cfg,
		Env:                  appEnv,
		GithubClientProvider: utils.NewGithubRealClientProvider(creds),
		NewGit:               gitops.NewShellFactory(gitops.WithTimeout(cfg.GetDuration("git-timeout"))),
	}, nil
}

func initSentry(dsn string) {
	if dsn == "" {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		EnableTracing:    true,
		TracesSampleRate: 0.1,
		Release:          "internal-contribution-forks@" + Version,
		Debug:            true,
		DebugWriter:      logging.NewSentryWriter(slog.Default().WithGroup("sentry")),
	}); err != nil {
		slog.Error("Sentry initialization failed", "error", err)
	}
}

func Bootstrap(app *App) *gin.Engine {
	cfg := app.Config
	initSentry(app.Env.SentryDSN)

	resolver := config.NewResolver(app.Env, app.GithubClientProvider)
	var locks *utils.KeyedMutex
	if cfg.GetBool("sync-lock") {
		locks = utils.NewKeyedMutex()
	}
	syncer := &services.Syncer{
		GithubClientProvider:     app.GithubClientProvider,
		Resolver:                 resolver,
		NewGit:                   app.NewGit,
		TrimInternalMergeCommits: app.Env.TrimInternalMergeCommits,
		Locks:                    locks,
	}

	githubController := &controllers.GithubController{
		GithubClientProvider: app.GithubClientProvider,
		Classifier:           controllers.Classifier{AppID: app.Env.AppID, BotLogin: app.Env.BotLogin},
		WebhookSecret:        app.Env.WebhookSecret,
		WebhookTimeout:       cfg.GetDuration("webhook-timeout"),
		Upstreams:            &services.Upstreams{GithubClientProvider: app.GithubClientProvider, NewGit: app.NewGit},
		Syncer:               syncer,
	}
	rpcController := &controllers.RPCController{
		GithubClientProvider: app.GithubClientProvider,
		Resolver:             resolver,
		Syncer:               syncer,
		Mirrors:              &services.Mirrors{GithubClientProvider: app.GithubClientProvider, Resolver: resolver, NewGit: app.NewGit},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sloggin.New(slog.Default().WithGroup("http")))
	r.Use(logging.Middleware())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))

	if app.Env.PprofDebugEnabled {
		pprof_gin.Register(r)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"build_date":  cfg.GetString("build_date"),
			"deployed_at": cfg.GetString("deployed_at"),
			"version":     Version,
			"time":        time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.POST("/api/github/webhooks", middleware.WebhookHeaders(app.Env.WebhookSecret != ""), githubController.GithubAppWebHook)

	allowList := utils.NewAllowList(app.Env.AllowedHandles, app.Env.AllowedOrgs)
	rpc := r.Group("/api/rpc")
	rpc.Use(middleware.RPCAuth(app.GithubClientProvider, allowList))
	rpc.POST("/syncRepos", rpcController.SyncRepos)
	rpc.POST("/createMirror", rpcController.CreateMirror)
	rpc.POST("/listMirrors", rpcController.ListMirrors)
	rpc.POST("/deleteMirror", rpcController.DeleteMirror)
	rpc.POST("/checkInstallation", rpcController.CheckInstallation)
	rpc.POST("/getConfig", rpcController.GetConfig)

	return r
}
