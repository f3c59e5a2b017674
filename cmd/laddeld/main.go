// Package main provides the entry point for laddeld, a daemon that keeps a
// Laddel EV-charging account synchronized: it enrolls via the provider's
// browser login, maintains the OAuth tokens, polls the cloud API, and serves
// the latest state over a local HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/strxno/ha-laddel/internal/api"
	"github.com/strxno/ha-laddel/internal/auth"
	"github.com/strxno/ha-laddel/internal/buildinfo"
	"github.com/strxno/ha-laddel/internal/config"
	"github.com/strxno/ha-laddel/internal/coordinator"
	"github.com/strxno/ha-laddel/internal/laddel"
	"github.com/strxno/ha-laddel/internal/logging"
	"github.com/strxno/ha-laddel/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("laddeld Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var login bool
	var username string
	var password string
	var refreshToken string
	var configPath string

	flag.BoolVar(&login, "login", false, "Enroll by logging in with Laddel account credentials")
	flag.StringVar(&username, "username", "", "Account email for -login")
	flag.StringVar(&password, "password", "", "")
	flag.StringVar(&refreshToken, "refresh-token", "", "Enroll with an existing refresh token instead of credentials")
	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")

	flag.CommandLine.Usage = func() {
		out := flag.CommandLine.Output()
		_, _ = fmt.Fprintf(out, "Usage of %s\n", os.Args[0])
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			if f.Name == "password" {
				return
			}
			_, _ = fmt.Fprintf(out, "  -%s\n    %s\n", f.Name, f.Usage)
		})
	}
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure logging: %v", err)
		return
	}
	if err = os.MkdirAll(cfg.AuthDir, 0o700); err != nil {
		log.Errorf("failed to create auth directory %s: %v", cfg.AuthDir, err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := auth.NewFileTokenStore(cfg.AuthDir)

	switch {
	case login:
		runLogin(ctx, cfg, store, username, password)
	case refreshToken != "":
		runImportRefreshToken(ctx, store, refreshToken)
	default:
		runDaemon(ctx, cfg, configPath, store)
	}
}

// runLogin performs the one-shot credential enrollment and persists the
// resulting tokens.
func runLogin(ctx context.Context, cfg *config.Config, store auth.Store, username, password string) {
	if password == "" {
		password = os.Getenv("LADDEL_PASSWORD")
	}
	if username == "" || password == "" {
		log.Error("login requires -username and -password (or LADDEL_PASSWORD)")
		return
	}

	flow, err := auth.NewLoginFlow(cfg)
	if err != nil {
		log.Errorf("failed to initialize login flow: %v", err)
		return
	}
	tokens, err := flow.Login(ctx, username, password)
	if err != nil {
		log.Errorf("login failed (%s): %v", auth.KindOf(err), err)
		return
	}
	path, err := store.Save(ctx, auth.NewTokenStorage(tokens))
	if err != nil {
		log.Errorf("failed to persist tokens: %v", err)
		return
	}
	log.Infof("enrollment complete, tokens saved to %s", path)
}

// runImportRefreshToken enrolls from a refresh token obtained elsewhere. The
// first daemon cycle performs the initial access-token exchange.
func runImportRefreshToken(ctx context.Context, store auth.Store, refreshToken string) {
	path, err := store.Save(ctx, &auth.TokenStorage{RefreshToken: refreshToken})
	if err != nil {
		log.Errorf("failed to persist refresh token: %v", err)
		return
	}
	log.Infof("refresh token saved to %s", path)
}

func runDaemon(ctx context.Context, cfg *config.Config, configPath string, store auth.Store) {
	ts, err := store.Load(ctx)
	if err != nil {
		log.Errorf("failed to load auth file: %v", err)
		return
	}
	if ts == nil {
		log.Error("no auth file found, enroll first with -login or -refresh-token")
		return
	}

	manager := auth.NewManager(cfg, store, ts)
	client := laddel.NewClient(cfg, manager)
	coord := coordinator.New(cfg, client, manager)

	if cfg.Notification.FCMToken != "" {
		installationID := cfg.Notification.InstallationID
		if installationID == "" {
			installationID = uuid.NewString()
		}
		if errSync := client.SyncNotificationToken(ctx, cfg.Notification.FCMToken, installationID); errSync != nil {
			log.Warnf("notification token sync failed: %v", errSync)
		} else {
			log.Infof("notification token synced for installation %s", installationID)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return coord.Run(groupCtx) })

	if cfg.APIAddr != "" {
		server := api.New(cfg, coord)
		group.Go(func() error { return server.Run(groupCtx) })
	}

	configWatcher := watcher.New(configPath, func(next *config.Config) {
		if errLog := logging.ConfigureLogOutput(next); errLog != nil {
			log.Errorf("failed to apply reloaded logging settings: %v", errLog)
		}
		log.Info("logging settings reapplied; interval and listen changes take effect on restart")
	})
	group.Go(func() error { return configWatcher.Start(groupCtx) })

	log.Infof("laddeld running, auth file %s", cfg.AuthDir)
	if err = group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("daemon exited: %v", err)
		return
	}
	log.Info("laddeld stopped")
}
