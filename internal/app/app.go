// Package app wires configuration, logging, clients and workers into one
// running relay process.
package app

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"

	"ghrelay/internal/config"
	"ghrelay/internal/github"
	"ghrelay/internal/matrix"
	"ghrelay/internal/relay"
	"ghrelay/internal/runtime/supervisor"
	"ghrelay/pkg/logx"
)

const stopTimeout = 10 * time.Second

type App struct {
	cfg     *config.Config
	cfgPath string

	httpc  *http.Client
	logSvc *logx.Service
	log    logx.Logger
}

// New builds the app. The logging service's room sink gets its own chat
// client so operator logs never contend with delivery traffic.
func New(cfg *config.Config, cfgPath string) *App {
	httpc := &http.Client{Timeout: 30 * time.Second}

	sink := matrix.New(httpc, cfg.Homeserver, cfg.AccessToken)
	logSvc, log := logx.New(logxConfig(cfg.Logging), sink)

	return &App{
		cfg:     cfg,
		cfgPath: cfgPath,
		httpc:   httpc,
		logSvc:  logSvc,
		log:     log,
	}
}

// Run starts one supervised worker per account and blocks until shutdown.
// The first worker error cancels every other worker and is returned: a
// crashed account is not restarted in-process, the whole process exits and
// the service manager brings it back.
func (a *App) Run(ctx context.Context) error {
	defer func() { _ = a.logSvc.Close() }()

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	for name, acct := range a.cfg.Accounts {
		// Each worker owns its clients; only the underlying http.Client
		// transport is shared.
		gh := github.New(a.httpc, acct.GitHubToken)
		chat := matrix.New(a.httpc, a.cfg.Homeserver, a.cfg.AccessToken)
		log := a.log.With(logx.String("account", name))

		w := relay.NewWorker(name, acct.Room, gh, chat, log)
		sup.Go("account."+name, w.Run)
	}

	a.watchConfig(sup)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("relay started", logx.Int("accounts", len(a.cfg.Accounts)))

	<-sup.Context().Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := sup.Stop(stopCtx)

	a.log.Info("relay stopped")
	return err
}

// watchConfig warns when the config file changes on disk. Account
// configuration is immutable for the process lifetime, so the only honest
// reaction is telling the operator a restart is needed.
func (a *App) watchConfig(sup *supervisor.Supervisor) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		a.log.Warn("config watcher unavailable", logx.Err(err))
		return
	}
	// Watch the directory: editors typically replace the file, which drops a
	// watch registered on the file itself.
	if err := w.Add(filepath.Dir(a.cfgPath)); err != nil {
		a.log.Warn("config watcher unavailable", logx.Err(err))
		_ = w.Close()
		return
	}

	target := filepath.Clean(a.cfgPath)
	sup.Go("config.watch", func(ctx context.Context) error {
		defer func() { _ = w.Close() }()
		var lastWarn time.Time
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if time.Since(lastWarn) < 2*time.Second {
					continue
				}
				lastWarn = time.Now()
				a.log.Warn("config file changed on disk, running config is immutable until restart",
					logx.String("path", a.cfgPath))
			case werr, ok := <-w.Errors:
				if !ok {
					return nil
				}
				a.log.Warn("config watcher error", logx.Err(werr))
			}
		}
	})
}

func logxConfig(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Room: logx.RoomConfig{
			Enabled:    l.Room.Enabled,
			RoomID:     l.Room.RoomID,
			MinLevel:   l.Room.MinLevel,
			RatePerSec: l.Room.RatePerSec,
		},
	}
}
