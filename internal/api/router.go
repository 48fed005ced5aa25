package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/auth"
	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/leaderboard"
	"github.com/reedfamily/reedlink/internal/online"
	"github.com/reedfamily/reedlink/internal/scheduler"
)

// Deps are the components the API exposes. Nil fields leave their routes
// unmounted, except Bus, which is required.
type Deps struct {
	Bus           *bus.Bus
	Scheduler     *scheduler.Scheduler
	Logs          LogSource
	Feeder        LineFeeder
	Notifications NotificationHandler
	Commands      CommandSender
	Server        ServerControl
	Game          string
	Players       *online.Tracker
	Board         *leaderboard.Board
	Health        HealthSource
	Plugins       PluginManager
	Backups       BackupManager
	Auth          *auth.Authenticator
	CORSOrigins   []string
	Logger        zerolog.Logger
}

func NewRouter(d Deps) chi.Router {
	log := d.Logger.With().Str("component", "api").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	stats := NewStatsHandler(d.Bus, d.Scheduler, d.Logs, d.Feeder, d.Health, log)
	events := NewEventHandler(d.Bus, log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Auth))

		r.Get("/stats", stats.Stats)
		r.Get("/health", stats.Latest)
		r.Get("/health/live", stats.Live)
		r.Get("/events/kinds", events.Kinds)
		r.Get("/events/live", events.Live)

		if d.Logs != nil {
			logs := NewLogHandler(d.Logs, log)
			r.Get("/logs", logs.List)
			r.Get("/logs/export", logs.Export)
			r.Get("/logs/live", logs.Live)
		}
		if d.Feeder != nil || d.Notifications != nil {
			ingest := NewIngestHandler(d.Feeder, d.Notifications, log)
			if d.Feeder != nil {
				r.Post("/lines", ingest.Lines)
			}
			if d.Notifications != nil {
				r.Post("/notifications", ingest.Notification)
			}
		}
		if d.Scheduler != nil {
			tasks := NewTaskHandler(d.Scheduler, d.Commands, log)
			r.Get("/tasks", tasks.List)
			r.Post("/tasks", tasks.Create)
			r.Get("/tasks/{id}", tasks.Get)
			r.Delete("/tasks/{id}", tasks.Cancel)
		}
		if d.Commands != nil {
			console := NewConsoleHandler(d.Commands, d.Logs, log)
			r.Post("/commands", console.Command)
			r.Get("/console", console.Handle)
		}
		if d.Server != nil {
			server := NewServerHandler(d.Server, d.Game, log)
			r.Get("/server", server.Get)
			r.Post("/server/start", server.Start)
			r.Post("/server/stop", server.Stop)
			r.Post("/server/restart", server.Restart)
		}
		if d.Players != nil {
			players := NewPlayerHandler(d.Players, d.Board, log)
			r.Get("/players", players.Online)
			if d.Board != nil {
				r.Get("/players/{name}", players.Player)
				r.Get("/leaderboard", players.Leaderboard)
				r.Get("/leaderboard/export", players.Export)
			}
		}
		if d.Plugins != nil {
			plugins := NewPluginHandler(d.Plugins, log)
			r.Get("/plugins", plugins.List)
			r.Post("/plugins/reload", plugins.Reload)
			r.Delete("/plugins/{name}", plugins.Unload)
		}
		if d.Backups != nil {
			backups := NewBackupHandler(d.Backups, d.Server, log)
			r.Get("/backups", backups.List)
			r.Post("/backups", backups.Create)
			r.Get("/backups/{name}", backups.Download)
			r.Delete("/backups/{name}", backups.Delete)
			r.Post("/backups/{name}/restore", backups.Restore)
		}
	})
	return r
}
