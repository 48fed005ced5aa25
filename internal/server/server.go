package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/reedfamily/reedlink/internal/api"
	"github.com/reedfamily/reedlink/internal/auth"
	"github.com/reedfamily/reedlink/internal/backup"
	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/classify"
	"github.com/reedfamily/reedlink/internal/config"
	"github.com/reedfamily/reedlink/internal/docker"
	"github.com/reedfamily/reedlink/internal/game"
	"github.com/reedfamily/reedlink/internal/health"
	"github.com/reedfamily/reedlink/internal/leaderboard"
	"github.com/reedfamily/reedlink/internal/listener"
	"github.com/reedfamily/reedlink/internal/notify"
	"github.com/reedfamily/reedlink/internal/online"
	"github.com/reedfamily/reedlink/internal/plugin"
	"github.com/reedfamily/reedlink/internal/scheduler"
	"github.com/reedfamily/reedlink/internal/tail"

	// Register game adapters
	_ "github.com/reedfamily/reedlink/internal/game/minecraft"
	_ "github.com/reedfamily/reedlink/internal/game/vintagestory"
)

// Server owns every long-lived component and the order they start and
// stop in.
type Server struct {
	cfg *config.Config
	log zerolog.Logger

	adapter  game.Adapter
	bus      *bus.Bus
	sched    *scheduler.Scheduler
	engine   *classify.Engine
	feeder   *tail.Feeder
	listener *listener.Listener
	tracker  *online.Tracker
	board    *leaderboard.Board
	health   *health.Collector
	plugins  *plugin.Host
	backups  *backup.Job
	docker   *docker.Client
	control  *control
	router   chi.Router

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(cfg *config.Config, db *sql.DB, log zerolog.Logger) (*Server, error) {
	adapter, err := game.Lookup(cfg.Game)
	if err != nil {
		return nil, err
	}

	dockerClient, err := docker.NewClient()
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	authn, err := auth.New(cfg.Auth.Token, cfg.Auth.TokenHash)
	if err != nil {
		dockerClient.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !authn.Enabled() {
		log.Warn().Msg("no API token configured, the API is open")
	}

	s := &Server{
		cfg:     cfg,
		log:     log.With().Str("component", "server").Logger(),
		adapter: adapter,
		docker:  dockerClient,
	}

	s.bus = bus.New(bus.WithLogger(log))
	s.sched = scheduler.New(
		scheduler.WithLogger(log),
		scheduler.WithErrorHandler(func(terr *scheduler.TaskError) {
			ev := s.log.Warn()
			if terr.Panicked() {
				ev = s.log.Error().Bytes("stack", terr.Stack)
			}
			ev.Err(terr.Err).Str("task", terr.Name).Msg("task failed")
		}),
	)

	s.engine = classify.New(adapter.Matchers(), classify.WithPublisher(s.bus), classify.WithLogger(log))
	s.feeder = tail.NewFeeder(adapter, s.engine)

	s.listener = listener.New(s.bus, cfg.Listener, listener.WithLogger(log))
	for _, err := range s.listener.ConfigErrors() {
		s.log.Warn().Err(err).Msg("listener config")
	}

	s.tracker = online.New()
	s.board = leaderboard.New(db, log)

	s.control = &control{
		docker:      dockerClient,
		container:   cfg.Server.Container,
		stopCommand: adapter.StopCommand(),
		stopTimeout: cfg.Server.StopTimeout.Std(),
		log:         s.log,
	}

	healthOpts := []health.Option{
		health.WithPlayers(s.tracker.Count),
		health.WithHostSampler(health.SampleHost),
		health.WithLogger(log),
	}
	if cfg.Server.Container != "" {
		healthOpts = append(healthOpts, health.WithContainer(dockerClient, func() string { return cfg.Server.Container }))
	}
	s.health = health.NewCollector(s.bus, healthOpts...)

	s.plugins = plugin.NewHost(s.bus, s.sched,
		plugin.WithLogger(log),
		plugin.WithCommandSender(s.control),
		plugin.WithDir(cfg.Plugins.Dir),
		plugin.WithCallTimeout(cfg.Plugins.CallTimeout.Std()),
	)

	if world := cfg.DataPath(cfg.Backup.World); world != "" {
		svc := backup.NewService(world, cfg.DataPath(cfg.Backup.Dir),
			backup.WithLogger(log),
			backup.WithKeep(cfg.Backup.Keep),
		)
		var sender backup.CommandSender
		if cfg.Server.Container != "" {
			sender = s.control
		}
		s.backups = backup.NewJob(svc, s.bus, sender, adapter.SaveCommand(), cfg.Backup.SaveTimeout.Std())

		if sc := cfg.Backup.S3; sc.Bucket != "" {
			up, err := backup.NewS3Uploader(context.Background(), backup.S3Config{
				Bucket:   sc.Bucket,
				Region:   sc.Region,
				Prefix:   sc.Prefix,
				Endpoint: sc.Endpoint,
				Timeout:  sc.Timeout.Std(),
				Retries:  sc.Retries,
			})
			if err != nil {
				dockerClient.Close()
				return nil, err
			}
			s.backups.WithUploader(up)
		}
	}

	deps := api.Deps{
		Bus:           s.bus,
		Scheduler:     s.sched,
		Logs:          s.listener,
		Feeder:        s.feeder,
		Notifications: notify.NewBridge(s.bus),
		Game:          adapter.Game(),
		Players:       s.tracker,
		Board:         s.board,
		Health:        s.health,
		Plugins:       s.plugins,
		Auth:          authn,
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        log,
	}
	if cfg.Server.Container != "" {
		deps.Commands = s.control
		deps.Server = s.control
	}
	if s.backups != nil {
		deps.Backups = s.backups
	}
	s.router = api.NewRouter(deps)
	return s, nil
}

func (s *Server) Router() http.Handler {
	return s.router
}

// Start attaches the consumers, provisions the container if asked to,
// schedules periodic work, loads plugins and begins following the log.
func (s *Server) Start(ctx context.Context) error {
	s.tracker.Attach(s.bus)
	s.board.Attach(s.bus)
	s.listener.Start()

	if s.cfg.Server.Manage {
		if err := s.provision(ctx); err != nil {
			return err
		}
	}

	if iv := s.cfg.Health.Interval.Std(); iv > 0 {
		s.health.Register(s.sched, iv)
	}
	for _, c := range s.cfg.Commands {
		name := c.Name
		if name == "" {
			name = "command"
		}
		if _, err := s.sched.CallCron(name, c.Cron, api.CommandAction(s.control, c.Command)); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	if s.backups != nil && s.cfg.Backup.Cron != "" {
		if _, err := s.backups.Schedule(s.sched, s.cfg.Backup.Cron); err != nil {
			return fmt.Errorf("schedule backup: %w", err)
		}
	}

	n, err := s.plugins.Reload()
	if err != nil {
		return fmt.Errorf("plugins: %w", err)
	}
	s.log.Info().Int("plugins", n).Str("game", s.adapter.Game()).Msg("started")

	fctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		switch s.cfg.Server.LogSource {
		case config.LogSourceFile:
			s.followFile(fctx)
		default:
			s.followDocker(fctx)
		}
	}()
	return nil
}

func (s *Server) provision(ctx context.Context) error {
	spec, ok := docker.DefaultSpec(s.cfg.Game)
	if !ok {
		spec = docker.ContainerSpec{}
	}
	sc := s.cfg.Server
	spec.Name = sc.Container
	if sc.Image != "" {
		spec.Image = sc.Image
	}
	if len(sc.Ports) > 0 {
		ports, err := docker.ParsePortMappings(sc.Ports)
		if err != nil {
			return err
		}
		spec.Ports = ports
	}
	if len(sc.Env) > 0 {
		if spec.Env == nil {
			spec.Env = map[string]string{}
		}
		for k, v := range sc.Env {
			spec.Env[k] = v
		}
	}
	if len(sc.Volumes) > 0 {
		spec.Volumes = make(map[string]string, len(sc.Volumes))
		for host, ctr := range sc.Volumes {
			// Docker bind mounts require absolute paths
			if !filepath.IsAbs(host) {
				host = filepath.Join(s.cfg.DataDir, host)
			}
			spec.Volumes[host] = ctr
		}
	}
	mem, err := docker.ParseMemory(sc.Memory)
	if err != nil {
		return err
	}
	spec.MemoryLimit = mem

	id, created, err := s.docker.EnsureContainer(ctx, spec)
	if err != nil {
		return err
	}
	status, err := s.docker.Status(ctx, id)
	if err != nil {
		return err
	}
	if status != "running" {
		if err := s.docker.Start(ctx, id); err != nil {
			return fmt.Errorf("start %s: %w", spec.Name, err)
		}
	}
	s.log.Info().Str("container", spec.Name).Bool("created", created).Msg("container ready")
	return nil
}

// Stop shuts down in dependency order: log intake first so nothing new is
// published, then plugins and tasks, then the consumers and the bus.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.plugins.UnloadAll()
		s.sched.Close()
		s.listener.Stop()
		s.tracker.Detach(s.bus)
		s.board.Detach(s.bus)
		s.bus.ClearAllSubscriptions()
		if err := s.docker.Close(); err != nil {
			s.log.Debug().Err(err).Msg("docker close")
		}
		s.log.Info().Msg("stopped")
	})
}
