package server

import (
	"context"
	"time"

	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/tail"
)

const (
	followRetry = 5 * time.Second
	waitTimeout = 5 * time.Second
)

// followDocker tails the container whenever it is running. When a log
// stream ends the container has stopped, and ServerStopped carries its
// exit code.
func (s *Server) followDocker(ctx context.Context) {
	name := s.cfg.Server.Container
	for {
		status, err := s.docker.Status(ctx, name)
		if err == nil && status == "running" {
			s.log.Info().Str("container", name).Msg("following container logs")
			err = tail.FollowContainer(ctx, s.docker, name, s.feeder)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.log.Warn().Err(err).Str("container", name).Msg("log stream failed")
			}
			s.reportExit(ctx, name)
		} else if err != nil {
			s.log.Debug().Err(err).Str("container", name).Msg("container not available")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(followRetry):
		}
	}
}

func (s *Server) reportExit(ctx context.Context, name string) {
	wctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	code, err := s.docker.Wait(wctx, name)
	if err != nil {
		// restarted already, or still running after a dropped stream
		s.log.Debug().Err(err).Msg("no exit status")
		return
	}
	s.bus.Publish(ctx, event.ServerStopped{At: time.Now(), ExitCode: int(code)})
}

func (s *Server) followFile(ctx context.Context) {
	path := s.cfg.Server.LogFile
	fromStart := s.cfg.Server.FromStart
	for {
		s.log.Info().Str("file", path).Msg("following log file")
		err := tail.FollowFile(ctx, path, fromStart, s.feeder)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Str("file", path).Msg("log file tail stopped")
		// after the first attempt only new lines are wanted
		fromStart = false

		select {
		case <-ctx.Done():
			return
		case <-time.After(followRetry):
		}
	}
}
