package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoContainer = errors.New("no container configured")

// containerAPI is the part of the docker client the control needs.
type containerAPI interface {
	Status(ctx context.Context, id string) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	SendCommand(ctx context.Context, id, command string) error
}

// control drives the game container and its console.
type control struct {
	docker      containerAPI
	container   string
	stopCommand string
	stopTimeout time.Duration
	log         zerolog.Logger
}

func (c *control) SendCommand(ctx context.Context, command string) error {
	if c.container == "" {
		return ErrNoContainer
	}
	return c.docker.SendCommand(ctx, c.container, command)
}

func (c *control) Status(ctx context.Context) (string, error) {
	if c.container == "" {
		return "", ErrNoContainer
	}
	return c.docker.Status(ctx, c.container)
}

func (c *control) Start(ctx context.Context) error {
	if c.container == "" {
		return ErrNoContainer
	}
	return c.docker.Start(ctx, c.container)
}

// Stop asks the server to shut down through its console first so the world
// is saved, then lets docker stop the container, killing it after the
// timeout.
func (c *control) Stop(ctx context.Context) error {
	if c.container == "" {
		return ErrNoContainer
	}
	if c.stopCommand != "" {
		if err := c.docker.SendCommand(ctx, c.container, c.stopCommand); err != nil {
			c.log.Debug().Err(err).Msg("graceful stop command failed")
		}
	}
	return c.docker.Stop(ctx, c.container, c.stopTimeout)
}

func (c *control) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}
