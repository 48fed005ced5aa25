package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
	"github.com/reedfamily/reedlink/internal/scheduler"
)

// CommandSender delivers console commands to the game server.
type CommandSender interface {
	SendCommand(ctx context.Context, command string) error
}

// Uploader copies an archive somewhere off the host.
type Uploader interface {
	Upload(ctx context.Context, name string, f io.ReadSeeker, size int64) error
}

// Job flushes the world through the console, waits for the server to
// report the save and then archives it.
type Job struct {
	*Service
	bus         *bus.Bus
	cmd         CommandSender
	saveCommand string
	saveTimeout time.Duration
	uploader    Uploader
}

func NewJob(svc *Service, b *bus.Bus, cmd CommandSender, saveCommand string, saveTimeout time.Duration) *Job {
	if saveTimeout <= 0 {
		saveTimeout = time.Minute
	}
	return &Job{Service: svc, bus: b, cmd: cmd, saveCommand: saveCommand, saveTimeout: saveTimeout}
}

// WithUploader copies each new archive through u. A failed upload is
// logged and the local archive is kept.
func (j *Job) WithUploader(u Uploader) *Job {
	j.uploader = u
	return j
}

// Run performs one backup. Without a command channel the world is archived
// as it is on disk.
func (j *Job) Run(ctx context.Context) (*Backup, error) {
	if j.cmd != nil && j.saveCommand != "" {
		if err := j.save(ctx); err != nil {
			j.log.Warn().Err(err).Msg("world save not confirmed, archiving anyway")
		}
	}
	b, err := j.Create(ctx)
	if err != nil {
		return nil, err
	}
	if j.uploader != nil {
		if err := j.upload(ctx, b); err != nil {
			j.log.Error().Err(err).Str("backup", b.Name).Msg("upload failed")
		} else {
			b.Uploaded = true
		}
	}
	return b, nil
}

func (j *Job) upload(ctx context.Context, b *Backup) error {
	f, err := os.Open(filepath.Join(j.dir, b.Name))
	if err != nil {
		return err
	}
	defer f.Close()
	return j.uploader.Upload(ctx, b.Name, f, b.SizeBytes)
}

func (j *Job) save(ctx context.Context) error {
	saved := make(chan struct{}, 1)
	sub := j.bus.Subscribe(event.KindServerSaved, func(context.Context, event.Event) error {
		select {
		case saved <- struct{}{}:
		default:
		}
		return nil
	}, bus.WithName("backup"))
	defer j.bus.Unsubscribe(sub)

	if err := j.cmd.SendCommand(ctx, j.saveCommand); err != nil {
		return fmt.Errorf("send %q: %w", j.saveCommand, err)
	}
	select {
	case <-saved:
		return nil
	case <-time.After(j.saveTimeout):
		return fmt.Errorf("no save confirmation after %s", j.saveTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule runs the job on a cron expression.
func (j *Job) Schedule(s *scheduler.Scheduler, expr string) (*scheduler.Task, error) {
	return s.CallCron("backup", expr, func(ctx context.Context) error {
		_, err := j.Run(ctx)
		return err
	})
}
