package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

const ext = ".tar.gz"

var (
	ErrNotFound = errors.New("backup not found")
	ErrBusy     = errors.New("backup already running")
)

type Backup struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	Uploaded  bool      `json:"uploaded,omitempty"`
}

// Service archives the world directory into dir as tar.gz files.
type Service struct {
	world string
	dir   string
	keep  int
	log   zerolog.Logger

	running sync.Mutex
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithKeep prunes all but the newest n archives after each backup. Zero
// keeps everything.
func WithKeep(n int) Option {
	return func(s *Service) { s.keep = n }
}

func NewService(world, dir string, opts ...Option) *Service {
	s := &Service{world: world, dir: dir, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "backup").Logger()
	return s
}

// Create archives the world directory. Only one backup runs at a time.
func (s *Service) Create(ctx context.Context) (*Backup, error) {
	if !s.running.TryLock() {
		return nil, ErrBusy
	}
	defer s.running.Unlock()

	if _, err := os.Stat(s.world); err != nil {
		return nil, fmt.Errorf("world directory: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	now := time.Now()
	name := fmt.Sprintf("%s-%s%s", now.Format("20060102-150405"), uuid.NewString()[:8], ext)
	path := filepath.Join(s.dir, name)

	start := time.Now()
	if err := createTarGz(ctx, path, s.world); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("create archive: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}
	b := &Backup{Name: name, SizeBytes: info.Size(), CreatedAt: now.UTC()}
	s.log.Info().Str("backup", name).Int64("bytes", b.SizeBytes).Dur("took", time.Since(start)).Msg("backup created")

	if s.keep > 0 {
		if err := s.Prune(s.keep); err != nil {
			s.log.Warn().Err(err).Msg("prune failed")
		}
	}
	return b, nil
}

// List returns the archives, newest first.
func (s *Service) List() ([]Backup, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Backup{}, nil
	}
	if err != nil {
		return nil, err
	}
	backups := []Backup{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{Name: e.Name(), SizeBytes: info.Size(), CreatedAt: info.ModTime().UTC()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name > backups[j].Name })
	return backups, nil
}

// FilePath resolves name inside the backup directory.
func (s *Service) FilePath(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, ext) {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

func (s *Service) Delete(name string) error {
	path, err := s.FilePath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Prune deletes all but the newest keep archives.
func (s *Service) Prune(keep int) error {
	backups, err := s.List()
	if err != nil {
		return err
	}
	var errs []error
	for i := keep; i < len(backups); i++ {
		if err := os.Remove(filepath.Join(s.dir, backups[i].Name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Restore replaces the world directory with the archive's content.
// The server should be stopped before calling this.
func (s *Service) Restore(name string) error {
	path, err := s.FilePath(name)
	if err != nil {
		return err
	}
	if !s.running.TryLock() {
		return ErrBusy
	}
	defer s.running.Unlock()

	if err := os.RemoveAll(s.world); err != nil {
		return fmt.Errorf("clear world directory: %w", err)
	}
	if err := os.MkdirAll(s.world, 0o755); err != nil {
		return fmt.Errorf("recreate world directory: %w", err)
	}
	if err := extractTarGz(path, s.world); err != nil {
		return err
	}
	s.log.Info().Str("backup", name).Msg("backup restored")
	return nil
}

func createTarGz(ctx context.Context, dest, srcDir string) error {
	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer file.Close()

	gw := gzip.NewWriter(file)
	tw := tar.NewWriter(gw)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		// session.lock is held open by a running server
		if info.Name() == "session.lock" || !(info.IsDir() || info.Mode().IsRegular()) {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return file.Close()
}

func extractTarGz(src, destDir string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	gr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(header.Name))
		rel, err := filepath.Rel(destDir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("invalid path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
