package backup

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/reedfamily/reedlink/internal/bus"
	"github.com/reedfamily/reedlink/internal/event"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newWorld(t *testing.T) (world, dir string) {
	t.Helper()
	root := t.TempDir()
	world = filepath.Join(root, "world")
	writeFile(t, filepath.Join(world, "level.dat"), "level")
	writeFile(t, filepath.Join(world, "region", "r.0.0.mca"), "chunks")
	writeFile(t, filepath.Join(world, "session.lock"), "lock")
	return world, filepath.Join(root, "backups")
}

func TestCreateAndRestore(t *testing.T) {
	world, dir := newWorld(t)
	svc := NewService(world, dir)

	b, err := svc.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b.SizeBytes == 0 {
		t.Error("empty archive")
	}

	writeFile(t, filepath.Join(world, "level.dat"), "griefed")
	writeFile(t, filepath.Join(world, "extra.txt"), "new")

	if err := svc.Restore(b.Name); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, filepath.Join(world, "level.dat")); got != "level" {
		t.Errorf("level.dat = %q", got)
	}
	if got := readFile(t, filepath.Join(world, "region", "r.0.0.mca")); got != "chunks" {
		t.Errorf("region = %q", got)
	}
	if _, err := os.Stat(filepath.Join(world, "extra.txt")); !os.IsNotExist(err) {
		t.Error("restore kept a file created after the backup")
	}
	if _, err := os.Stat(filepath.Join(world, "session.lock")); !os.IsNotExist(err) {
		t.Error("session.lock was archived")
	}
}

func TestListAndDelete(t *testing.T) {
	world, dir := newWorld(t)
	svc := NewService(world, dir)

	if list, err := svc.List(); err != nil || len(list) != 0 {
		t.Fatalf("List before any backup = %v, %v", list, err)
	}
	b, err := svc.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a backup")

	list, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != b.Name {
		t.Fatalf("List = %+v", list)
	}

	if err := svc.Delete(b.Name); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(b.Name); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestFilePathRejectsTraversal(t *testing.T) {
	world, dir := newWorld(t)
	svc := NewService(world, dir)
	for _, name := range []string{"../secret.tar.gz", "sub/x.tar.gz", "missing.tar.gz", "notes.txt"} {
		if _, err := svc.FilePath(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("FilePath(%q) = %v, want ErrNotFound", name, err)
		}
	}
}

func TestKeepPrunesOldest(t *testing.T) {
	world, dir := newWorld(t)
	svc := NewService(world, dir, WithKeep(2))
	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	list, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("kept %d backups, want 2", len(list))
	}
}

func TestCreateMissingWorld(t *testing.T) {
	root := t.TempDir()
	svc := NewService(filepath.Join(root, "nope"), filepath.Join(root, "backups"))
	if _, err := svc.Create(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRestoreRejectsEscapingEntries(t *testing.T) {
	world, dir := newWorld(t)
	writeFile(t, filepath.Join(dir, "evil.tar.gz"), "")

	f, err := os.Create(filepath.Join(dir, "evil.tar.gz"))
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	body := []byte("pwned")
	if err := tw.WriteHeader(&tar.Header{Name: "../escaped.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	tw.Write(body)
	tw.Close()
	gw.Close()
	f.Close()

	svc := NewService(world, dir)
	if err := svc.Restore("evil.tar.gz"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(world), "escaped.txt")); !os.IsNotExist(err) {
		t.Error("archive entry escaped the world directory")
	}
}

type savingSender struct {
	bus  *bus.Bus
	sent []string
	save bool
}

func (s *savingSender) SendCommand(ctx context.Context, command string) error {
	s.sent = append(s.sent, command)
	if s.save {
		s.bus.Publish(ctx, event.ServerSaved{At: time.Now()})
	}
	return nil
}

func TestJobWaitsForSave(t *testing.T) {
	world, dir := newWorld(t)
	b := bus.New()
	sender := &savingSender{bus: b, save: true}
	job := NewJob(NewService(world, dir), b, sender, "save-all", time.Second)

	start := time.Now()
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) >= time.Second {
		t.Error("job waited for the timeout despite the save event")
	}
	if len(sender.sent) != 1 || sender.sent[0] != "save-all" {
		t.Errorf("sent %v", sender.sent)
	}
	if n := b.Subscribers(event.KindServerSaved); n != 0 {
		t.Errorf("%d subscribers left behind", n)
	}
}

func TestJobArchivesWithoutConfirmation(t *testing.T) {
	world, dir := newWorld(t)
	b := bus.New()
	job := NewJob(NewService(world, dir), b, &savingSender{bus: b}, "save-all", 20*time.Millisecond)

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	list, _ := job.List()
	if len(list) != 1 {
		t.Errorf("List = %v", list)
	}
}

func TestJobWithoutSender(t *testing.T) {
	world, dir := newWorld(t)
	job := NewJob(NewService(world, dir), bus.New(), nil, "save-all", time.Second)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}

type fakeUploader struct {
	name string
	body []byte
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, name string, f io.ReadSeeker, size int64) error {
	if u.err != nil {
		return u.err
	}
	u.name = name
	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return errors.New("size mismatch")
	}
	u.body = b
	return nil
}

func TestJobUploads(t *testing.T) {
	world, dir := newWorld(t)
	up := &fakeUploader{}
	job := NewJob(NewService(world, dir), bus.New(), nil, "", time.Second).WithUploader(up)

	b, err := job.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !b.Uploaded || up.name != b.Name || int64(len(up.body)) != b.SizeBytes {
		t.Errorf("backup %+v, uploaded %q (%d bytes)", b, up.name, len(up.body))
	}
}

func TestJobKeepsArchiveWhenUploadFails(t *testing.T) {
	world, dir := newWorld(t)
	job := NewJob(NewService(world, dir), bus.New(), nil, "", time.Second).
		WithUploader(&fakeUploader{err: errors.New("bucket gone")})

	b, err := job.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if b.Uploaded {
		t.Error("marked uploaded")
	}
	if _, err := job.FilePath(b.Name); err != nil {
		t.Errorf("local archive missing: %v", err)
	}
}
