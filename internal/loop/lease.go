package loop

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Lease is a single-flight file lock preventing two Main Loop processes
// from driving the same project concurrently. Held via flock(2), with a
// ticking heartbeat that refreshes human-readable metadata for whoever
// inspects the lease file while it's held.
type Lease struct {
	path   string
	file   *os.File
	ttl    time.Duration
	stopCh chan struct{}
	doneCh chan struct{}
	meta   leaseMetadata
}

type leaseMetadata struct {
	RunID      string `json:"run_id"`
	PID        int    `json:"pid"`
	Host       string `json:"host"`
	ProjectDir string `json:"project_dir"`
	AcquiredAt string `json:"acquired_at"`
	RenewedAt  string `json:"renewed_at"`
	ExpiresAt  string `json:"expires_at"`
}

// AcquireLease takes the single-flight lease at path, relative to
// projectDir if not absolute. ttl <= 0 defaults to two minutes.
func AcquireLease(projectDir, path string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectDir, path)
	}

	file, err := openLeaseFile(path)
	if err != nil {
		return nil, err
	}
	if err := flockLeaseFile(file, path); err != nil {
		_ = file.Close()
		return nil, err
	}
	return buildAndStartLease(file, path, projectDir, ttl)
}

func openLeaseFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lease directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lease file: %w", err)
	}
	return file, nil
}

func flockLeaseFile(file *os.File, path string) error {
	err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return fmt.Errorf("single-flight lease already held: %s", readLeaseHolderHint(path))
	}
	return fmt.Errorf("acquire lease lock: %w", err)
}

func buildAndStartLease(file *os.File, path, projectDir string, ttl time.Duration) (*Lease, error) {
	host, _ := os.Hostname()
	now := time.Now().UTC()
	meta := leaseMetadata{
		RunID:      uuid.NewString(),
		PID:        os.Getpid(),
		Host:       host,
		ProjectDir: projectDir,
		AcquiredAt: now.Format(time.RFC3339),
		RenewedAt:  now.Format(time.RFC3339),
		ExpiresAt:  now.Add(ttl).Format(time.RFC3339),
	}
	l := &Lease{
		path:   path,
		file:   file,
		ttl:    ttl,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		meta:   meta,
	}
	if err := l.writeMetadata(now); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, err
	}
	l.startHeartbeat()
	return l, nil
}

// Path returns the lease file's path.
func (l *Lease) Path() string { return l.path }

// Release stops the heartbeat, unlocks and closes the lease file.
func (l *Lease) Release() error {
	close(l.stopCh)
	<-l.doneCh

	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock lease: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close lease file: %w", closeErr)
	}
	return nil
}

func (l *Lease) startHeartbeat() {
	interval := l.ttl / 2
	if interval < 15*time.Second {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(l.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case now := <-ticker.C:
				_ = l.writeMetadata(now.UTC())
			}
		}
	}()
}

func (l *Lease) writeMetadata(now time.Time) error {
	l.meta.RenewedAt = now.Format(time.RFC3339)
	l.meta.ExpiresAt = now.Add(l.ttl).Format(time.RFC3339)

	data, err := json.MarshalIndent(l.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lease metadata: %w", err)
	}
	data = append(data, '\n')

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lease file: %w", err)
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lease file: %w", err)
	}
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write lease metadata: %w", err)
	}
	return l.file.Sync()
}

func readLeaseHolderHint(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("lock=%s", path)
	}
	var meta leaseMetadata
	if err := json.Unmarshal(data, &meta); err != nil || meta.RunID == "" {
		return fmt.Sprintf("lock=%s", path)
	}
	return fmt.Sprintf("run=%s pid=%d host=%s renewed_at=%s", meta.RunID, meta.PID, meta.Host, meta.RenewedAt)
}
