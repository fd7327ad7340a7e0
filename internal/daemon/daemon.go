package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"montage/internal/api"
	"montage/internal/config"
	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/pipeline"
)

// Daemon coordinates the pipeline manager, the HTTP API, and retention
// cleanup, and enforces single-instance execution through a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *jobs.Store
	manager *pipeline.Manager
	service *api.Service

	lockPath string
	lock     *flock.Flock

	apiSrv *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Pipeline     pipeline.StatusSummary
	JobDBPath    string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, manager *pipeline.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, logger, and pipeline manager")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "montaged.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		service:  api.NewService(store, manager),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiSrv = srv
	return d, nil
}

// Start launches the pipeline manager, the API server, and the cleanup
// loop, after acquiring the daemon lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another montage daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.manager.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start pipeline: %w", err)
	}

	if d.apiSrv != nil {
		if err := d.apiSrv.start(d.ctx); err != nil {
			d.manager.Stop()
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}

	d.startCleanupLoop()

	d.running.Store(true)
	d.logger.Info("montage daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.manager.Stop()
	if d.apiSrv != nil {
		d.apiSrv.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("montage daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Service exposes the API facade backing the HTTP surface.
func (d *Daemon) Service() *api.Service {
	return d.service
}

// APIAddr returns the bound API listener address, or empty when the
// API surface is disabled.
func (d *Daemon) APIAddr() string {
	if d.apiSrv == nil {
		return ""
	}
	return d.apiSrv.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Pipeline:     d.manager.Status(ctx),
		JobDBPath:    filepath.Join(d.cfg.Paths.DataDir, "jobs.db"),
		LockFilePath: d.lockPath,
	}
}

// startCleanupLoop periodically deletes terminal jobs older than the
// configured retention window. Zero retention or interval disables it.
func (d *Daemon) startCleanupLoop() {
	interval := time.Duration(d.cfg.Pipeline.CleanupInterval) * time.Second
	retention := time.Duration(d.cfg.Pipeline.RetentionDays) * 24 * time.Hour
	if interval <= 0 || retention <= 0 {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				removed, err := d.store.DeleteTerminalBefore(d.ctx, cutoff)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						d.logger.Warn("retention cleanup failed", logging.Error(err))
					}
					continue
				}
				if removed > 0 {
					d.logger.Info("retention cleanup removed jobs", logging.Int64("removed", removed))
				}
			}
		}
	}()
}
