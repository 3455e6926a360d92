package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetention  = 7 * 24 * time.Hour
	DefaultSchedule   = "0 3 * * *"
	DefaultMaxEntries = 500
)

// CleanupConfig controls transcript retention.
type CleanupConfig struct {
	Schedule   string        // five field cron expression
	Retention  time.Duration // transcripts untouched for longer are deleted
	MaxEntries int           // longer transcripts keep only their tail, 0 disables pruning
	// IsActive reports sessions that must not be touched, such as calls in progress.
	IsActive func(sessionKey string) bool
	// AfterRun is called at the end of every pass, for state kept outside
	// the transcript store.
	AfterRun func(ctx context.Context)
}

// CleanupResult summarizes one cleanup pass.
type CleanupResult struct {
	Deleted int
	Pruned  int
}

// Cleanup expires and prunes transcripts on a cron schedule.
type Cleanup struct {
	manager *SessionManager
	cfg     CleanupConfig
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	now     func() time.Time
}

// NewCleanup validates the schedule and returns a stopped Cleanup.
func NewCleanup(manager *SessionManager, cfg CleanupConfig) (*Cleanup, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := &Cleanup{
		manager: manager,
		cfg:     cfg,
		cron:    cron.New(cron.WithParser(parser)),
		now:     time.Now,
	}

	if _, err := c.cron.AddFunc(cfg.Schedule, c.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return c, nil
}

// Start begins running passes on the schedule.
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}
	c.cron.Start()
	c.running = true

	log.Info().
		Str("schedule", c.cfg.Schedule).
		Dur("retention", c.cfg.Retention).
		Msg("Session cleanup started")
	return nil
}

// Stop halts the schedule and waits for a pass in progress.
func (c *Cleanup) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	<-c.cron.Stop().Done()
	log.Info().Msg("Session cleanup stopped")
}

// IsRunning returns whether the schedule is active.
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// NextRun returns the next scheduled pass, or the zero time when stopped.
func (c *Cleanup) NextRun() time.Time {
	entries := c.cron.Entries()
	if len(entries) == 0 || !c.IsRunning() {
		return time.Time{}
	}
	return entries[0].Next
}

func (c *Cleanup) runScheduled() {
	if _, err := c.RunNow(context.Background()); err != nil {
		log.Error().Err(err).Msg("Session cleanup failed")
	}
}

// RunNow performs one pass immediately.
func (c *Cleanup) RunNow(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult

	sessions, err := c.manager.List()
	if err != nil {
		return result, fmt.Errorf("failed to list sessions: %w", err)
	}

	cutoff := c.now().Add(-c.cfg.Retention)
	for _, key := range sessions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if c.cfg.IsActive != nil && c.cfg.IsActive(key) {
			continue
		}

		info, err := c.manager.Info(ctx, key)
		if err != nil {
			log.Warn().Str("session_key", key).Err(err).Msg("Failed to get session info")
			continue
		}

		if info.LastModified.Before(cutoff) {
			if err := c.manager.Delete(ctx, key); err != nil {
				log.Error().Str("session_key", key).Err(err).Msg("Failed to delete session")
				continue
			}
			result.Deleted++
			continue
		}

		pruned, err := c.prune(ctx, key)
		if err != nil {
			log.Warn().Str("session_key", key).Err(err).Msg("Failed to prune session")
			continue
		}
		if pruned {
			result.Pruned++
		}
	}

	if result.Deleted > 0 || result.Pruned > 0 {
		log.Info().
			Int("deleted", result.Deleted).
			Int("pruned", result.Pruned).
			Msg("Cleaned up sessions")
	}
	if c.cfg.AfterRun != nil {
		c.cfg.AfterRun(ctx)
	}
	return result, nil
}

func (c *Cleanup) prune(ctx context.Context, key string) (bool, error) {
	if c.cfg.MaxEntries <= 0 {
		return false, nil
	}

	entries, err := c.manager.Load(ctx, key)
	if err != nil {
		return false, err
	}
	if len(entries) <= c.cfg.MaxEntries {
		return false, nil
	}

	if err := c.manager.Replace(ctx, key, entries[len(entries)-c.cfg.MaxEntries:]); err != nil {
		return false, err
	}
	return true, nil
}
