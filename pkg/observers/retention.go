package observers

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/robfig/cron/v3"
)

// PurgeTimelines removes timeline files in dir older than maxAge and
// returns how many were deleted. Other files are left alone.
func PurgeTimelines(dir string, maxAge time.Duration) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var (
		removed int
		errs    error
	)
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), timelineExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

// RetentionSweeper purges expired timelines on a schedule.
type RetentionSweeper struct {
	dir    string
	maxAge time.Duration
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRetentionSweeper schedules PurgeTimelines. schedule is a cron
// expression, a descriptor such as "@daily", or a Go duration.
func NewRetentionSweeper(dir string, maxAge time.Duration, schedule string, logger *slog.Logger) (*RetentionSweeper, error) {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	s := &RetentionSweeper{
		dir:    dir,
		maxAge: maxAge,
		cron:   cron.New(),
		logger: logging.NewComponentLogger(logger, "retention"),
	}
	s.cron.Schedule(sched, cron.FuncJob(s.Sweep))
	return s, nil
}

// Sweep runs one purge immediately.
func (s *RetentionSweeper) Sweep() {
	n, err := PurgeTimelines(s.dir, s.maxAge)
	if err != nil {
		s.logger.Warn("timeline_purge_failed", "dir", s.dir, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("timeline_purged", "dir", s.dir, "files", n)
	}
}

func (s *RetentionSweeper) Start() { s.cron.Start() }

// Stop waits for a running sweep to finish.
func (s *RetentionSweeper) Stop() {
	<-s.cron.Stop().Done()
}

func parseSchedule(schedule string) (cron.Schedule, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = "@daily"
	}
	if sched, err := cron.ParseStandard(schedule); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q", schedule)
	}
	if d <= 0 {
		return nil, fmt.Errorf("retention schedule must be positive: %q", schedule)
	}
	return cron.Every(d), nil
}
