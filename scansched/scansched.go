// Package scansched cron-schedules the registry's directory rescan
// (spec §4.5: "scanner-driven refresh") so user node types dropped onto
// disk are picked up without a restart.
//
// Grounded on petalflow's server/cron.go: the same UTC-only standard
// five-field parser, rejecting CRON_TZ/TZ prefixes, wrapped around
// robfig/cron/v3's scheduler instead of a bespoke ticker loop.
package scansched

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pflow-dev/pflow/registry"
)

var standardParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ParseUTC validates expr as a standard five-field, UTC-only cron
// expression. CRON_TZ=/TZ= prefixes are rejected since the scheduler
// always evaluates schedules in UTC.
func ParseUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("scansched: cron expression is required")
	}
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("scansched: cron expression must be UTC-only (timezone prefixes are not allowed)")
	}
	schedule, err := standardParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("scansched: invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Scheduler periodically rescans a set of allow-listed directories and
// merges discovered user node types into a Registry.
type Scheduler struct {
	reg          *registry.Registry
	allowedRoots []string

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// New creates a Scheduler bound to reg, scanning allowedRoots on each
// tick.
func New(reg *registry.Registry, allowedRoots []string) *Scheduler {
	return &Scheduler{
		reg:          reg,
		allowedRoots: allowedRoots,
		cron:         cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start validates expr and begins running scans on that schedule. It is
// safe to call Start again to change the schedule; the previous job is
// removed first.
func (s *Scheduler) Start(expr string) error {
	schedule, err := ParseUTC(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = s.cron.Schedule(schedule, cron.FuncJob(s.runOnce))
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight scan to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// RunNow performs one scan immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.scan(ctx)
}

func (s *Scheduler) runOnce() {
	if err := s.scan(context.Background()); err != nil {
		slog.Error("scheduled registry scan failed", "err", err)
	}
}

func (s *Scheduler) scan(_ context.Context) error {
	found, err := registry.Scan(s.allowedRoots)
	if err != nil {
		return fmt.Errorf("scansched: scan: %w", err)
	}
	s.reg.UpdateFromScanner(found)
	if err := s.reg.Save(); err != nil {
		return fmt.Errorf("scansched: save registry: %w", err)
	}
	slog.Info("registry scan complete", "found", len(found), "roots", len(s.allowedRoots))
	return nil
}
