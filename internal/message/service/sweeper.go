package service

import (
	"context"
	"strconv"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically runs Service.SweepExpired to mark TTL-elapsed
// messages as expired, grounded on the same cron.New/AddFunc scheduling
// style used elsewhere in the stack for periodic background work.
type Sweeper struct {
	svc *Service
	c   *cron.Cron
}

// NewSweeper constructs a Sweeper. intervalSeconds is not stored; the sweep
// interval is the one passed to Start.
func NewSweeper(svc *Service, intervalSeconds int) *Sweeper {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	return &Sweeper{svc: svc, c: cron.New()}
}

// Start schedules and begins the periodic sweep. Returns an error only if
// the underlying cron spec fails to parse, which cannot happen with the
// fixed spec this type builds.
func (sw *Sweeper) Start(intervalSeconds int) error {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	spec := cronEverySeconds(intervalSeconds)
	if _, err := sw.c.AddFunc(spec, func() {
		sw.svc.SweepExpired(context.Background())
	}); err != nil {
		return err
	}
	sw.c.Start()
	return nil
}

// Stop halts the sweep, waiting for any in-flight run to finish.
func (sw *Sweeper) Stop() {
	<-sw.c.Stop().Done()
}

func cronEverySeconds(n int) string {
	return "@every " + strconv.Itoa(n) + "s"
}
