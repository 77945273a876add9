package background

import (
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/arcrelay/cagateway/internal/signature"
)

// retentionSchedule runs once daily, well outside business hours for any
// timezone the process happens to run in.
const retentionSchedule = "17 3 * * *"

// RetentionScheduler wraps a cron job that sweeps the signature cache's
// on-disk files past their retention window.
type RetentionScheduler struct {
	cron *cron.Cron
}

// StartRetentionSweep schedules a daily signature.Cache.RetentionSweep and
// returns a scheduler the caller must Stop on shutdown.
func StartRetentionSweep(cache *signature.Cache) (*RetentionScheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(retentionSchedule, func() {
		if err := cache.RetentionSweep(); err != nil {
			log.WithError(err).Warn("background: signature retention sweep failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &RetentionScheduler{cron: c}, nil
}

// Stop halts the cron scheduler, waiting for any in-flight job to finish.
func (r *RetentionScheduler) Stop() {
	<-r.cron.Stop().Done()
}
