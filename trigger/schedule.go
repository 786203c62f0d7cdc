package trigger

import (
	"sync"
	"time"

	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/util"
	"go.uber.org/zap"
)

// Scheduler is the external schedule collaborator. The router polls it on a
// fixed cadence; cron math lives entirely behind this interface.
type Scheduler interface {
	GetNextScheduleAt(workflowId string) (*time.Time, error)
	RunDueSchedules() error
}

type SchedulePoller struct {
	scheduler Scheduler
	stop      chan struct{}
	tw        *util.TickWorker
}

func NewSchedulePoller(scheduler Scheduler, intervalSeconds int, wg *sync.WaitGroup) *SchedulePoller {
	p := &SchedulePoller{
		scheduler: scheduler,
		stop:      make(chan struct{}),
	}
	fn := func() {
		if err := p.scheduler.RunDueSchedules(); err != nil {
			logger.Error("error running due schedules", zap.Error(err))
		}
	}
	p.tw = util.NewTickWorker("schedule-poller", intervalSeconds, p.stop, fn, wg)
	return p
}

func (p *SchedulePoller) Start() {
	p.tw.Start()
}

func (p *SchedulePoller) Stop() {
	p.tw.Stop()
}

func (p *SchedulePoller) NextScheduleAt(workflowId string) (*time.Time, error) {
	return p.scheduler.GetNextScheduleAt(workflowId)
}

// NoopScheduler is used when no schedule collaborator is wired.
type NoopScheduler struct{}

func (NoopScheduler) GetNextScheduleAt(workflowId string) (*time.Time, error) {
	return nil, nil
}

func (NoopScheduler) RunDueSchedules() error {
	return nil
}
