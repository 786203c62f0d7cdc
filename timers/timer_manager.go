package timers

import (
	"time"

	"github.com/RussellLuo/timingwheel"
)

// TimerManager schedules cancellable delayed tasks on a timing wheel.
// Returned timers can be stopped if a run is cancelled mid backoff.
type TimerManager struct {
	wheel *timingwheel.TimingWheel
}

func NewTimerManager(maxDelayInSeconds int64) *TimerManager {
	return &TimerManager{
		wheel: timingwheel.NewTimingWheel(time.Millisecond, maxDelayInSeconds*1000),
	}
}

func (m *TimerManager) Init() {
	m.wheel.Start()
}

func (m *TimerManager) AddTask(delay time.Duration, task func()) *timingwheel.Timer {
	return m.wheel.AfterFunc(delay, task)
}

func (m *TimerManager) Stop() {
	m.wheel.Stop()
}
