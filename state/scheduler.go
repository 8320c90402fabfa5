package state

import (
	"time"
)

// ScheduleTask runs fun once after delay, unless the environment has been cancelled by then
func (e *Env) ScheduleTask(fun func() error, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if e.Context.Err() != nil {
			return
		}
		if err := fun(); err != nil {
			e.Log.Error("error occurred during scheduled task", "error", err)
		}
	})
}

func (e *Env) repeatedTask(fun func() error, delay time.Duration) {
	defer e.tasks.Done()
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-e.Context.Done():
			return
		case <-ticker.C:
			if e.Context.Err() != nil {
				return
			}
			if err := fun(); err != nil {
				// a failed cycle never stops the schedule, the next tick will retry
				e.Log.Error("error occurred during repeated task", "error", err)
			}
		}
	}
}

// RepeatTask runs fun every delay until the environment is cancelled
func (e *Env) RepeatTask(fun func() error, delay time.Duration) {
	e.tasks.Add(1)
	go e.repeatedTask(fun, delay)
}

// Wait blocks until every repeated task has observed cancellation
func (e *Env) Wait() {
	e.tasks.Wait()
}
