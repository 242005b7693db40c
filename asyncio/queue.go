/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
// Package asyncio provides the cooperative job queue (CJQ) and the
// streaming JSON codec (SJC) that back the auxiliary stores' async
// write pipeline: large blobs are streamed to disk in small chunks so
// a constrained host's event loop is never starved by one big write.
package asyncio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// sliceBudget bounds how long a single Step call may run before the
// queue considers the slice over, mirroring the "suspend after every
// <=1ms of work" guidance for the streaming codec.
const sliceBudget = time.Millisecond

// minBackpressureMs / maxBackpressureMs / perQueuedMs implement the
// delay formula min(100 + 25*queued, 300) ms between slices.
const (
	minBackpressureMs = 100
	maxBackpressureMs = 300
	perQueuedMs       = 25
)

// StepFunc advances a job until either it completes (done=true) or it
// voluntarily yields before the deadline (done=false). A job that
// returns an error is treated as complete with that error.
type StepFunc func(deadline time.Time) (done bool, err error)

// Job is one unit of cooperatively-scheduled work.
type Job struct {
	Step       StepFunc
	OnComplete func(error)
}

type ctrlKind int

const (
	ctrlEnqueue ctrlKind = iota
	ctrlTick
	ctrlReset
	ctrlEmergencyStop
	ctrlIsBusy
	ctrlStop
)

type ctrlMsg struct {
	kind  ctrlKind
	job   Job
	reply chan bool
}

// Queue is a single-threaded FIFO executor: one goroutine, one job
// active at a time, strict FIFO ordering, no preemption inside a
// slice. All state lives in the run loop; callers only ever talk to it
// over ctrl, the same channel-actor shape the engine's query cache
// uses.
type Queue struct {
	ctrl   chan ctrlMsg
	logger zerolog.Logger

	wg sync.WaitGroup
}

// New starts the queue's run loop and returns a handle. Call Close to
// stop it; this is an owned resource on whatever handle
// constructs it, not a package-level global.
func New(logger zerolog.Logger) *Queue {
	q := &Queue{ctrl: make(chan ctrlMsg, 64), logger: logger}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()

	var pending []Job
	var active *Job
	var timer *time.Timer
	emergency := false

	backpressureDelay := func() time.Duration {
		ms := minBackpressureMs + perQueuedMs*len(pending)
		if ms > maxBackpressureMs {
			ms = maxBackpressureMs
		}
		return time.Duration(ms) * time.Millisecond
	}

	armAfter := func(delay time.Duration) {
		if timer != nil {
			return
		}
		timer = time.AfterFunc(delay, func() {
			q.ctrl <- ctrlMsg{kind: ctrlTick}
		})
	}
	// armNext schedules the *next* slice of an already-running job, so
	// it carries the backpressure delay.
	armNext := func() { armAfter(backpressureDelay()) }

	for msg := range q.ctrl {
		switch msg.kind {
		case ctrlEnqueue:
			wasIdle := active == nil && len(pending) == 0
			pending = append(pending, msg.job)
			if wasIdle {
				// Kicking off from idle starts the first slice right away;
				// the backpressure delay only governs slices after that.
				armAfter(0)
			} else {
				armNext()
			}

		case ctrlReset:
			pending = nil

		case ctrlEmergencyStop:
			pending = nil
			emergency = true
			q.logger.Warn().Msg("emergency stop: queue drained, active job (if any) will not be rescheduled")

		case ctrlIsBusy:
			busy := active != nil || len(pending) >= 4
			msg.reply <- busy

		case ctrlStop:
			timer = nil
			return

		case ctrlTick:
			timer = nil

			if active == nil {
				if emergency || len(pending) == 0 {
					continue
				}
				active = &pending[0]
				pending = pending[1:]
			}

			deadline := time.Now().Add(sliceBudget)
			done, err := active.Step(deadline)

			if done {
				if active.OnComplete != nil {
					active.OnComplete(err)
				}
				active = nil
			} else if emergency {
				// The slice in flight runs to its own yield point, but
				// an emergency stop means it is never handed another one.
				active = nil
			}

			if active != nil || (!emergency && len(pending) > 0) {
				armNext()
			}
		}
	}
}

// Enqueue appends job to the tail of the FIFO.
func (q *Queue) Enqueue(job Job) {
	q.ctrl <- ctrlMsg{kind: ctrlEnqueue, job: job}
}

// IsBusy reports whether the queue is actively running a job or has
// accumulated backlog (queued >= 4); callers poll this instead of
// receiving a BackpressureRefused error.
func (q *Queue) IsBusy() bool {
	reply := make(chan bool, 1)
	q.ctrl <- ctrlMsg{kind: ctrlIsBusy, reply: reply}
	return <-reply
}

// Reset drops every queued job; a job currently mid-slice keeps
// running its remaining slices to completion.
func (q *Queue) Reset() {
	q.ctrl <- ctrlMsg{kind: ctrlReset}
}

// EmergencyStop drops every queued job and additionally ensures the
// currently active job (if any) is not rescheduled past its
// in-flight slice.
func (q *Queue) EmergencyStop() {
	q.ctrl <- ctrlMsg{kind: ctrlEmergencyStop}
}

// Close stops the run loop. Pending and active jobs are abandoned;
// callers that need a clean drain should poll IsBusy until it is
// false before calling Close.
func (q *Queue) Close() {
	q.ctrl <- ctrlMsg{kind: ctrlStop}
	q.wg.Wait()
}
