/*
 * MIT License
 *
 * (C) Copyright [2025] The OpenBatch Project
 *
 * Permission is hereby granted, free of charge, to any person obtaining a
 * copy of this software and associated documentation files (the "Software"),
 * to deal in the Software without restriction, including without limitation
 * the rights to use, copy, modify, merge, publish, distribute, sublicense,
 * and/or sell copies of the Software, and to permit persons to whom the
 * Software is furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL
 * THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR
 * OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
 * ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
 * OTHER DEALINGS IN THE SOFTWARE.
 */

package domain

import (
	"container/heap"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/execvnode"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/storage"
)

///////////////////////////
// Idle/Expiry Timer Service
///////////////////////////

// Tasks wait in a time-ordered heap.  Cancellation never digs a task out of
// the heap: the ID goes into the cancelled set and the entry is dropped when
// it surfaces.  armedTasks maps reservation|kind to the live task ID so
// scheduling is cancel-then-reschedule.

type taskHeap []model.TimedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].FireAt != h[j].FireAt {
		return h[i].FireAt < h[j].FireAt
	}
	return h[i].TaskID.String() < h[j].TaskID.String()
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) {
	*h = append(*h, x.(model.TimedTask))
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

var (
	timerMtx       sync.Mutex
	timerQ         = &taskHeap{}
	cancelledTasks = cmap.New[bool]()
	armedTasks     = cmap.New[string]()
)

func armedKey(resvID string, kind model.TaskKind) string {
	return resvID + "|" + kind.String()
}

// scheduleTask persists and arms one timed task, replacing any live task of
// the same kind for the same reservation.
func scheduleTask(resvID string, kind model.TaskKind, fireAt int64) (model.TimedTask, error) {
	cancelTask(resvID, kind)
	task := model.NewTimedTask(resvID, kind, fireAt)
	if err := (*GLOB.DSP).StoreTimedTask(task); err != nil {
		return task, errors.Wrap(model.ErrStorageFailure, err.Error())
	}
	timerMtx.Lock()
	heap.Push(timerQ, task)
	timerMtx.Unlock()
	armedTasks.Set(armedKey(resvID, kind), task.TaskID.String())
	return task, nil
}

// cancelTask disarms the live (reservation, kind) task if one exists.
// Firing after cancellation is a no-op.
func cancelTask(resvID string, kind model.TaskKind) {
	key := armedKey(resvID, kind)
	tid, ok := armedTasks.Get(key)
	if !ok {
		return
	}
	cancelledTasks.Set(tid, true)
	armedTasks.Remove(key)
	if uid, err := uuid.Parse(tid); err == nil {
		if derr := (*GLOB.DSP).DeleteTimedTask(uid); derr != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": derr, "taskID": tid,
			}).Error("Error deleting cancelled timed task")
		}
	}
}

func cancelReservationTasks(resvID string) {
	for _, kind := range []model.TaskKind{
		model.TaskKind_WindowStart, model.TaskKind_WindowEnd,
		model.TaskKind_IdleDelete, model.TaskKind_Retry,
	} {
		cancelTask(resvID, kind)
	}
}

// RearmTimedTasks reloads persisted tasks after a restart.  Tasks whose
// reservation no longer exists are discarded; past-due tasks fire on the
// dispatcher's first tick.
func RearmTimedTasks() error {
	tasks, err := (*GLOB.DSP).GetAllTimedTasks()
	if err != nil {
		return errors.Wrap(model.ErrStorageFailure, err.Error())
	}
	armed := 0
	for _, task := range tasks {
		_, gerr := (*GLOB.DSP).GetReservation(task.ReservationID)
		if gerr != nil {
			if errors.Is(gerr, storage.ErrKeyNotFound) {
				if derr := (*GLOB.DSP).DeleteTimedTask(task.TaskID); derr != nil {
					logger.Log.WithFields(logrus.Fields{
						"ERROR": derr, "taskID": task.TaskID.String(),
					}).Error("Error discarding orphaned timed task")
				}
				continue
			}
			return errors.Wrap(model.ErrStorageFailure, gerr.Error())
		}
		timerMtx.Lock()
		heap.Push(timerQ, task)
		timerMtx.Unlock()
		armedTasks.Set(armedKey(task.ReservationID, task.Kind), task.TaskID.String())
		armed++
	}
	logger.Log.Infof("Re-armed %d timed task(s).", armed)
	return nil
}

// StartTaskDispatcher runs due tasks once a second until the service stops.
func StartTaskDispatcher() {
	go func() {
		logger.Log.Debug("Starting timed task dispatcher.")
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for *GLOB.Running {
			select {
			case <-ticker.C:
				RunDueTasks()
			}
		}
	}()
}

// RunDueTasks pops and runs every task due as of now.  The dispatcher calls
// it each tick; tests call it directly after advancing the clock.
func RunDueTasks() {
	now := GLOB.Now().Unix()
	for {
		timerMtx.Lock()
		if timerQ.Len() == 0 || (*timerQ)[0].FireAt > now {
			timerMtx.Unlock()
			return
		}
		task := heap.Pop(timerQ).(model.TimedTask)
		timerMtx.Unlock()

		if _, wasCancelled := cancelledTasks.Pop(task.TaskID.String()); wasCancelled {
			continue
		}
		dispatchTask(task)
	}
}

// dispatchTask runs one fired task inside the single-owner section.
func dispatchTask(task model.TimedTask) {
	release := acquireOwner()
	defer release()

	key := armedKey(task.ReservationID, task.Kind)
	if tid, ok := armedTasks.Get(key); ok && tid == task.TaskID.String() {
		armedTasks.Remove(key)
	}
	if err := (*GLOB.DSP).DeleteTimedTask(task.TaskID); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "taskID": task.TaskID.String(),
		}).Error("Error deleting fired timed task")
	}

	r, err := (*GLOB.DSP).GetReservation(task.ReservationID)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "resvID": task.ReservationID,
			}).Error("Error loading reservation for timed task")
		}
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"resvID": task.ReservationID, "kind": task.Kind.String(),
	}).Debug("Timed task firing.")

	switch task.Kind {
	case model.TaskKind_WindowStart:
		onWindowStartFire(&r)
	case model.TaskKind_WindowEnd:
		onWindowEndFire(&r)
	case model.TaskKind_IdleDelete:
		onIdleDeleteFire(&r)
	case model.TaskKind_Retry:
		onRetryFire(&r)
	}
}

// GetTimedTasks lists the persisted pending tasks.
func GetTimedTasks() (pb model.Passback) {
	tasks, err := (*GLOB.DSP).GetAllTimedTasks()
	if err != nil {
		pb = model.BuildErrorPassback(http.StatusInternalServerError, err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error retrieving timed tasks")
		return
	}
	rsp := model.TimedTaskList{Tasks: []model.TimedTaskResp{}}
	for _, task := range tasks {
		rsp.Tasks = append(rsp.Tasks, task.ToResp())
	}
	pb = model.BuildSuccessPassback(http.StatusOK, rsp)
	return
}

///////////////////////////
// Fire handlers
///////////////////////////

// onWindowStartFire activates a confirmed reservation at its start time:
// the ledger picks up the charge and the state machine runs WindowStarted.
func onWindowStartFire(r *model.Reservation) {
	if r.State != model.State_Confirmed && r.State != model.State_Degraded {
		return
	}
	if err := chargeLedger(r); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error charging ledger at window start")
		return
	}
	r.State, r.SubState = model.EvalResvState(model.ResvEvent_WindowStarted,
		r.State, r.SubState, true, r.OccurrenceIdx < r.OccurrenceCount)
	r.LastUpdated = GLOB.Now()
	if err := (*GLOB.DSP).StoreReservation(*r); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error persisting reservation at window start")
		return
	}
	recordAccounting(model.AcctResvBegin, r,
		model.ConfirmAccountingText(r, GLOB.ServerName))
	scheduleIdleDelete(r)
}

// onWindowEndFire either advances a standing reservation to its next
// occurrence or purges a finished one.
func onWindowEndFire(r *model.Reservation) {
	if r.State == model.State_Deleted {
		return
	}
	if r.IsStanding() && r.OccurrenceIdx < r.OccurrenceCount {
		advanceOccurrence(r)
		return
	}
	recordAccounting(model.AcctResvFinish, r,
		model.ConfirmAccountingText(r, GLOB.ServerName))
	notifyOwner(r, model.OwnerEventFinished, "window ended")
	if err := purgeReservation(r, "", model.ReplyFailed); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error purging reservation at window end")
	}
}

// advanceOccurrence rolls a standing reservation onto its next occurrence:
// release the old binding, rebind from the stored sequence, shift the
// window by the occurrence period, and re-arm both window timers.
func advanceOccurrence(r *model.Reservation) {
	if err := releaseLedger(r); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error releasing ledger at occurrence end")
		return
	}
	if err := releaseNodeBindings(r); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error releasing bindings at occurrence end")
		return
	}

	r.OccurrenceIdx++
	r.StartTime += r.OccurrencePeriod
	r.EndTime += r.OccurrencePeriod
	r.State, r.SubState = model.EvalResvState(model.ResvEvent_WindowEnded,
		r.State, r.SubState, r.StartElapsed(GLOB.Now()), true)

	seq, err := execvnode.ParseSequence(r.ExecVnodeSeq)
	if err == nil {
		var occ execvnode.Spec
		occ, err = seq.Next(r.SeqOffset())
		if err == nil {
			err = bindReservationNodes(r, occ)
		}
	}
	if err != nil {
		// The stored binding no longer works.  Degrade and ask the
		// scheduler for a fresh placement rather than dying here.
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
			"occurrence": r.OccurrenceIdx,
		}).Error("Error rebinding next occurrence, degrading reservation")
		r.State, r.SubState = model.EvalResvState(model.ResvEvent_DegradedByConflict,
			r.State, r.SubState, false, r.RemainingOccurrences() > 0)
		setRetryTime(r)
		notifyOwner(r, model.OwnerEventDegraded, "occurrence rebind failed")
	} else {
		if _, serr := scheduleTask(r.ReservationID, model.TaskKind_WindowStart,
			r.StartTime); serr != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": serr, "resvID": r.ReservationID,
			}).Error("Error scheduling window start for next occurrence")
		}
		if _, serr := scheduleTask(r.ReservationID, model.TaskKind_WindowEnd,
			r.EndTime); serr != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": serr, "resvID": r.ReservationID,
			}).Error("Error scheduling window end for next occurrence")
		}
	}

	r.LastUpdated = GLOB.Now()
	if err := (*GLOB.DSP).StoreReservation(*r); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error persisting reservation at occurrence advance")
	}
}

// scheduleIdleDelete arms the idle-delete timer when the reservation asked
// for one, is running, and its queue is empty.  The timer only makes sense
// before the window's own end.
func scheduleIdleDelete(r *model.Reservation) {
	if r.DeleteIdleTime <= 0 || r.State != model.State_Running {
		return
	}
	q, err := (*GLOB.DSP).GetQueue(r.QueueName)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": model.ErrInternalInconsistency,
				"resvID": r.ReservationID, "queue": r.QueueName,
			}).Error("Owning queue record missing while arming idle delete")
			return
		}
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error loading queue while arming idle delete")
		return
	}
	if q.ActiveJobs != 0 {
		return
	}
	fireAt := GLOB.Now().Unix() + r.DeleteIdleTime
	if fireAt >= r.EndTime {
		return
	}
	if _, err := scheduleTask(r.ReservationID, model.TaskKind_IdleDelete, fireAt); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error scheduling idle delete")
	}
}

// onIdleDeleteFire re-checks the empty-queue condition before purging; jobs
// may have arrived since the timer was armed.
func onIdleDeleteFire(r *model.Reservation) {
	if r.State != model.State_Running {
		return
	}
	q, err := (*GLOB.DSP).GetQueue(r.QueueName)
	if err == nil && q.ActiveJobs != 0 {
		return
	}
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error loading queue at idle delete")
		return
	}
	logger.Log.WithFields(logrus.Fields{
		"resvID": r.ReservationID,
	}).Info("Reservation idle past its limit, purging.")
	notifyOwner(r, model.OwnerEventDeleted, "idle past delete_idle_time")
	if err := purgeReservation(r, model.AcctResvDeleteServer, model.ReplyFailed); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error purging idle reservation")
	}
}

// onRetryFire nudges the external scheduler to re-place a degraded
// reservation.  State is untouched; the confirm path does the healing.
func onRetryFire(r *model.Reservation) {
	if r.SubState != model.SubState_InConflict && r.State != model.State_Degraded {
		return
	}
	notifyOwner(r, model.OwnerEventReconfirmRequest, "degraded reservation awaiting reconfirmation")
}
