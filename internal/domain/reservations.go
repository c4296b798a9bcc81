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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/storage"
)

///////////////////////////
// Reservation Domain Functions
///////////////////////////

// SubmitReservation creates a reservation in the Unconfirmed state together
// with its owning queue.  The scheduler confirms or denies it later.
func SubmitReservation(parameters model.SubmitParameter) (pb model.Passback) {
	release := acquireOwner()
	defer release()

	now := GLOB.Now()

	if parameters.Owner == "" {
		pb = model.BuildErrorPassback(http.StatusBadRequest,
			model.NewInvalidInputError("reservation owner is required"))
		return
	}
	if parameters.SelectSpec == "" {
		pb = model.BuildErrorPassback(http.StatusBadRequest,
			model.NewInvalidInputError("reservation select spec is required"))
		return
	}
	if parameters.StartTime <= 0 {
		pb = model.BuildErrorPassback(http.StatusBadRequest,
			model.NewInvalidInputError("reservation start time is required"))
		return
	}

	endTime := parameters.EndTime
	duration := parameters.Duration
	if endTime == 0 && duration > 0 {
		endTime = parameters.StartTime + duration
	}
	if duration == 0 && endTime > parameters.StartTime {
		duration = endTime - parameters.StartTime
	}
	if endTime <= parameters.StartTime {
		pb = model.BuildErrorPassback(http.StatusBadRequest,
			model.NewInvalidInputError("reservation window is empty"))
		return
	}
	if endTime <= now.Unix() {
		err := errors.Wrap(model.ErrTimeSpecInvalid, "reservation window already over")
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error submitting reservation")
		return
	}

	prefix := model.AdvanceIDPrefix
	occurrenceCount := 1
	switch parameters.Kind {
	case "", "advance":
	case "standing":
		if parameters.OccurrenceCount < 2 || parameters.OccurrencePeriod <= 0 {
			pb = model.BuildErrorPassback(http.StatusBadRequest,
				model.NewInvalidInputError("standing reservation needs occurrenceCount >= 2 and occurrencePeriod > 0"))
			return
		}
		prefix = model.StandingIDPrefix
		occurrenceCount = parameters.OccurrenceCount
	case "maintenance":
		prefix = model.MaintenanceIDPrefix
	default:
		pb = model.BuildErrorPassback(http.StatusBadRequest,
			model.NewInvalidInputError("unknown reservation kind "+parameters.Kind))
		return
	}

	seq, err := (*GLOB.DSP).NextReservationSeq()
	if err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error allocating reservation sequence")
		return
	}

	r := model.Reservation{
		ReservationID:         fmt.Sprintf("%s%d.%s", prefix, seq, GLOB.ServerName),
		Owner:                 parameters.Owner,
		State:                 model.State_Unconfirmed,
		SubState:              model.SubState_Unconfirmed,
		StartTime:             parameters.StartTime,
		EndTime:               endTime,
		Duration:              duration,
		SelectSpec:            parameters.SelectSpec,
		NodeNames:             []string{},
		OccurrenceIdx:         1,
		OccurrenceCount:       occurrenceCount,
		OccurrencePeriod:      parameters.OccurrencePeriod,
		DeleteIdleTime:        parameters.DeleteIdleTime,
		Interactive:           parameters.Interactive,
		SchedRepliesRequested: GLOB.SchedulerCount,
		CreatedAt:             now,
		LastUpdated:           now,
	}
	r.QueueName = r.QueueStem()

	q := model.Queue{
		Name:        r.QueueName,
		Started:     true,
		LastUpdated: now,
	}
	if err := (*GLOB.DSP).StoreQueue(q); err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error storing reservation queue")
		return
	}
	if err := (*GLOB.DSP).StoreReservation(r); err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error storing reservation")
		return
	}

	recordAccounting(model.AcctResvUnconfirmed, &r,
		fmt.Sprintf("requestor=%s@%s start=%d end=%d", r.Owner, GLOB.ServerName,
			r.StartTime, r.EndTime))
	logger.Log.WithFields(logrus.Fields{
		"resvID": r.ReservationID, "owner": r.Owner,
	}).Info("Reservation submitted.")

	pb = model.BuildSuccessPassback(http.StatusCreated, r.ToResp())
	return
}

// GetReservations lists reservation records, optionally narrowed to a
// state name and/or a bound node.
func GetReservations(stateFilter string, nodeFilter string) (pb model.Passback) {
	resvs, err := (*GLOB.DSP).GetAllReservations()
	if err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error retrieving reservations")
		return
	}
	rsp := model.ReservationList{Reservations: []model.ReservationResp{}}
	for _, r := range resvs {
		if stateFilter != "" && r.State.String() != stateFilter {
			continue
		}
		if nodeFilter != "" {
			if _, bound := model.Find(r.NodeNames, nodeFilter); !bound {
				continue
			}
		}
		rsp.Reservations = append(rsp.Reservations, r.ToResp())
	}
	pb = model.BuildSuccessPassback(http.StatusOK, rsp)
	return
}

// GetReservation fetches one reservation record.
func GetReservation(resvID string) (pb model.Passback) {
	r, err := loadReservation(resvID)
	if err != nil {
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error retrieving reservation")
		return
	}
	pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
	return
}

// DeleteReservation purges a reservation at the request of its owner or a
// manager.  A blocked submitter gets its terminal DENIED reply.
func DeleteReservation(resvID string, requestor string) (pb model.Passback) {
	release := acquireOwner()
	defer release()

	r, err := loadReservation(resvID)
	if err != nil {
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error retrieving reservation for delete")
		return
	}
	if requestor != r.Owner && !IsManager(requestor) {
		err := errors.Wrapf(model.ErrPermissionDenied,
			"%s may not delete reservation %s", requestor, resvID)
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error deleting reservation")
		return
	}

	notifyOwner(&r, model.OwnerEventDeleted, "deleted at client request")
	if err := purgeReservation(&r, model.AcctResvDeleteClient, model.ReplyDenied); err != nil {
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error purging reservation")
		return
	}
	pb = model.BuildSuccessPassback(http.StatusNoContent, nil)
	return
}

// AlterReservation stages a change to a confirmed reservation's select
// spec and/or window.  The change takes effect when the scheduler confirms
// it; denial reverts to the snapshot taken here.
func AlterReservation(resvID string, parameters model.AlterParameter, requestor string) (pb model.Passback) {
	release := acquireOwner()
	defer release()

	r, err := loadReservation(resvID)
	if err != nil {
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error retrieving reservation for alter")
		return
	}
	if requestor != r.Owner && !IsManager(requestor) {
		err := errors.Wrapf(model.ErrPermissionDenied,
			"%s may not alter reservation %s", requestor, resvID)
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error altering reservation")
		return
	}
	switch r.State {
	case model.State_Confirmed, model.State_Running, model.State_Degraded:
	default:
		err := errors.Wrapf(model.ErrProtocolViolation,
			"reservation %s is %s, not alterable", resvID, r.State.String())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error altering reservation")
		return
	}
	if r.Alter.Active() {
		err := errors.Wrapf(model.ErrProtocolViolation,
			"reservation %s already has an alteration pending", resvID)
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error altering reservation")
		return
	}

	selectModified := parameters.SelectSpec != "" && parameters.SelectSpec != r.SelectSpec
	startModified := parameters.StartTime > 0 && parameters.StartTime != r.StartTime
	endModified := parameters.EndTime > 0 && parameters.EndTime != r.EndTime
	if !selectModified && !startModified && !endModified {
		pb = model.BuildErrorPassback(http.StatusBadRequest,
			model.NewInvalidInputError("alteration changes nothing"))
		return
	}

	newStart := r.StartTime
	newEnd := r.EndTime
	if startModified {
		newStart = parameters.StartTime
	}
	if endModified {
		newEnd = parameters.EndTime
	} else if startModified {
		newEnd = newStart + r.Duration
	}
	if newEnd <= newStart || newEnd <= GLOB.Now().Unix() {
		err := errors.Wrap(model.ErrTimeSpecInvalid, "altered window not viable")
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error altering reservation")
		return
	}

	r.Alter = model.AlterRecord{
		SelectModified:   selectModified,
		StartModified:    startModified,
		EndModified:      endModified,
		Forced:           parameters.Force,
		RevertState:      r.State,
		RevertSubState:   r.SubState,
		RevertStart:      r.StartTime,
		RevertEnd:        r.EndTime,
		RevertExecVnodes: r.ExecVnodes,
	}
	if selectModified {
		r.SelectSpecOrig = r.SelectSpec
		r.SelectSpec = parameters.SelectSpec
	}
	r.StartTime = newStart
	r.EndTime = newEnd
	r.Duration = newEnd - newStart
	r.SchedRepliesReceived = 0
	r.State, r.SubState = model.EvalResvState(model.ResvEvent_AlterationApplied,
		r.State, r.SubState, r.StartElapsed(GLOB.Now()),
		r.OccurrenceIdx < r.OccurrenceCount)
	r.LastUpdated = GLOB.Now()

	if err := (*GLOB.DSP).StoreReservation(r); err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error persisting alteration")
		return
	}

	notifyOwner(&r, model.OwnerEventReconfirmRequest, "alteration awaiting scheduler confirmation")
	logger.Log.WithFields(logrus.Fields{
		"resvID": resvID, "forced": parameters.Force,
	}).Info("Reservation alteration staged.")
	pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
	return
}

// GetQueue fetches one queue record.
func GetQueue(name string) (pb model.Passback) {
	q, err := (*GLOB.DSP).GetQueue(name)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			pb = model.BuildErrorPassback(http.StatusNotFound, err)
		} else {
			pb = model.BuildErrorPassback(http.StatusInternalServerError, err)
		}
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "queue": name}).Error("Error retrieving queue")
		return
	}
	pb = model.BuildSuccessPassback(http.StatusOK, q)
	return
}

///////////////////////////
// Non-exported functions (helpers, utils, etc)
///////////////////////////

// loadReservation maps a storage miss to the unknown-reservation taxonomy
// class so every caller rejects consistently.
func loadReservation(resvID string) (model.Reservation, error) {
	r, err := (*GLOB.DSP).GetReservation(resvID)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return r, errors.Wrapf(model.ErrUnknownReservation, "reservation %s", resvID)
		}
		return r, errors.Wrap(model.ErrStorageFailure, err.Error())
	}
	return r, nil
}

// purgeReservation destroys a reservation: ledger released first, then the
// node links, then timers, queue, and the record itself.  acctType may be
// empty when the caller already recorded the event.
func purgeReservation(r *model.Reservation, acctType string, replyWord string) error {
	if err := releaseLedger(r); err != nil {
		return err
	}
	if err := releaseNodeBindings(r); err != nil {
		return err
	}
	cancelReservationTasks(r.ReservationID)

	if acctType != "" {
		recordAccounting(acctType, r,
			fmt.Sprintf("requestor=%s@%s", r.Owner, GLOB.ServerName))
	}
	replyInteractive(r.ReservationID, replyWord)

	if err := (*GLOB.DSP).DeleteQueue(r.QueueName); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID, "queue": r.QueueName,
		}).Error("Error deleting reservation queue")
	}
	if err := (*GLOB.DSP).DeleteReservation(r.ReservationID); err != nil {
		return errors.Wrap(model.ErrStorageFailure, err.Error())
	}
	r.State = model.State_Deleted
	r.SubState = model.SubState_Deleted
	logger.Log.WithFields(logrus.Fields{"resvID": r.ReservationID}).Info("Reservation purged.")
	return nil
}

// computeRetryTime picks the next scheduler retry for a degraded
// reservation: the midpoint of now and the window start when that midpoint
// is strictly between them, otherwise a configured delay after the soonest
// occurrence start (or after now when the start already passed).
func computeRetryTime(now int64, start int64, delta int64) int64 {
	mid := now + (start-now)/2
	if mid > now && mid < start {
		return mid
	}
	base := start
	if base < now {
		base = now
	}
	return base + delta
}

// setRetryTime stamps the reservation and arms the retry task.
func setRetryTime(r *model.Reservation) {
	r.RetryTime = computeRetryTime(GLOB.Now().Unix(), r.StartTime, GLOB.RetryDeltaSecs)
	if _, err := scheduleTask(r.ReservationID, model.TaskKind_Retry, r.RetryTime); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error scheduling reservation retry")
	}
}

///////////////////////////
// Interactive replies
///////////////////////////

// RegisterInteractiveWaiter parks a blocking submitter.  The channel is
// buffered so the terminal reply never blocks the domain.
func RegisterInteractiveWaiter(resvID string) (chan string, error) {
	ch := make(chan string, 1)
	if !GLOB.InteractiveReplies.SetIfAbsent(resvID, ch) {
		return nil, errors.Wrapf(model.ErrProtocolViolation,
			"reservation %s already has a waiting client", resvID)
	}
	return ch, nil
}

// UnregisterInteractiveWaiter drops a registration whose client went away.
func UnregisterInteractiveWaiter(resvID string) {
	GLOB.InteractiveReplies.Remove(resvID)
}

// replyInteractive delivers the terminal word to a waiting client, exactly
// once: the registration is removed before the send.
func replyInteractive(resvID string, word string) {
	if ch, ok := GLOB.InteractiveReplies.Pop(resvID); ok {
		ch <- fmt.Sprintf("%s %s", resvID, word)
	}
}

// DrainInteractiveWaiters terminates every parked submitter at shutdown.
func DrainInteractiveWaiters() {
	for _, resvID := range GLOB.InteractiveReplies.Keys() {
		replyInteractive(resvID, model.ReplyFailed)
	}
}

///////////////////////////
// Accounting and owner notification
///////////////////////////

// recordAccounting logs the accounting line unconditionally and hands the
// structured record to the notifier.
func recordAccounting(recType string, r *model.Reservation, text string) {
	at := GLOB.Now()
	line := model.FormatAccountingRecord(at, recType, r.ReservationID, text)
	logger.Log.WithFields(logrus.Fields{
		"resvID": r.ReservationID, "type": recType,
	}).Info(line)

	rec := model.AccountingRecord{
		Type:          recType,
		ReservationID: r.ReservationID,
		Text:          text,
		Recorded:      at.Format(time.RFC3339Nano),
	}
	if err := (*GLOB.NTF).AccountingRecord(context.Background(), rec); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error publishing accounting record")
	}
}

func notifyOwner(r *model.Reservation, event string, detail string) {
	ev := model.OwnerEvent{
		ReservationID: r.ReservationID,
		Owner:         r.Owner,
		Event:         event,
		Detail:        detail,
		Emitted:       GLOB.Now().Format(time.RFC3339Nano),
	}
	if err := (*GLOB.NTF).OwnerEvent(context.Background(), ev); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": err, "resvID": r.ReservationID,
		}).Error("Error publishing owner event")
	}
}
