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

	"github.com/openbatch/reservation-control/internal/execvnode"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
)

///////////////////////////
// Confirmation Handler
///////////////////////////

// ConfirmReservation processes one scheduler reply for a reservation:
// either a confirmation carrying the nodes to bind, or a denial.  An empty
// requestor is the scheduler channel itself; a named requestor must hold
// manager privilege.
func ConfirmReservation(parameters model.ConfirmParameter) (pb model.Passback) {
	release := acquireOwner()
	defer release()

	if parameters.Requestor != "" && !IsManager(parameters.Requestor) {
		err := errors.Wrapf(model.ErrPermissionDenied,
			"%s may not confirm reservations", parameters.Requestor)
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
			"resvID": parameters.ReservationID}).Error("Error confirming reservation")
		return
	}

	r, err := loadReservation(parameters.ReservationID)
	if err != nil {
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
			"resvID": parameters.ReservationID}).Error("Error confirming reservation")
		return
	}

	if parameters.Outcome == model.ConfirmOutcome_Success {
		pb = confirmSuccess(&r, parameters)
	} else {
		pb = confirmDeny(&r, parameters)
	}
	return
}

// confirmDeny handles a scheduler's failure reply.  A degraded reservation
// just gets a new retry; an unconfirmed one is purged once every scheduler
// has answered; a pending alteration is reverted, or turned into a
// synthesized success when the alteration was forced.
func confirmDeny(r *model.Reservation, parameters model.ConfirmParameter) (pb model.Passback) {
	now := GLOB.Now()
	r.SchedRepliesReceived++
	allRepliesIn := r.SchedRepliesReceived >= r.SchedRepliesRequested

	degraded := r.State == model.State_Degraded || r.SubState == model.SubState_InConflict
	if degraded && !r.Alter.Active() {
		setRetryTime(r)
		r.State, r.SubState = model.EvalResvState(model.ResvEvent_Denied,
			r.State, r.SubState, r.StartElapsed(now),
			r.OccurrenceIdx < r.OccurrenceCount)
		r.LastUpdated = now
		if err := (*GLOB.DSP).StoreReservation(*r); err != nil {
			err = errors.Wrap(model.ErrStorageFailure, err.Error())
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error persisting reservation retry")
			return
		}
		logger.Log.WithFields(logrus.Fields{
			"resvID": r.ReservationID, "retryTime": r.RetryTime,
		}).Info("Degraded reservation denied, retry rescheduled.")
		pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
		return
	}

	if r.Alter.Active() {
		if r.Alter.Forced && allRepliesIn {
			// Administrator override: the denial proceeds as a success
			// carrying the reservation's own binding and start time.
			logger.Log.WithFields(logrus.Fields{
				"resvID": r.ReservationID,
			}).Info("Forced alteration denied by scheduler, synthesizing success.")
			synth := parameters
			synth.Outcome = model.ConfirmOutcome_Success
			synth.ExecVnodes = currentBindingWire(r)
			synth.StartTime = r.StartTime
			pb = confirmSuccess(r, synth)
			return
		}
		if !r.Alter.Forced {
			revertAlteration(r)
			r.LastUpdated = now
			if err := (*GLOB.DSP).StoreReservation(*r); err != nil {
				err = errors.Wrap(model.ErrStorageFailure, err.Error())
				pb = model.BuildTaxonomyPassback(err)
				logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
					"resvID": r.ReservationID}).Error("Error persisting alteration revert")
				return
			}
			notifyOwner(r, model.OwnerEventDenied, "alteration denied by scheduler")
			logger.Log.WithFields(logrus.Fields{
				"resvID": r.ReservationID,
			}).Info("Alteration denied, prior reservation restored.")
			pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
			return
		}
		// Forced, but schedulers are still due to answer.  Hold position.
		r.LastUpdated = now
		if err := (*GLOB.DSP).StoreReservation(*r); err != nil {
			err = errors.Wrap(model.ErrStorageFailure, err.Error())
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error persisting scheduler reply count")
			return
		}
		pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
		return
	}

	if allRepliesIn && r.State == model.State_Unconfirmed {
		notifyOwner(r, model.OwnerEventDenied, "denied by every scheduler")
		if err := purgeReservation(r, model.AcctResvDeleteServer, model.ReplyDenied); err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error purging denied reservation")
			return
		}
		pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
		return
	}

	// Either schedulers are still due to answer, or the reservation is
	// already confirmed and stays as it is.
	r.LastUpdated = now
	if err := (*GLOB.DSP).StoreReservation(*r); err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
			"resvID": r.ReservationID}).Error("Error persisting scheduler reply count")
		return
	}
	pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
	return
}

// confirmSuccess applies a scheduler confirmation end to end: window
// update, node-spec decode, rebind, ledger charge, timers, state machine,
// partition assignment, persistence, client reply, accounting, and
// maintenance conflict resolution.
func confirmSuccess(r *model.Reservation, parameters model.ConfirmParameter) (pb model.Passback) {
	now := GLOB.Now()
	ctx := context.Background()

	wasDegraded := r.State == model.State_Degraded || r.SubState == model.SubState_InConflict
	altering := r.Alter.Active()
	selectModified := altering && r.Alter.SelectModified
	startUnmodified := altering && !r.Alter.StartModified
	wasRunningBeforeAlter := altering && r.Alter.RevertState == model.State_Running
	firstConfirm := r.State == model.State_Unconfirmed

	// A proposed start moves the whole window; the duration is what the
	// user asked for and does not change here.
	if parameters.StartTime > 0 && parameters.StartTime != r.StartTime {
		r.StartTime = parameters.StartTime
		r.EndTime = r.StartTime + r.Duration
	}

	// Decode the proposed binding.  The first token is the one bound now;
	// for standing reservations the rest of the sequence is persisted for
	// later occurrences.
	if parameters.ExecVnodes == "" {
		err := errors.Wrapf(model.ErrProtocolViolation,
			"confirmation for %s carries no execvnodes", r.ReservationID)
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
			"resvID": r.ReservationID}).Error("Error confirming reservation")
		return
	}
	var spec execvnode.Spec
	if r.IsStanding() {
		seq, err := execvnode.ParseSequence(parameters.ExecVnodes)
		if err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error decoding execvnode sequence")
			return
		}
		if firstConfirm {
			r.OccurrenceIdx = 1
			if len(seq.Occurrences) != r.OccurrenceCount {
				err := errors.Wrapf(model.ErrProtocolViolation,
					"sequence holds %d occurrences, reservation %s expects %d",
					len(seq.Occurrences), r.ReservationID, r.OccurrenceCount)
				pb = model.BuildTaxonomyPassback(err)
				logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
					"resvID": r.ReservationID}).Error("Error confirming reservation")
				return
			}
		} else if len(seq.Occurrences) != r.RemainingOccurrences() {
			err := errors.Wrapf(model.ErrProtocolViolation,
				"sequence holds %d occurrences, reservation %s has %d remaining",
				len(seq.Occurrences), r.ReservationID, r.RemainingOccurrences())
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error confirming reservation")
			return
		}
		r.ExecVnodeSeq = parameters.ExecVnodes
		r.ExecVnodeSeqBase = r.OccurrenceIdx
		spec = seq.Occurrences[0]
	} else {
		var err error
		spec, err = execvnode.Parse(parameters.ExecVnodes)
		if err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error decoding execvnodes")
			return
		}
	}

	// Nothing has been persisted yet, so a stale window rejects atomically.
	if !r.Viable(now) {
		err := errors.Wrapf(model.ErrTimeSpecInvalid,
			"reservation %s window is already over", r.ReservationID)
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
			"resvID": r.ReservationID}).Error("Error confirming reservation")
		return
	}

	// A degraded reservation sheds its old charge and binding before the
	// new binding goes in.  The ledger goes first; releasing the binding
	// destroys the spec string the release is computed from.
	if wasDegraded {
		if r.State == model.State_Running {
			if err := releaseLedger(r); err != nil {
				pb = model.BuildTaxonomyPassback(err)
				logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
					"resvID": r.ReservationID}).Error("Error releasing ledger for reconfirmation")
				return
			}
		}
		if err := releaseNodeBindings(r); err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error releasing bindings for reconfirmation")
			return
		}
		r.RetryTime = 0
		r.VnodesDown = 0
		cancelTask(r.ReservationID, model.TaskKind_Retry)
	}

	// An alteration that changed the node selection after the window
	// opened releases symmetrically.  Both helpers are no-ops when the
	// degraded path above already ran.
	if selectModified && r.StartElapsed(now) {
		if err := releaseLedger(r); err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error releasing ledger for alteration")
			return
		}
		if err := releaseNodeBindings(r); err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error releasing bindings for alteration")
			return
		}
	}

	// Bind the new nodes.  On failure the reservation stays unbound with
	// whatever the release steps above already did; the scheduler owns
	// the next attempt.
	if r.IsMaintenance() {
		if err := (*GLOB.PLC).EnsureNodes(ctx, spec); err != nil {
			pb = rejectUnbound(r, err, now)
			return
		}
	} else if err := (*GLOB.PLC).CheckCapacity(ctx, spec); err != nil {
		pb = rejectUnbound(r, err, now)
		return
	}
	if err := bindReservationNodes(r, spec); err != nil {
		pb = rejectUnbound(r, err, now)
		return
	}

	// Mid-window rebind picks the charge back up, once.
	chargedHere := false
	if r.StartElapsed(now) && (wasDegraded || selectModified) && !r.Giveback {
		if err := chargeLedger(r); err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error charging ledger")
			return
		}
		chargedHere = true
	}

	// The window-end timer is already armed for a degraded reconfirmation
	// and for an alteration that left the start alone.  Failing to arm it
	// is fatal: an unbounded reservation would never release its nodes.
	if !wasDegraded && !(altering && startUnmodified) {
		if _, err := scheduleTask(r.ReservationID, model.TaskKind_WindowEnd, r.EndTime); err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error scheduling reservation window end")
			return
		}
	}

	r.State, r.SubState = model.EvalResvState(model.ResvEvent_Confirmed,
		r.State, r.SubState, r.StartElapsed(now),
		r.OccurrenceIdx < r.OccurrenceCount)

	partition := parameters.Partition
	if partition == "" {
		partition = GLOB.DefaultPartition
	}

	switch r.State {
	case model.State_Confirmed:
		r.Partition = partition
		if q, err := (*GLOB.DSP).GetQueue(r.QueueName); err == nil {
			q.Partition = partition
			q.LastUpdated = now
			if serr := (*GLOB.DSP).StoreQueue(q); serr != nil {
				logger.Log.WithFields(logrus.Fields{
					"ERROR": serr, "resvID": r.ReservationID, "queue": r.QueueName,
				}).Error("Error persisting queue partition")
			}
		} else {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": model.ErrInternalInconsistency,
				"resvID": r.ReservationID, "queue": r.QueueName,
			}).Error("Owning queue record missing while confirming")
		}
		if _, err := scheduleTask(r.ReservationID, model.TaskKind_WindowStart, r.StartTime); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "resvID": r.ReservationID,
			}).Error("Error scheduling reservation window start")
		}
	case model.State_Running:
		// The window is already open: the charge and the idle-delete
		// timer apply now instead of at a window-start firing.
		if err := chargeLedger(r); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "resvID": r.ReservationID,
			}).Error("Error charging ledger at immediate start")
		}
		scheduleIdleDelete(r)
	}

	// Alteration epilogue.  A reservation that was running but now waits
	// for a future window must not hold a charge, and its queue must not
	// start jobs until the window opens again.
	if altering {
		if r.State == model.State_Confirmed && wasRunningBeforeAlter {
			if q, err := (*GLOB.DSP).GetQueue(r.QueueName); err == nil {
				q.Started = false
				q.LastUpdated = now
				if serr := (*GLOB.DSP).StoreQueue(q); serr != nil {
					logger.Log.WithFields(logrus.Fields{
						"ERROR": serr, "resvID": r.ReservationID, "queue": r.QueueName,
					}).Error("Error stopping queue after alteration")
				}
			}
			if chargedHere {
				if err := releaseLedger(r); err != nil {
					logger.Log.WithFields(logrus.Fields{
						"ERROR": err, "resvID": r.ReservationID,
					}).Error("Error releasing alteration charge")
				}
			}
		}
		r.SelectSpecOrig = ""
		r.Alter = model.AlterRecord{}
	}

	r.SchedRepliesReceived = 0
	r.LastUpdated = now
	if err := (*GLOB.DSP).StoreReservation(*r); err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
			"resvID": r.ReservationID}).Error("Error persisting confirmed reservation")
		return
	}

	replyInteractive(r.ReservationID, model.ReplyConfirmed)

	detail := fmt.Sprintf("confirmed on partition %s", partition)
	if wasDegraded {
		detail = "reconfirmed after degradation"
	}
	notifyOwner(r, model.OwnerEventConfirmed, detail)
	if !wasDegraded {
		recordAccounting(model.AcctResvConfirmed, r,
			model.ConfirmAccountingText(r, GLOB.ServerName))
		if r.State == model.State_Running {
			recordAccounting(model.AcctResvBegin, r,
				model.ConfirmAccountingText(r, GLOB.ServerName))
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"resvID": r.ReservationID, "state": r.State.String(),
		"partition": partition, "nodes": r.NodeNames,
	}).Info("Reservation confirmed.")

	if r.IsMaintenance() {
		if err := resolveMaintenanceConflicts(r); err != nil {
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
				"resvID": r.ReservationID}).Error("Error resolving maintenance conflicts")
			return
		}
	}

	pb = model.BuildSuccessPassback(http.StatusOK, r.ToResp())
	return
}

///////////////////////////
// Non-exported functions (helpers, utils, etc)
///////////////////////////

// rejectUnbound persists the reservation's cleaned-up but unbound state
// and builds the rejection.  No rollback of the release steps is
// attempted; the record stays consistent with the node inventory.
func rejectUnbound(r *model.Reservation, err error, now time.Time) (pb model.Passback) {
	r.LastUpdated = now
	if serr := (*GLOB.DSP).StoreReservation(*r); serr != nil {
		logger.Log.WithFields(logrus.Fields{
			"ERROR": serr, "resvID": r.ReservationID,
		}).Error("Error persisting unbound reservation")
	}
	pb = model.BuildTaxonomyPassback(err)
	logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode,
		"resvID": r.ReservationID}).Error("Error binding reservation nodes")
	return
}

// revertAlteration restores the pre-alteration snapshot and consumes it.
func revertAlteration(r *model.Reservation) {
	if r.Alter.SelectModified {
		r.SelectSpec = r.SelectSpecOrig
	}
	r.SelectSpecOrig = ""
	r.StartTime = r.Alter.RevertStart
	r.EndTime = r.Alter.RevertEnd
	r.Duration = r.EndTime - r.StartTime
	r.ExecVnodes = r.Alter.RevertExecVnodes
	r.State = r.Alter.RevertState
	r.SubState = r.Alter.RevertSubState
	r.Alter = model.AlterRecord{}
}

// currentBindingWire re-encodes the reservation's own binding the way a
// scheduler would supply it: the remaining occurrence sequence for a
// standing reservation, the plain spec otherwise.
func currentBindingWire(r *model.Reservation) string {
	if r.IsStanding() && r.ExecVnodeSeq != "" {
		seq, err := execvnode.ParseSequence(r.ExecVnodeSeq)
		if err == nil {
			off := r.SeqOffset()
			if off >= 1 && off <= len(seq.Occurrences) {
				rem := &execvnode.Sequence{
					Count:       len(seq.Occurrences) - off + 1,
					Occurrences: seq.Occurrences[off-1:],
				}
				if off-1 < len(seq.Ranges) {
					rem.Ranges = seq.Ranges[off-1:]
				}
				return rem.Condense()
			}
		}
	}
	return r.ExecVnodes
}
