/*
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

package model

import (
	"errors"
	"strings"
	"time"
)

// Reservation ID prefixes.  Maintenance reservations get special treatment
// by the conflict resolver, so the prefix doubles as a sentinel.
const (
	AdvanceIDPrefix     = "R"
	StandingIDPrefix    = "S"
	MaintenanceIDPrefix = "M"
)

// DefaultPartition is used when a confirmation carries no partition name.
const DefaultPartition = "default"

type State int

const (
	State_Nil          State = iota - 1
	State_Unconfirmed        // unconfirmed = 0
	State_Confirmed          // 1
	State_Running            // 2
	State_Degraded           // 3
	State_BeingAltered       // 4
	State_Deleted            // 5, terminal
)

// ToState - Will return a valid State from string
func ToState(state string) (ST State, err error) {
	switch strings.ToLower(state) {
	case "unconfirmed":
		ST = State_Unconfirmed
	case "confirmed":
		ST = State_Confirmed
	case "running":
		ST = State_Running
	case "degraded":
		ST = State_Degraded
	case "beingaltered":
		ST = State_BeingAltered
	case "deleted":
		ST = State_Deleted
	default:
		err = errors.New("invalid reservation state: " + state)
		ST = State_Nil
	}
	return
}

func (st State) String() string {
	if int(st) < 0 || int(st) > int(State_Deleted) {
		return "invalid"
	}
	return [...]string{"unconfirmed", "confirmed", "running", "degraded", "beingAltered", "deleted"}[st]
}

func (st State) EnumIndex() int {
	return int(st)
}

type SubState int

const (
	SubState_Nil          SubState = iota - 1
	SubState_Unconfirmed           // unconfirmed = 0
	SubState_Confirmed             // 1
	SubState_Running               // 2
	SubState_Degraded              // 3
	SubState_BeingAltered          // 4
	SubState_Deleted               // 5
	SubState_InConflict            // 6
)

func ToSubState(substate string) (SS SubState, err error) {
	switch strings.ToLower(substate) {
	case "unconfirmed":
		SS = SubState_Unconfirmed
	case "confirmed":
		SS = SubState_Confirmed
	case "running":
		SS = SubState_Running
	case "degraded":
		SS = SubState_Degraded
	case "beingaltered":
		SS = SubState_BeingAltered
	case "deleted":
		SS = SubState_Deleted
	case "inconflict":
		SS = SubState_InConflict
	default:
		err = errors.New("invalid reservation substate: " + substate)
		SS = SubState_Nil
	}
	return
}

func (ss SubState) String() string {
	if int(ss) < 0 || int(ss) > int(SubState_InConflict) {
		return "invalid"
	}
	return [...]string{"unconfirmed", "confirmed", "running", "degraded", "beingAltered", "deleted", "inConflict"}[ss]
}

func (ss SubState) EnumIndex() int {
	return int(ss)
}

// ResvEvent is an input to the reservation state machine.
type ResvEvent int

const (
	ResvEvent_Nil                ResvEvent = iota - 1
	ResvEvent_Confirmed                    // 0
	ResvEvent_Denied                       // 1
	ResvEvent_WindowStarted                // 2
	ResvEvent_WindowEnded                  // 3
	ResvEvent_DegradedByConflict           // 4
	ResvEvent_AlterationApplied            // 5
)

func (ev ResvEvent) String() string {
	if int(ev) < 0 || int(ev) > int(ResvEvent_AlterationApplied) {
		return "invalid"
	}
	return [...]string{"confirmed", "denied", "windowStarted", "windowEnded", "degradedByConflict", "alterationApplied"}[ev]
}

// EvalResvState computes the next (state, substate) pair for an event.
// Pure function; callers apply the result and handle side effects
// (ledger, bindings, timers) themselves.  State_Deleted is terminal and
// absorbs every event.
//
// startElapsed reports whether the reservation's window start has passed;
// occurrencesLeft reports whether a standing reservation still has
// occurrences after the current one.
func EvalResvState(event ResvEvent, state State, substate SubState,
	startElapsed bool, occurrencesLeft bool) (State, SubState) {

	if state == State_Deleted {
		return State_Deleted, SubState_Deleted
	}

	switch event {
	case ResvEvent_Confirmed:
		if startElapsed {
			return State_Running, SubState_Running
		}
		return State_Confirmed, SubState_Confirmed

	case ResvEvent_Denied:
		if state == State_Unconfirmed {
			return State_Deleted, SubState_Deleted
		}
		if state == State_Degraded {
			return State_Degraded, SubState_InConflict
		}
		return state, substate

	case ResvEvent_WindowStarted:
		if substate == SubState_InConflict {
			return State_Running, SubState_InConflict
		}
		return State_Running, SubState_Running

	case ResvEvent_WindowEnded:
		if occurrencesLeft {
			return State_Confirmed, SubState_Confirmed
		}
		return State_Deleted, SubState_Deleted

	case ResvEvent_DegradedByConflict:
		if state == State_Confirmed {
			return State_Degraded, SubState_InConflict
		}
		return state, SubState_InConflict

	case ResvEvent_AlterationApplied:
		return State_BeingAltered, substate
	}

	return state, substate
}

// AlterRecord tracks an in-flight reservation alteration: which fields the
// pending change touches and the snapshot to restore if the scheduler
// denies it.
type AlterRecord struct {
	SelectModified   bool     `json:"selectModified"`
	StartModified    bool     `json:"startModified"`
	EndModified      bool     `json:"endModified"`
	Forced           bool     `json:"forced"`
	RevertState      State    `json:"revertState"`
	RevertSubState   SubState `json:"revertSubState"`
	RevertStart      int64    `json:"revertStart"`
	RevertEnd        int64    `json:"revertEnd"`
	RevertExecVnodes string   `json:"revertExecVnodes,omitempty"`
}

func (a AlterRecord) Active() bool {
	return a.SelectModified || a.StartModified || a.EndModified
}

// Reservation is the persisted reservation record.
type Reservation struct {
	ReservationID string `json:"reservationID"`
	QueueName     string `json:"queueName"`
	Owner         string `json:"owner"`
	Partition     string `json:"partition,omitempty"`

	State    State    `json:"state"`
	SubState SubState `json:"subState"`

	// Unix seconds.  Duration is carried separately because a confirmation
	// may move the start, which moves the end with it.
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
	Duration  int64 `json:"duration"`

	ExecVnodes     string   `json:"execVnodes,omitempty"`
	SelectSpec     string   `json:"selectSpec,omitempty"`
	SelectSpecOrig string   `json:"selectSpecOrig,omitempty"`
	NodeNames      []string `json:"nodeNames,omitempty"`

	// Standing reservation bookkeeping.  OccurrenceIdx is 1-based.
	// ExecVnodeSeqBase is the absolute occurrence index of the persisted
	// sequence's first token; a reconfirmation supplies tokens for the
	// remaining occurrences only, so the base moves with it.
	OccurrenceIdx    int    `json:"occurrenceIdx,omitempty"`
	OccurrenceCount  int    `json:"occurrenceCount,omitempty"`
	OccurrencePeriod int64  `json:"occurrencePeriod,omitempty"`
	ExecVnodeSeq     string `json:"execVnodeSeq,omitempty"`
	ExecVnodeSeqBase int    `json:"execVnodeSeqBase,omitempty"`

	RetryTime  int64 `json:"retryTime,omitempty"`
	VnodesDown int   `json:"vnodesDown,omitempty"`

	// Giveback is true iff the resource ledger currently holds a charge
	// attributable to this reservation.
	Giveback bool `json:"giveback"`

	Interactive           bool `json:"interactive,omitempty"`
	SchedRepliesRequested int  `json:"schedRepliesRequested"`
	SchedRepliesReceived  int  `json:"schedRepliesReceived"`

	DeleteIdleTime int64 `json:"deleteIdleTime,omitempty"`

	Alter AlterRecord `json:"alter"`

	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func (r *Reservation) IsMaintenance() bool {
	return strings.HasPrefix(r.ReservationID, MaintenanceIDPrefix)
}

func (r *Reservation) IsStanding() bool {
	return r.OccurrenceCount > 1
}

// RemainingOccurrences is the count the execvnode sequence of a
// reconfirmation must match: the current occurrence plus all that follow.
func (r *Reservation) RemainingOccurrences() int {
	return r.OccurrenceCount - r.OccurrenceIdx + 1
}

// SeqOffset maps the absolute occurrence index onto the persisted
// execvnode sequence.
func (r *Reservation) SeqOffset() int {
	base := r.ExecVnodeSeqBase
	if base < 1 {
		base = 1
	}
	return r.OccurrenceIdx - base + 1
}

func (r *Reservation) StartElapsed(now time.Time) bool {
	return r.StartTime <= now.Unix()
}

// Viable reports whether the reservation window can still be honored.
func (r *Reservation) Viable(now time.Time) bool {
	return r.EndTime > now.Unix()
}

// QueueStem derives the owning queue's name from the reservation ID, the
// portion before the first dot.
func (r *Reservation) QueueStem() string {
	if idx := strings.Index(r.ReservationID, "."); idx > 0 {
		return r.ReservationID[:idx]
	}
	return r.ReservationID
}

// ReservationResp is the API rendering of a Reservation, with enums
// spelled out.
type ReservationResp struct {
	ReservationID  string   `json:"reservationID"`
	QueueName      string   `json:"queueName"`
	Owner          string   `json:"owner"`
	Partition      string   `json:"partition,omitempty"`
	State          string   `json:"state"`
	SubState       string   `json:"subState"`
	StartTime      int64    `json:"startTime"`
	EndTime        int64    `json:"endTime"`
	Duration       int64    `json:"duration"`
	ExecVnodes     string   `json:"execVnodes,omitempty"`
	SelectSpec     string   `json:"selectSpec,omitempty"`
	NodeNames      []string `json:"nodeNames,omitempty"`
	OccurrenceIdx  int      `json:"occurrenceIdx,omitempty"`
	OccurrenceCnt  int      `json:"occurrenceCount,omitempty"`
	RetryTime      int64    `json:"retryTime,omitempty"`
	Giveback       bool     `json:"giveback"`
	Interactive    bool     `json:"interactive,omitempty"`
	LastUpdated    string   `json:"lastUpdated"` //RFC3339Nano
}

func (r *Reservation) ToResp() ReservationResp {
	return ReservationResp{
		ReservationID: r.ReservationID,
		QueueName:     r.QueueName,
		Owner:         r.Owner,
		Partition:     r.Partition,
		State:         r.State.String(),
		SubState:      r.SubState.String(),
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Duration:      r.Duration,
		ExecVnodes:    r.ExecVnodes,
		SelectSpec:    r.SelectSpec,
		NodeNames:     r.NodeNames,
		OccurrenceIdx: r.OccurrenceIdx,
		OccurrenceCnt: r.OccurrenceCount,
		RetryTime:     r.RetryTime,
		Giveback:      r.Giveback,
		Interactive:   r.Interactive,
		LastUpdated:   r.LastUpdated.Format(time.RFC3339Nano),
	}
}

type ReservationList struct {
	Reservations []ReservationResp `json:"reservations"`
}
