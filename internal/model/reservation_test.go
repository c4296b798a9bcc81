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

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ReservationTS struct {
	suite.Suite
}

func (suite *ReservationTS) TestToState() {
	st, err := ToState("confirmed")
	suite.Nil(err)
	suite.Equal(State_Confirmed, st)

	st, err = ToState("BeingAltered")
	suite.Nil(err)
	suite.Equal(State_BeingAltered, st)

	st, err = ToState("limbo")
	suite.NotNil(err)
	suite.Equal(State_Nil, st)

	for _, s := range []State{State_Unconfirmed, State_Confirmed, State_Running,
		State_Degraded, State_BeingAltered, State_Deleted} {
		back, err := ToState(s.String())
		suite.Nil(err, "round trip failed for %s", s.String())
		suite.Equal(s, back)
	}
}

func (suite *ReservationTS) TestToSubState() {
	ss, err := ToSubState("inConflict")
	suite.Nil(err)
	suite.Equal(SubState_InConflict, ss)

	ss, err = ToSubState("limbo")
	suite.NotNil(err)
	suite.Equal(SubState_Nil, ss)
}

func (suite *ReservationTS) TestEvalResvState() {
	cases := []struct {
		name          string
		event         ResvEvent
		state         State
		substate      SubState
		startElapsed  bool
		occsLeft      bool
		wantState     State
		wantSubState  SubState
	}{
		{"confirm future start", ResvEvent_Confirmed,
			State_Unconfirmed, SubState_Unconfirmed, false, false,
			State_Confirmed, SubState_Confirmed},
		{"confirm elapsed start", ResvEvent_Confirmed,
			State_Unconfirmed, SubState_Unconfirmed, true, false,
			State_Running, SubState_Running},
		{"reconfirm degraded", ResvEvent_Confirmed,
			State_Degraded, SubState_InConflict, false, false,
			State_Confirmed, SubState_Confirmed},
		{"deny unconfirmed", ResvEvent_Denied,
			State_Unconfirmed, SubState_Unconfirmed, false, false,
			State_Deleted, SubState_Deleted},
		{"deny degraded", ResvEvent_Denied,
			State_Degraded, SubState_Degraded, false, false,
			State_Degraded, SubState_InConflict},
		{"deny confirmed is a no-op", ResvEvent_Denied,
			State_Confirmed, SubState_Confirmed, false, false,
			State_Confirmed, SubState_Confirmed},
		{"window start", ResvEvent_WindowStarted,
			State_Confirmed, SubState_Confirmed, true, false,
			State_Running, SubState_Running},
		{"window start keeps conflict", ResvEvent_WindowStarted,
			State_Degraded, SubState_InConflict, true, false,
			State_Running, SubState_InConflict},
		{"window end with occurrences left", ResvEvent_WindowEnded,
			State_Running, SubState_Running, true, true,
			State_Confirmed, SubState_Confirmed},
		{"window end last occurrence", ResvEvent_WindowEnded,
			State_Running, SubState_Running, true, false,
			State_Deleted, SubState_Deleted},
		{"conflict on confirmed", ResvEvent_DegradedByConflict,
			State_Confirmed, SubState_Confirmed, false, false,
			State_Degraded, SubState_InConflict},
		{"conflict on running keeps state", ResvEvent_DegradedByConflict,
			State_Running, SubState_Running, true, false,
			State_Running, SubState_InConflict},
		{"alteration applied", ResvEvent_AlterationApplied,
			State_Confirmed, SubState_Confirmed, false, false,
			State_BeingAltered, SubState_Confirmed},
		{"deleted is terminal", ResvEvent_Confirmed,
			State_Deleted, SubState_Deleted, true, true,
			State_Deleted, SubState_Deleted},
	}
	for _, c := range cases {
		gotState, gotSub := EvalResvState(c.event, c.state, c.substate,
			c.startElapsed, c.occsLeft)
		suite.Equal(c.wantState, gotState,
			"%s: wrong state, expected %s got %s", c.name,
			c.wantState.String(), gotState.String())
		suite.Equal(c.wantSubState, gotSub,
			"%s: wrong substate, expected %s got %s", c.name,
			c.wantSubState.String(), gotSub.String())
	}
}

func (suite *ReservationTS) TestQueueStem() {
	r := Reservation{ReservationID: "R123.svr1"}
	suite.Equal("R123", r.QueueStem())

	r.ReservationID = "S17.batch.example.com"
	suite.Equal("S17", r.QueueStem())

	r.ReservationID = "R9"
	suite.Equal("R9", r.QueueStem())
}

func (suite *ReservationTS) TestIsMaintenance() {
	m := Reservation{ReservationID: "M4.svr1"}
	suite.True(m.IsMaintenance())

	r := Reservation{ReservationID: "R4.svr1"}
	suite.False(r.IsMaintenance())

	s := Reservation{ReservationID: "S4.svr1"}
	suite.False(s.IsMaintenance())
}

func (suite *ReservationTS) TestOccurrenceArithmetic() {
	r := Reservation{OccurrenceIdx: 1, OccurrenceCount: 5}
	suite.True(r.IsStanding())
	suite.Equal(5, r.RemainingOccurrences())
	suite.Equal(1, r.SeqOffset())

	r.OccurrenceIdx = 3
	suite.Equal(3, r.RemainingOccurrences())
	suite.Equal(3, r.SeqOffset())

	//A reconfirmation at occurrence 3 rebases the stored sequence there.
	r.ExecVnodeSeqBase = 3
	suite.Equal(1, r.SeqOffset())
	r.OccurrenceIdx = 4
	suite.Equal(2, r.SeqOffset())

	adv := Reservation{OccurrenceIdx: 1, OccurrenceCount: 1}
	suite.False(adv.IsStanding())
	suite.Equal(1, adv.RemainingOccurrences())
}

func (suite *ReservationTS) TestWindowPredicates() {
	now := time.Unix(5000, 0)
	r := Reservation{StartTime: 6000, EndTime: 7000}
	suite.False(r.StartElapsed(now))
	suite.True(r.Viable(now))

	r.StartTime = 4000
	suite.True(r.StartElapsed(now))
	suite.True(r.Viable(now))

	r.EndTime = 5000
	suite.False(r.Viable(now))
}

func (suite *ReservationTS) TestAlterRecordActive() {
	var a AlterRecord
	suite.False(a.Active())

	a.StartModified = true
	suite.True(a.Active())

	a = AlterRecord{SelectModified: true}
	suite.True(a.Active())

	a = AlterRecord{Forced: true}
	suite.False(a.Active())
}

func (suite *ReservationTS) TestToResp() {
	r := Reservation{
		ReservationID:   "S8.svr1",
		QueueName:       "S8",
		Owner:           "alice",
		Partition:       "blue",
		State:           State_Degraded,
		SubState:        SubState_InConflict,
		StartTime:       100,
		EndTime:         200,
		Duration:        100,
		OccurrenceIdx:   2,
		OccurrenceCount: 4,
		Giveback:        true,
		LastUpdated:     time.Unix(42, 0).UTC(),
	}
	resp := r.ToResp()
	suite.Equal("degraded", resp.State)
	suite.Equal("inConflict", resp.SubState)
	suite.Equal("S8.svr1", resp.ReservationID)
	suite.Equal(2, resp.OccurrenceIdx)
	suite.Equal(4, resp.OccurrenceCnt)
	suite.True(resp.Giveback)
	suite.Equal(time.Unix(42, 0).UTC().Format(time.RFC3339Nano), resp.LastUpdated)
}

func TestReservationSuite(t *testing.T) {
	suite.Run(t, new(ReservationTS))
}
