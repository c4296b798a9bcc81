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

	"github.com/google/uuid"
)

type TaskKind int

const (
	TaskKind_Nil         TaskKind = iota - 1
	TaskKind_WindowStart          // windowStart = 0
	TaskKind_WindowEnd            // 1
	TaskKind_IdleDelete           // 2
	TaskKind_Retry                // 3
)

func ToTaskKind(kind string) (TK TaskKind, err error) {
	switch strings.ToLower(kind) {
	case "windowstart":
		TK = TaskKind_WindowStart
	case "windowend":
		TK = TaskKind_WindowEnd
	case "idledelete":
		TK = TaskKind_IdleDelete
	case "retry":
		TK = TaskKind_Retry
	default:
		err = errors.New("invalid task kind: " + kind)
		TK = TaskKind_Nil
	}
	return
}

func (tk TaskKind) String() string {
	if int(tk) < 0 || int(tk) > int(TaskKind_Retry) {
		return "invalid"
	}
	return [...]string{"windowStart", "windowEnd", "idleDelete", "retry"}[tk]
}

func (tk TaskKind) EnumIndex() int {
	return int(tk)
}

// TimedTask is a deferred callback keyed to a reservation.  Tasks are
// persisted so a restart can re-arm pending work.  At most one task per
// (reservation, kind) is live; scheduling a second cancels the first.
type TimedTask struct {
	TaskID        uuid.UUID `json:"taskID"`
	ReservationID string    `json:"reservationID"`
	Kind          TaskKind  `json:"kind"`
	FireAt        int64     `json:"fireAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

func NewTimedTask(resvID string, kind TaskKind, fireAt int64) TimedTask {
	return TimedTask{
		TaskID:        uuid.New(),
		ReservationID: resvID,
		Kind:          kind,
		FireAt:        fireAt,
		CreatedAt:     time.Now(),
	}
}

type TimedTaskResp struct {
	TaskID        uuid.UUID `json:"taskID"`
	ReservationID string    `json:"reservationID"`
	Kind          string    `json:"kind"`
	FireAt        int64     `json:"fireAt"`
}

func (t *TimedTask) ToResp() TimedTaskResp {
	return TimedTaskResp{
		TaskID:        t.TaskID,
		ReservationID: t.ReservationID,
		Kind:          t.Kind.String(),
		FireAt:        t.FireAt,
	}
}

type TimedTaskList struct {
	Tasks []TimedTaskResp `json:"tasks"`
}
