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
	"strings"

	"github.com/pkg/errors"
)

// Scheduler confirmation markers.  A confirm message's extend field must
// begin with one of these; the success marker optionally carries the
// partition the scheduler placed the reservation in.
const (
	ConfirmSuccessMarker = "confirmsuccess"
	ConfirmFailMarker    = "confirmfail"
	PartitionMarker      = ":partition="
)

// Terminal words delivered to a client blocked on submission.
const (
	ReplyConfirmed = "CONFIRMED"
	ReplyFailed    = "FAILED"
	ReplyDenied    = "DENIED"
)

type ConfirmOutcome int

const (
	ConfirmOutcome_Nil     ConfirmOutcome = iota - 1
	ConfirmOutcome_Success                // success = 0
	ConfirmOutcome_Failure                // 1
)

func (co ConfirmOutcome) String() string {
	if int(co) < 0 || int(co) > int(ConfirmOutcome_Failure) {
		return "invalid"
	}
	return [...]string{"success", "failure"}[co]
}

// ParseExtendMarker splits a confirm message's extend field into outcome
// and partition.  An empty or unrecognized marker is a protocol violation:
// the scheduler channel tag is mandatory, never defaulted.
func ParseExtendMarker(extend string) (ConfirmOutcome, string, error) {
	if extend == "" {
		return ConfirmOutcome_Nil, "", errors.Wrap(ErrProtocolViolation, "confirmation message missing scheduler marker")
	}
	if strings.HasPrefix(extend, ConfirmSuccessMarker) {
		rest := extend[len(ConfirmSuccessMarker):]
		if rest == "" {
			return ConfirmOutcome_Success, "", nil
		}
		if strings.HasPrefix(rest, PartitionMarker) {
			return ConfirmOutcome_Success, rest[len(PartitionMarker):], nil
		}
		return ConfirmOutcome_Nil, "", errors.Wrapf(ErrProtocolViolation, "malformed confirmation marker %q", extend)
	}
	if strings.HasPrefix(extend, ConfirmFailMarker) {
		return ConfirmOutcome_Failure, "", nil
	}
	return ConfirmOutcome_Nil, "", errors.Wrapf(ErrProtocolViolation, "unrecognized confirmation marker %q", extend)
}

// BuildSuccessMarker renders the extend field for a synthesized success,
// the forced-alteration override path.
func BuildSuccessMarker(partition string) string {
	if partition == "" {
		partition = DefaultPartition
	}
	return ConfirmSuccessMarker + PartitionMarker + partition
}

// ConfirmRequest is the POST /reservations/{id}/confirm body.
type ConfirmRequest struct {
	Extend     string `json:"extend"`
	ExecVnodes string `json:"execvnodes,omitempty"`
	StartTime  int64  `json:"startTime,omitempty"`
}

// ConfirmParameter is the parsed confirmation handed to the domain layer.
type ConfirmParameter struct {
	ReservationID string
	Outcome       ConfirmOutcome
	Partition     string
	ExecVnodes    string
	StartTime     int64
	Requestor     string
}

// SubmitParameter is the POST /reservations body.
type SubmitParameter struct {
	Owner            string `json:"owner"`
	Kind             string `json:"kind,omitempty"` // advance|standing|maintenance
	SelectSpec       string `json:"selectSpec"`
	StartTime        int64  `json:"startTime"`
	EndTime          int64  `json:"endTime,omitempty"`
	Duration         int64  `json:"duration,omitempty"`
	OccurrenceCount  int    `json:"occurrenceCount,omitempty"`
	OccurrencePeriod int64  `json:"occurrencePeriod,omitempty"`
	DeleteIdleTime   int64  `json:"deleteIdleTime,omitempty"`
	Interactive      bool   `json:"-"`
}

// AlterParameter is the PATCH /reservations/{id} body.  Zero-valued
// fields leave the corresponding reservation field unchanged.
type AlterParameter struct {
	SelectSpec string `json:"selectSpec,omitempty"`
	StartTime  int64  `json:"startTime,omitempty"`
	EndTime    int64  `json:"endTime,omitempty"`
	Force      bool   `json:"force,omitempty"`
}
