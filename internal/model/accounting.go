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
	"fmt"
	"time"
)

// Reservation accounting record types, one letter per event class.
const (
	AcctResvUnconfirmed  = "U" // submitted, awaiting confirmation
	AcctResvConfirmed    = "Y" // scheduler confirmed
	AcctResvBegin        = "B" // window started
	AcctResvFinish       = "F" // window ended
	AcctResvDeleteServer = "K" // removed by the server
	AcctResvDeleteClient = "k" // removed at client request
)

// FormatAccountingRecord renders one accounting line:
// MM/DD/YYYY HH:MM:SS;TYPE;ID;text
func FormatAccountingRecord(at time.Time, recType string, id string, text string) string {
	return fmt.Sprintf("%s;%s;%s;%s", at.Format("01/02/2006 15:04:05"), recType, id, text)
}

// ConfirmAccountingText builds the detail portion of a confirmation
// record.  Standing reservations additionally carry the occurrence count.
func ConfirmAccountingText(r *Reservation, serverName string) string {
	text := fmt.Sprintf("requestor=%s@%s start=%d end=%d nodes=%s",
		r.Owner, serverName, r.StartTime, r.EndTime, r.ExecVnodes)
	if r.IsStanding() {
		text += fmt.Sprintf(" count=%d", r.OccurrenceCount)
	}
	return text
}

// AccountingRecord is the event payload handed to the notifier.
type AccountingRecord struct {
	Type          string `json:"type"`
	ReservationID string `json:"reservationID"`
	Text          string `json:"text"`
	Recorded      string `json:"recorded"` //RFC3339Nano
}

// Owner event names carried on the notifier queue.  These replace the mail
// the batch server used to send reservation owners.
const (
	OwnerEventConfirmed        = "confirmed"
	OwnerEventDenied           = "denied"
	OwnerEventDegraded         = "degraded"
	OwnerEventFinished         = "finished"
	OwnerEventDeleted          = "deleted"
	OwnerEventReconfirmRequest = "reconfirm-requested"
)

// OwnerEvent tells a reservation's owner (and any listening tooling) that a
// reservation changed disposition.
type OwnerEvent struct {
	ReservationID string `json:"reservationID"`
	Owner         string `json:"owner"`
	Event         string `json:"event"`
	Detail        string `json:"detail,omitempty"`
	Emitted       string `json:"emitted"` //RFC3339Nano
}
