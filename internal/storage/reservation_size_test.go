// MIT License
//
// (C) Copyright [2025] The OpenBatch Project
//
// Permission is hereby granted, free of charge, to any person obtaining a
// copy of this software and associated documentation files (the "Software"),
// to deal in the Software without restriction, including without limitation
// the rights to use, copy, modify, merge, publish, distribute, sublicense,
// and/or sell copies of the Software, and to permit persons to whom the
// Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included
// in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL
// THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR
// OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
// ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
// OTHER DEALINGS IN THE SOFTWARE.

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/openbatch/reservation-control/internal/model"
)

//A standing reservation persists its whole occurrence sequence in a single
//record, so the sequence string is the only field that grows with user
//input.  ETCD's default request limit is 1.5MB; these tests pin down how
//far a realistic sequence stays below it.

const maxEtcdObjectSize = 1572864

func occToken(occIdx, chunksPerOcc int) string {
	chunks := make([]string, 0, chunksPerOcc)
	for c := 0; c < chunksPerOcc; c++ {
		chunks = append(chunks,
			fmt.Sprintf("(node%04d:ncpus=8:mem=65536)", occIdx*chunksPerOcc+c))
	}
	return strings.Join(chunks, "+")
}

func newStandingSequence(occurrences, chunksPerOcc int, period int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d#%s", occurrences, occToken(0, chunksPerOcc))
	for i := 1; i < occurrences; i++ {
		fmt.Fprintf(&b, "+[%d:%d]%s",
			int64(i)*period, int64(i)*period+3600, occToken(i, chunksPerOcc))
	}
	return b.String()
}

func newStandingReservation(resvID string, occurrences, chunksPerOcc int) model.Reservation {
	seq := newStandingSequence(occurrences, chunksPerOcc, 86400)
	return model.Reservation{
		ReservationID:    resvID,
		QueueName:        strings.Split(resvID, ".")[0],
		Owner:            "alice",
		State:            model.State_Confirmed,
		SubState:         model.SubState_Confirmed,
		StartTime:        1000,
		EndTime:          4600,
		Duration:         3600,
		ExecVnodes:       occToken(0, chunksPerOcc),
		ExecVnodeSeq:     seq,
		ExecVnodeSeqBase: 1,
		OccurrenceIdx:    1,
		OccurrenceCount:  occurrences,
		OccurrencePeriod: 86400,
	}
}

func recordSize(r model.Reservation) (int, error) {
	sdata, err := json.Marshal(r)
	if err != nil {
		return -1, err
	}
	return len(sdata), nil
}

func TestStandingReservationSizes(t *testing.T) {
	//Daily occurrences for a year, four chunks each.
	r := newStandingReservation("S1.svr1", 366, 4)
	size, err := recordSize(r)
	if err != nil {
		t.Errorf("Unexpected error marshalling reservation to json. ReservationID: %s, Error: %s",
			r.ReservationID, err)
	}
	t.Logf("TestStandingReservationSizes: ReservationID: %s, occurrences: %d, chunks: %d, object size: %d",
		r.ReservationID, 366, 4, size)

	if size > maxEtcdObjectSize {
		t.Errorf("Unexpected reservation size: %d. Expected a year of daily occurrences to fit under %d",
			size, maxEtcdObjectSize)
	}

	//Hourly occurrences for a month, one chunk each.
	r = newStandingReservation("S2.svr1", 31*24, 1)
	size, err = recordSize(r)
	if err != nil {
		t.Errorf("Unexpected error marshalling reservation to json. ReservationID: %s, Error: %s",
			r.ReservationID, err)
	}
	t.Logf("TestStandingReservationSizes: ReservationID: %s, occurrences: %d, chunks: %d, object size: %d",
		r.ReservationID, 31*24, 1, size)

	if size > maxEtcdObjectSize {
		t.Errorf("Unexpected reservation size: %d. Expected a month of hourly occurrences to fit under %d",
			size, maxEtcdObjectSize)
	}
}

func TestWriteStandingReservation(t *testing.T) {
	ms, _ := testProviders(t)

	r := newStandingReservation("S3.svr1", 366, 4)
	size, _ := recordSize(r)
	t.Logf("TestWriteStandingReservation: ReservationID: %s, size: %d", r.ReservationID, size)

	err := ms.StoreReservation(r)
	if err != nil {
		t.Errorf("Failed to write large reservation. ReservationID: %s, size: %d, Error: %s",
			r.ReservationID, size, err)
	}

	stored, err := ms.GetReservation(r.ReservationID)
	if err != nil {
		t.Errorf("Failed to read large reservation. ReservationID: %s, size: %d, Error: %s",
			r.ReservationID, size, err)
	}
	if stored.ExecVnodeSeq != r.ExecVnodeSeq {
		t.Errorf("TestWriteStandingReservation: stored sequence does not match, expected %d bytes, actual %d bytes",
			len(r.ExecVnodeSeq), len(stored.ExecVnodeSeq))
	}
	if stored.OccurrenceCount != r.OccurrenceCount {
		t.Errorf("TestWriteStandingReservation: stored reservation had wrong occurrence count, expected: %d, actual: %d",
			r.OccurrenceCount, stored.OccurrenceCount)
	}
}
