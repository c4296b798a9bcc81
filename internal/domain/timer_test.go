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
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/notify"
	"github.com/openbatch/reservation-control/internal/placement"
	"github.com/openbatch/reservation-control/internal/storage"
)

type Timers_TS struct {
	suite.Suite
	now int64
}

func (ts *Timers_TS) SetupSuite() {
	var (
		Running       bool   = true
		serviceName   string = "RCS-domain-timers-test"
		DSP           storage.StorageProvider
		DLOCK         storage.DistributedLockProvider
		PLC           placement.PlacementProvider
		NTF           notify.NotifierProvider
		domainGlobals DOMAIN_GLOBALS
	)

	logger.Init()

	tmpStorageImplementation := &storage.MEMStorage{
		Logger: logger.Log,
	}
	DSP = tmpStorageImplementation
	DSP.Init(logger.Log)

	tmpLockImplementation := &storage.MEMLockProvider{}
	DLOCK = tmpLockImplementation
	DLOCK.InitFromStorage(DSP, logger.Log)

	PLC = &placement.InventoryV0{}
	plcGlob := placement.PLACEMENT_GLOBALS{
		SvcName: serviceName,
		Logger:  logger.Log,
		DSP:     &DSP,
	}
	PLC.Init(&plcGlob)

	NTF = &notify.LogNotifier{}
	ntfGlob := notify.NOTIFY_GLOBALS{
		SvcName: serviceName,
		Logger:  logger.Log,
	}
	NTF.Init(&ntfGlob)

	domainGlobals.NewGlobals("svrB", "default", []string{"root"},
		"sched-secret", 1, 600, &Running, &DSP, &PLC, &NTF, &DLOCK, true)
	Init(&domainGlobals)

	ts.now = 100000
	GLOB.Now = func() time.Time { return time.Unix(ts.now, 0) }
}

func TestTimersTestSuite(t *testing.T) {
	suite.Run(t, new(Timers_TS))
}

// submitAndConfirm is the common fixture path: one reservation, one binding.
func (ts *Timers_TS) submitAndConfirm(params model.SubmitParameter, execVnodes string) string {
	resultsPb := SubmitReservation(params)
	ts.Assert().Equal(http.StatusCreated, resultsPb.StatusCode,
		"Fixture submit failed with status code %d", resultsPb.StatusCode)
	resvID := resultsPb.Obj.(model.ReservationResp).ReservationID
	resultsPb = ConfirmReservation(model.ConfirmParameter{
		ReservationID: resvID,
		Outcome:       model.ConfirmOutcome_Success,
		ExecVnodes:    execVnodes,
	})
	ts.Assert().Equal(http.StatusOK, resultsPb.StatusCode,
		"Fixture confirm of %s failed with status code %d",
		resvID, resultsPb.StatusCode)
	return resvID
}

//////////
// Tests
//////////

func (ts *Timers_TS) TestIdleDelete() {
	var (
		t         *testing.T
		resultsPb model.Passback
	)
	t = ts.T()
	ts.now = 200000

	storeFreeNode("t4", 8)

	busyID := ts.submitAndConfirm(model.SubmitParameter{
		Owner:          "alice",
		SelectSpec:     "1:ncpus=2",
		StartTime:      199000,
		Duration:       5000,
		DeleteIdleTime: 300,
	}, "(t4:ncpus=2)")
	idleID := ts.submitAndConfirm(model.SubmitParameter{
		Owner:          "bob",
		SelectSpec:     "1:ncpus=2",
		StartTime:      199000,
		Duration:       5000,
		DeleteIdleTime: 300,
	}, "(t4:ncpus=2)")

	// Jobs arrive in the first queue after the idle timers were armed.
	q, err := (*GLOB.DSP).GetQueue(strings.Split(busyID, ".")[0])
	ts.Assert().Equal(nil, err, "Setup failed retrieving the busy queue: %v", err)
	q.ActiveJobs = 1
	q.LastUpdated = GLOB.Now()
	err = (*GLOB.DSP).StoreQueue(q)
	ts.Assert().Equal(nil, err, "Setup failed storing the busy queue: %v", err)

	/////////
	// Test 1 - RunDueTasks() purges only the reservation that stayed idle.
	/////////
	t.Logf("Test 1 - RunDueTasks() purges only the reservation that stayed idle.")
	ts.now = 200300
	RunDueTasks()
	stored, err := (*GLOB.DSP).GetReservation(busyID)
	ts.Assert().Equal(nil, err,
		"Test 1 failed, busy reservation %s was purged: %v", busyID, err)
	ts.Assert().Equal(model.State_Running, stored.State,
		"Test 1 failed with state %s on the busy reservation", stored.State.String())
	_, err = (*GLOB.DSP).GetReservation(idleID)
	ts.Assert().NotEqual(nil, err,
		"Test 1 failed, idle reservation %s survived its idle limit", idleID)
	node, err := (*GLOB.DSP).GetNode("t4")
	ts.Assert().Equal(nil, err, "Test 1 failed retrieving node t4: %v", err)
	ts.Assert().Equal(int64(2), node.ResourcesAssigned["ncpus"],
		"Test 1 failed with %d ncpus assigned on t4, expected the busy charge of 2",
		node.ResourcesAssigned["ncpus"])
	ts.Assert().Equal([]string{busyID}, node.ReservationIDs,
		"Test 1 failed with node back-references %v", node.ReservationIDs)

	// Cleanup.
	resultsPb = DeleteReservation(busyID, "root")
	ts.Assert().Equal(http.StatusNoContent, resultsPb.StatusCode,
		"Cleanup failed deleting %s, status code %d", busyID, resultsPb.StatusCode)
	ledger, err := (*GLOB.DSP).GetServerLedger()
	ts.Assert().Equal(nil, err, "Cleanup failed retrieving the ledger: %v", err)
	ts.Assert().Equal(int64(0), ledger.ResourcesAssigned["ncpus"],
		"Cleanup failed, server rollup still holds %d ncpus",
		ledger.ResourcesAssigned["ncpus"])
}

func (ts *Timers_TS) TestRearmTimedTasks() {
	var (
		t *testing.T
	)
	t = ts.T()
	ts.now = 300000

	storeFreeNode("t5", 8)

	resvID := ts.submitAndConfirm(model.SubmitParameter{
		Owner:      "alice",
		SelectSpec: "1:ncpus=2",
		StartTime:  301000,
		Duration:   3600,
	}, "(t5:ncpus=2)")

	/////////
	// Test 1 - RearmTimedTasks() rebuilds the queue from storage.
	/////////
	t.Logf("Test 1 - RearmTimedTasks() rebuilds the queue from storage.")

	// Wipe the in-memory timer state the way a process restart would.
	timerMtx.Lock()
	*timerQ = taskHeap{}
	timerMtx.Unlock()
	armedTasks.Clear()
	cancelledTasks.Clear()

	orphan := model.NewTimedTask("R9999.svrB", model.TaskKind_WindowEnd, 300500)
	err := (*GLOB.DSP).StoreTimedTask(orphan)
	ts.Assert().Equal(nil, err, "Test 1 failed storing the orphan task: %v", err)

	err = RearmTimedTasks()
	ts.Assert().Equal(nil, err, "Test 1 failed re-arming tasks: %v", err)
	tasks, err := (*GLOB.DSP).GetAllTimedTasks()
	ts.Assert().Equal(nil, err, "Test 1 failed listing tasks: %v", err)
	ts.Assert().Equal(2, len(tasks),
		"Test 1 failed with %d persisted tasks, expected the reservation's 2",
		len(tasks))
	for _, task := range tasks {
		ts.Assert().Equal(resvID, task.ReservationID,
			"Test 1 failed, task %s still points at %s",
			task.TaskID.String(), task.ReservationID)
	}

	/////////
	// Test 2 - RunDueTasks() drives re-armed tasks through the full window.
	/////////
	t.Logf("Test 2 - RunDueTasks() drives re-armed tasks through the full window.")
	ts.now = 304600
	RunDueTasks()
	_, err = (*GLOB.DSP).GetReservation(resvID)
	ts.Assert().NotEqual(nil, err,
		"Test 2 failed, reservation %s still stored after its window", resvID)
	node, err := (*GLOB.DSP).GetNode("t5")
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving node t5: %v", err)
	ts.Assert().Equal(int64(0), node.ResourcesAssigned["ncpus"],
		"Test 2 failed with %d ncpus still assigned on t5",
		node.ResourcesAssigned["ncpus"])
	ledger, err := (*GLOB.DSP).GetServerLedger()
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving the ledger: %v", err)
	ts.Assert().Equal(int64(0), ledger.ResourcesAssigned["ncpus"],
		"Test 2 failed, server rollup still holds %d ncpus",
		ledger.ResourcesAssigned["ncpus"])
	tasks, err = (*GLOB.DSP).GetAllTimedTasks()
	ts.Assert().Equal(nil, err, "Test 2 failed listing tasks: %v", err)
	ts.Assert().Equal(0, len(tasks),
		"Test 2 failed with %d persisted tasks left over", len(tasks))
}

func (ts *Timers_TS) TestStandingOccurrenceAdvance() {
	var (
		t *testing.T
	)
	t = ts.T()
	ts.now = 100000

	storeFreeNode("t2", 8)
	storeFreeNode("t3", 8)

	resvID := ts.submitAndConfirm(model.SubmitParameter{
		Owner:            "alice",
		Kind:             "standing",
		SelectSpec:       "1:ncpus=2",
		StartTime:        101000,
		Duration:         1800,
		OccurrenceCount:  2,
		OccurrencePeriod: 7200,
	}, "2#(t2:ncpus=2)+[108200:110000](t3:ncpus=2)")

	/////////
	// Test 1 - RunDueTasks() starts the first occurrence.
	/////////
	t.Logf("Test 1 - RunDueTasks() starts the first occurrence.")
	ts.now = 101000
	RunDueTasks()
	stored, err := (*GLOB.DSP).GetReservation(resvID)
	ts.Assert().Equal(nil, err, "Test 1 failed retrieving %s: %v", resvID, err)
	ts.Assert().Equal(model.State_Running, stored.State,
		"Test 1 failed with state %s, expected running", stored.State.String())
	ts.Assert().Equal(true, stored.Giveback,
		"Test 1 failed, running occurrence holds no charge")
	node, err := (*GLOB.DSP).GetNode("t2")
	ts.Assert().Equal(nil, err, "Test 1 failed retrieving node t2: %v", err)
	ts.Assert().Equal(int64(2), node.ResourcesAssigned["ncpus"],
		"Test 1 failed with %d ncpus assigned on t2, expected 2",
		node.ResourcesAssigned["ncpus"])

	/////////
	// Test 2 - RunDueTasks() rolls the window onto the next occurrence.
	/////////
	t.Logf("Test 2 - RunDueTasks() rolls the window onto the next occurrence.")
	ts.now = 102800
	RunDueTasks()
	stored, err = (*GLOB.DSP).GetReservation(resvID)
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving %s: %v", resvID, err)
	ts.Assert().Equal(model.State_Confirmed, stored.State,
		"Test 2 failed with state %s, expected confirmed", stored.State.String())
	ts.Assert().Equal(2, stored.OccurrenceIdx,
		"Test 2 failed with occurrence index %d, expected 2", stored.OccurrenceIdx)
	ts.Assert().Equal(int64(108200), stored.StartTime,
		"Test 2 failed with start time %d, expected 108200", stored.StartTime)
	ts.Assert().Equal(int64(110000), stored.EndTime,
		"Test 2 failed with end time %d, expected 110000", stored.EndTime)
	ts.Assert().Equal([]string{"t3"}, stored.NodeNames,
		"Test 2 failed with bound nodes %v, expected [t3]", stored.NodeNames)
	ts.Assert().Equal("(t3:ncpus=2)", stored.ExecVnodes,
		"Test 2 failed with binding %q", stored.ExecVnodes)
	ts.Assert().Equal(false, stored.Giveback,
		"Test 2 failed, charge kept across the occurrence boundary")
	node, err = (*GLOB.DSP).GetNode("t2")
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving node t2: %v", err)
	ts.Assert().Equal(int64(0), node.ResourcesAssigned["ncpus"],
		"Test 2 failed with %d ncpus still assigned on t2",
		node.ResourcesAssigned["ncpus"])
	ts.Assert().Equal(0, len(node.ReservationIDs),
		"Test 2 failed, node t2 still lists %v", node.ReservationIDs)
	node, err = (*GLOB.DSP).GetNode("t3")
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving node t3: %v", err)
	ts.Assert().Equal([]string{resvID}, node.ReservationIDs,
		"Test 2 failed with node back-references %v", node.ReservationIDs)
	ts.Assert().Equal(nil, CheckLinkInvariant(),
		"Test 2 failed the link invariant")

	/////////
	// Test 3 - RunDueTasks() ends the reservation after the last occurrence.
	/////////
	t.Logf("Test 3 - RunDueTasks() ends the reservation after the last occurrence.")
	ts.now = 110000
	RunDueTasks()
	_, err = (*GLOB.DSP).GetReservation(resvID)
	ts.Assert().NotEqual(nil, err,
		"Test 3 failed, reservation %s still stored after its last occurrence", resvID)
	node, err = (*GLOB.DSP).GetNode("t3")
	ts.Assert().Equal(nil, err, "Test 3 failed retrieving node t3: %v", err)
	ts.Assert().Equal(int64(0), node.ResourcesAssigned["ncpus"],
		"Test 3 failed with %d ncpus still assigned on t3",
		node.ResourcesAssigned["ncpus"])
	ledger, err := (*GLOB.DSP).GetServerLedger()
	ts.Assert().Equal(nil, err, "Test 3 failed retrieving the ledger: %v", err)
	ts.Assert().Equal(int64(0), ledger.ResourcesAssigned["ncpus"],
		"Test 3 failed, server rollup still holds %d ncpus",
		ledger.ResourcesAssigned["ncpus"])
}

func (ts *Timers_TS) TestWindowLifecycle() {
	var (
		t *testing.T
	)
	t = ts.T()
	ts.now = 100000

	storeFreeNode("t1", 8)

	resvID := ts.submitAndConfirm(model.SubmitParameter{
		Owner:      "alice",
		SelectSpec: "1:ncpus=2",
		StartTime:  101000,
		Duration:   3600,
	}, "(t1:ncpus=2)")

	/////////
	// Test 1 - RunDueTasks() before the start leaves the reservation alone.
	/////////
	t.Logf("Test 1 - RunDueTasks() before the start leaves the reservation alone.")
	RunDueTasks()
	stored, err := (*GLOB.DSP).GetReservation(resvID)
	ts.Assert().Equal(nil, err, "Test 1 failed retrieving %s: %v", resvID, err)
	ts.Assert().Equal(model.State_Confirmed, stored.State,
		"Test 1 failed with state %s, expected confirmed", stored.State.String())
	ts.Assert().Equal(false, stored.Giveback,
		"Test 1 failed, reservation holds a charge before its window")

	/////////
	// Test 2 - RunDueTasks() at the start time activates the reservation.
	/////////
	t.Logf("Test 2 - RunDueTasks() at the start time activates the reservation.")
	ts.now = 101000
	RunDueTasks()
	stored, err = (*GLOB.DSP).GetReservation(resvID)
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving %s: %v", resvID, err)
	ts.Assert().Equal(model.State_Running, stored.State,
		"Test 2 failed with state %s, expected running", stored.State.String())
	ts.Assert().Equal(model.SubState_Running, stored.SubState,
		"Test 2 failed with substate %s, expected running", stored.SubState.String())
	ts.Assert().Equal(true, stored.Giveback,
		"Test 2 failed, running reservation holds no charge")
	node, err := (*GLOB.DSP).GetNode("t1")
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving node t1: %v", err)
	ts.Assert().Equal(int64(2), node.ResourcesAssigned["ncpus"],
		"Test 2 failed with %d ncpus assigned on t1, expected 2",
		node.ResourcesAssigned["ncpus"])
	ledger, err := (*GLOB.DSP).GetServerLedger()
	ts.Assert().Equal(nil, err, "Test 2 failed retrieving the ledger: %v", err)
	ts.Assert().Equal(int64(2), ledger.ResourcesAssigned["ncpus"],
		"Test 2 failed with a server rollup of %d ncpus, expected 2",
		ledger.ResourcesAssigned["ncpus"])

	/////////
	// Test 3 - RunDueTasks() at the end time purges the reservation.
	/////////
	t.Logf("Test 3 - RunDueTasks() at the end time purges the reservation.")
	ts.now = 104600
	RunDueTasks()
	_, err = (*GLOB.DSP).GetReservation(resvID)
	ts.Assert().NotEqual(nil, err,
		"Test 3 failed, reservation %s still stored after its window", resvID)
	node, err = (*GLOB.DSP).GetNode("t1")
	ts.Assert().Equal(nil, err, "Test 3 failed retrieving node t1: %v", err)
	ts.Assert().Equal(0, len(node.ReservationIDs),
		"Test 3 failed, node t1 still lists %v", node.ReservationIDs)
	ts.Assert().Equal(int64(0), node.ResourcesAssigned["ncpus"],
		"Test 3 failed with %d ncpus still assigned on t1",
		node.ResourcesAssigned["ncpus"])
	_, err = (*GLOB.DSP).GetQueue(strings.Split(resvID, ".")[0])
	ts.Assert().NotEqual(nil, err,
		"Test 3 failed, queue of %s still stored", resvID)
	ledger, err = (*GLOB.DSP).GetServerLedger()
	ts.Assert().Equal(nil, err, "Test 3 failed retrieving the ledger: %v", err)
	ts.Assert().Equal(int64(0), ledger.ResourcesAssigned["ncpus"],
		"Test 3 failed, server rollup still holds %d ncpus",
		ledger.ResourcesAssigned["ncpus"])
}
