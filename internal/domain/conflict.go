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
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/storage"
)

///////////////////////////
// Maintenance Conflict Resolution
///////////////////////////

// resolveMaintenanceConflicts strips a freshly confirmed maintenance
// reservation's nodes out of every overlapping regular reservation.  The
// maintenance reservation always wins; each loser is degraded, loses every
// vnode under the contested node's host, and gets a retry so the scheduler
// can reconfirm it on replacement nodes.
//
// The worklist re-pushes a node after every mutation so back-references
// added or left behind by a prior pass get a fresh scan.  Each mutation
// removes at least one node/reservation link, so the loop reaches a
// fixpoint.
func resolveMaintenanceConflicts(m *model.Reservation) error {
	work := append([]string{}, m.NodeNames...)

	for len(work) > 0 {
		nodeName := work[0]
		work = work[1:]

		node, err := (*GLOB.DSP).GetNode(nodeName)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				continue
			}
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}

		mutated := false
		for _, otherID := range node.ReservationIDs {
			if otherID == m.ReservationID {
				continue
			}
			other, err := (*GLOB.DSP).GetReservation(otherID)
			if err != nil {
				if errors.Is(err, storage.ErrKeyNotFound) {
					logger.Log.WithFields(logrus.Fields{
						"ERROR": model.ErrInternalInconsistency,
						"node":  nodeName, "resvID": otherID,
					}).Error("Node references a reservation that does not exist.")
					continue
				}
				return errors.Wrap(model.ErrStorageFailure, err.Error())
			}
			if other.IsMaintenance() || other.State == model.State_Unconfirmed {
				continue
			}
			if !(other.StartTime <= m.EndTime && other.EndTime >= m.StartTime) {
				continue
			}

			setRetryTime(&other)
			other.State, other.SubState = model.EvalResvState(
				model.ResvEvent_DegradedByConflict, other.State, other.SubState,
				other.StartElapsed(GLOB.Now()),
				other.OccurrenceIdx < other.OccurrenceCount)
			if err := removeHostFromReservation(&other, model.HostOfName(nodeName)); err != nil {
				return err
			}
			other.LastUpdated = GLOB.Now()
			if err := (*GLOB.DSP).StoreReservation(other); err != nil {
				return errors.Wrap(model.ErrStorageFailure, err.Error())
			}

			notifyOwner(&other, model.OwnerEventDegraded,
				fmt.Sprintf("node %s reassigned to maintenance reservation %s",
					nodeName, m.ReservationID))
			logger.Log.WithFields(logrus.Fields{
				"resvID": otherID, "node": nodeName,
				"maintenanceID": m.ReservationID,
			}).Info("Reservation degraded by maintenance conflict.")

			// The node's back-reference list just changed under us.
			// Stop iterating the stale copy and re-scan.
			mutated = true
			break
		}
		if mutated {
			work = append(work, nodeName)
		}
	}
	return nil
}
