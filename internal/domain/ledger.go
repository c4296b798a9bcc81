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
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/execvnode"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/storage"
)

///////////////////////////
// Resource Ledger
///////////////////////////

// The ledger tracks resources assigned to reservations whose window has
// started, on each bound node and in the server-wide rollup.  A
// reservation's Giveback flag is true iff the ledger currently holds a
// charge attributable to it; every caller goes through chargeLedger /
// releaseLedger so the flag and the counters cannot drift apart.

// applyLedgerDelta adds (sign=+1) or removes (sign=-1) the numeric resource
// extent of chunks on each named node and on the server rollup.  Counters
// never go negative; an underflow is an internal fault, logged and clamped.
func applyLedgerDelta(resvID string, chunks []execvnode.Chunk, sign int64) error {
	ledger, err := (*GLOB.DSP).GetServerLedger()
	if err != nil {
		return errors.Wrap(model.ErrStorageFailure, err.Error())
	}
	for _, chunk := range chunks {
		node, err := (*GLOB.DSP).GetNode(chunk.Node)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				// The node left the inventory while the reservation still
				// referenced it.  Release what we can and keep going.
				logger.Log.WithFields(logrus.Fields{
					"resvID": resvID, "node": chunk.Node,
				}).Warn("Ledger target node missing from inventory.")
				continue
			}
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
		if node.ResourcesAssigned == nil {
			node.ResourcesAssigned = map[string]int64{}
		}
		for res, amt := range chunk.NumericResources() {
			next := node.ResourcesAssigned[res] + sign*amt
			if next < 0 {
				logger.Log.WithFields(logrus.Fields{
					"ERROR": model.ErrInternalInconsistency, "resvID": resvID,
					"node": chunk.Node, "resource": res,
				}).Error("Ledger underflow on node, clamping to zero.")
				next = 0
			}
			node.ResourcesAssigned[res] = next

			snext := ledger.ResourcesAssigned[res] + sign*amt
			if snext < 0 {
				logger.Log.WithFields(logrus.Fields{
					"ERROR": model.ErrInternalInconsistency, "resvID": resvID,
					"resource": res,
				}).Error("Ledger underflow on server rollup, clamping to zero.")
				snext = 0
			}
			ledger.ResourcesAssigned[res] = snext
		}
		node.LastUpdated = GLOB.Now()
		if err := (*GLOB.DSP).StoreNode(node); err != nil {
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
	}
	ledger.LastUpdated = GLOB.Now()
	if err := (*GLOB.DSP).StoreServerLedger(ledger); err != nil {
		return errors.Wrap(model.ErrStorageFailure, err.Error())
	}
	return nil
}

// chargeLedger commits r's current binding to the ledger and sets Giveback.
// A reservation already holding a charge is left alone.
func chargeLedger(r *model.Reservation) error {
	if r.Giveback {
		return nil
	}
	spec, err := execvnode.Parse(r.ExecVnodes)
	if err != nil {
		return err
	}
	if err := applyLedgerDelta(r.ReservationID, spec.Chunks, 1); err != nil {
		return err
	}
	r.Giveback = true
	return nil
}

// releaseLedger removes r's outstanding charge and clears Giveback.  Safe to
// call when no charge is held.
func releaseLedger(r *model.Reservation) error {
	if !r.Giveback {
		return nil
	}
	spec, err := execvnode.Parse(r.ExecVnodes)
	if err != nil {
		return err
	}
	if err := applyLedgerDelta(r.ReservationID, spec.Chunks, -1); err != nil {
		return err
	}
	r.Giveback = false
	return nil
}

// releaseLedgerChunks removes the charge for exactly the given chunks,
// leaving Giveback set: the rest of the binding is still charged.  Used when
// a single node is stripped from a reservation.
func releaseLedgerChunks(r *model.Reservation, chunks []execvnode.Chunk) error {
	if !r.Giveback {
		return nil
	}
	return applyLedgerDelta(r.ReservationID, chunks, -1)
}
