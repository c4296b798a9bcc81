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
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/storage"
)

///////////////////////////
// Node Inventory Functions
///////////////////////////

// GetNodes lists the node inventory.
func GetNodes() (pb model.Passback) {
	nodes, err := (*GLOB.DSP).GetAllNodes()
	if err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error retrieving nodes")
		return
	}
	rsp := model.NodeList{Nodes: []model.NodeResp{}}
	for i := range nodes {
		rsp.Nodes = append(rsp.Nodes, nodes[i].ToResp())
	}
	pb = model.BuildSuccessPassback(http.StatusOK, rsp)
	return
}

// GetNode fetches one node with its reservation back-references.
func GetNode(name string) (pb model.Passback) {
	n, err := (*GLOB.DSP).GetNode(name)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			pb = model.BuildErrorPassback(http.StatusNotFound,
				errors.Wrapf(err, "node %s not in inventory", name))
		} else {
			pb = model.BuildTaxonomyPassback(errors.Wrap(model.ErrStorageFailure, err.Error()))
		}
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "node": name}).Error("Error retrieving node")
		return
	}
	pb = model.BuildSuccessPassback(http.StatusOK, n.ToResp())
	return
}

// UpsertNode creates or updates an inventory record.  Marking a node down
// or offline degrades every non-maintenance reservation bound to it; the
// binding itself stays so the scheduler can decide what to move.
func UpsertNode(name string, parameters model.NodeUpsertParameter) (pb model.Passback) {
	release := acquireOwner()
	defer release()

	if name == "" {
		pb = model.BuildErrorPassback(http.StatusBadRequest,
			model.NewInvalidInputError("node name is required"))
		return
	}
	state, err := model.ToNodeState(parameters.State)
	if err != nil {
		pb = model.BuildErrorPassback(http.StatusBadRequest, err)
		return
	}

	now := GLOB.Now()
	created := false
	n, err := (*GLOB.DSP).GetNode(name)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			err = errors.Wrap(model.ErrStorageFailure, err.Error())
			pb = model.BuildTaxonomyPassback(err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "node": name}).Error("Error retrieving node")
			return
		}
		n = model.Node{
			Name:               name,
			ResourcesAvailable: map[string]int64{},
			ResourcesAssigned:  map[string]int64{},
			ReservationIDs:     []string{},
		}
		created = true
	}

	prevState := n.State
	n.State = state
	if parameters.ResourcesAvailable != nil {
		n.ResourcesAvailable = parameters.ResourcesAvailable
	}
	n.LastUpdated = now

	if err := (*GLOB.DSP).StoreNode(n); err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "node": name}).Error("Error storing node")
		return
	}
	logger.Log.WithFields(logrus.Fields{
		"node": name, "state": n.State.String(), "created": created,
	}).Info("Node record stored.")

	if !created && prevState == model.NodeState_Free && n.State != model.NodeState_Free {
		degradeNodeReservations(&n)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	pb = model.BuildSuccessPassback(status, n.ToResp())
	return
}

// DeleteNode strips the node out of every reservation that references it,
// then removes the inventory record.
func DeleteNode(name string) (pb model.Passback) {
	release := acquireOwner()
	defer release()

	n, err := (*GLOB.DSP).GetNode(name)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			pb = model.BuildErrorPassback(http.StatusNotFound,
				errors.Wrapf(err, "node %s not in inventory", name))
		} else {
			pb = model.BuildTaxonomyPassback(errors.Wrap(model.ErrStorageFailure, err.Error()))
		}
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "node": name}).Error("Error retrieving node for delete")
		return
	}

	refs := append([]string{}, n.ReservationIDs...)
	for _, resvID := range refs {
		r, err := loadReservation(resvID)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "node": name, "resvID": resvID,
			}).Error("Error loading referencing reservation")
			continue
		}
		setRetryTime(&r)
		r.State, r.SubState = model.EvalResvState(model.ResvEvent_DegradedByConflict,
			r.State, r.SubState, r.StartElapsed(GLOB.Now()),
			r.OccurrenceIdx < r.OccurrenceCount)
		if err := removeNodeFromReservation(&r, name); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "node": name, "resvID": resvID,
			}).Error("Error removing node from reservation")
			continue
		}
		r.LastUpdated = GLOB.Now()
		if err := (*GLOB.DSP).StoreReservation(r); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "node": name, "resvID": resvID,
			}).Error("Error persisting reservation after node removal")
			continue
		}
		notifyOwner(&r, model.OwnerEventDegraded,
			fmt.Sprintf("node %s removed from inventory", name))
	}

	if err := (*GLOB.DSP).DeleteNode(name); err != nil {
		err = errors.Wrap(model.ErrStorageFailure, err.Error())
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "node": name}).Error("Error deleting node")
		return
	}
	logger.Log.WithFields(logrus.Fields{"node": name}).Info("Node removed from inventory.")
	pb = model.BuildSuccessPassback(http.StatusNoContent, nil)
	return
}

///////////////////////////
// Non-exported functions (helpers, utils, etc)
///////////////////////////

// degradeNodeReservations marks every non-maintenance reservation bound to
// an unavailable node degraded and arms its retry.
func degradeNodeReservations(n *model.Node) {
	for _, resvID := range n.ReservationIDs {
		r, err := loadReservation(resvID)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "node": n.Name, "resvID": resvID,
			}).Error("Error loading referencing reservation")
			continue
		}
		if r.IsMaintenance() || r.State == model.State_Unconfirmed {
			continue
		}
		r.VnodesDown++
		setRetryTime(&r)
		r.State, r.SubState = model.EvalResvState(model.ResvEvent_DegradedByConflict,
			r.State, r.SubState, r.StartElapsed(GLOB.Now()),
			r.OccurrenceIdx < r.OccurrenceCount)
		r.LastUpdated = GLOB.Now()
		if err := (*GLOB.DSP).StoreReservation(r); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": err, "node": n.Name, "resvID": resvID,
			}).Error("Error persisting degraded reservation")
			continue
		}
		notifyOwner(&r, model.OwnerEventDegraded,
			fmt.Sprintf("node %s is %s", n.Name, n.State.String()))
		logger.Log.WithFields(logrus.Fields{
			"resvID": resvID, "node": n.Name, "nodeState": n.State.String(),
		}).Info("Reservation degraded by node state change.")
	}
}
