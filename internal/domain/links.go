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
	orderedmap "github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/execvnode"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/storage"
)

///////////////////////////
// Node-Reservation Link Table
///////////////////////////

// A reservation's NodeNames list and each node's ReservationIDs list are
// mutual inverses.  Every mutation below updates both sides before
// returning, so no half-linked pair can be observed by the next operation.

func addNodeBackRef(node *model.Node, resvID string) {
	set := orderedmap.NewOrderedMap[string, struct{}]()
	for _, id := range node.ReservationIDs {
		set.Set(id, struct{}{})
	}
	set.Set(resvID, struct{}{})
	node.ReservationIDs = set.Keys()
}

func dropNodeBackRef(node *model.Node, resvID string) bool {
	set := orderedmap.NewOrderedMap[string, struct{}]()
	for _, id := range node.ReservationIDs {
		set.Set(id, struct{}{})
	}
	found := set.Delete(resvID)
	node.ReservationIDs = set.Keys()
	return found
}

// bindReservationNodes points r at the nodes a decoded spec names and adds
// the reverse links.  The caller has already vetted the spec against the
// inventory, so a missing node here is a storage-level failure.
func bindReservationNodes(r *model.Reservation, spec execvnode.Spec) error {
	names := orderedmap.NewOrderedMap[string, struct{}]()
	for _, chunk := range spec.Chunks {
		names.Set(chunk.Node, struct{}{})
	}
	for _, name := range names.Keys() {
		node, err := (*GLOB.DSP).GetNode(name)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				return errors.Wrapf(model.ErrPlacementFailure,
					"node %s not in inventory", name)
			}
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
		addNodeBackRef(&node, r.ReservationID)
		node.LastUpdated = GLOB.Now()
		if err := (*GLOB.DSP).StoreNode(node); err != nil {
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
	}
	r.ExecVnodes = spec.String()
	r.NodeNames = names.Keys()
	return nil
}

// releaseNodeBindings removes every reverse link r holds and clears its
// binding fields.  Ledger charges are the caller's business; release them
// before calling this, while the binding string is still present.
func releaseNodeBindings(r *model.Reservation) error {
	for _, name := range r.NodeNames {
		node, err := (*GLOB.DSP).GetNode(name)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				logger.Log.WithFields(logrus.Fields{
					"resvID": r.ReservationID, "node": name,
				}).Warn("Bound node missing from inventory during unbind.")
				continue
			}
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
		if !dropNodeBackRef(&node, r.ReservationID) {
			logger.Log.WithFields(logrus.Fields{
				"ERROR": model.ErrInternalInconsistency,
				"resvID": r.ReservationID, "node": name,
			}).Error("Node lacked the back-reference its reservation expected.")
		}
		node.LastUpdated = GLOB.Now()
		if err := (*GLOB.DSP).StoreNode(node); err != nil {
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
	}
	r.ExecVnodes = ""
	r.NodeNames = []string{}
	return nil
}

// removeNodeFromReservation strips one node's token from r's binding string
// and both link directions.  When the reservation holds a ledger charge the
// stripped token's extent is released, and only that extent.  Emptying the
// binding clears it entirely and force-starts the owning queue, which can
// no longer gate jobs by node.
func removeNodeFromReservation(r *model.Reservation, nodeName string) error {
	newSpec, removed, err := execvnode.RemoveNode(r.ExecVnodes, nodeName)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	if err := releaseLedgerChunks(r, removed); err != nil {
		return err
	}

	node, err := (*GLOB.DSP).GetNode(nodeName)
	if err == nil {
		dropNodeBackRef(&node, r.ReservationID)
		node.LastUpdated = GLOB.Now()
		if err := (*GLOB.DSP).StoreNode(node); err != nil {
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return errors.Wrap(model.ErrStorageFailure, err.Error())
	}

	names := orderedmap.NewOrderedMap[string, struct{}]()
	for _, name := range r.NodeNames {
		if name != nodeName {
			names.Set(name, struct{}{})
		}
	}
	r.NodeNames = names.Keys()
	r.ExecVnodes = newSpec

	if newSpec == "" {
		// The stripped chunks were the whole binding, so the whole charge
		// is gone with them.
		r.Giveback = false
		r.NodeNames = []string{}
		q, err := (*GLOB.DSP).GetQueue(r.QueueName)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				logger.Log.WithFields(logrus.Fields{
					"ERROR": model.ErrInternalInconsistency,
					"resvID": r.ReservationID, "queue": r.QueueName,
				}).Error("Owning queue record missing while clearing binding.")
				return nil
			}
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
		q.Started = true
		q.LastUpdated = GLOB.Now()
		if err := (*GLOB.DSP).StoreQueue(q); err != nil {
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
	}
	return nil
}

// removeHostFromReservation strips every vnode of one host from r.  The
// binding list is walked from a snapshot since each removal rewrites it.
func removeHostFromReservation(r *model.Reservation, hostname string) error {
	bound := make([]string, len(r.NodeNames))
	copy(bound, r.NodeNames)
	for _, name := range bound {
		if name != hostname && model.HostOfName(name) != hostname {
			continue
		}
		if err := removeNodeFromReservation(r, name); err != nil {
			return err
		}
	}
	return nil
}

// CheckLinkInvariant walks all reservations and nodes and verifies the two
// link directions agree.  A mismatch is an internal fault the test suites
// treat as a hard failure.
func CheckLinkInvariant() error {
	resvs, err := (*GLOB.DSP).GetAllReservations()
	if err != nil {
		return errors.Wrap(model.ErrStorageFailure, err.Error())
	}
	nodes, err := (*GLOB.DSP).GetAllNodes()
	if err != nil {
		return errors.Wrap(model.ErrStorageFailure, err.Error())
	}

	nodeRefs := map[string]map[string]bool{}
	for _, n := range nodes {
		refs := map[string]bool{}
		for _, id := range n.ReservationIDs {
			refs[id] = true
		}
		nodeRefs[n.Name] = refs
	}
	resvRefs := map[string]map[string]bool{}
	for _, r := range resvs {
		refs := map[string]bool{}
		for _, name := range r.NodeNames {
			refs[name] = true
		}
		resvRefs[r.ReservationID] = refs
	}

	for _, r := range resvs {
		for _, name := range r.NodeNames {
			refs, ok := nodeRefs[name]
			if !ok || !refs[r.ReservationID] {
				return errors.Wrapf(model.ErrInternalInconsistency,
					"reservation %s lists node %s but the node does not link back",
					r.ReservationID, name)
			}
		}
	}
	for _, n := range nodes {
		for _, id := range n.ReservationIDs {
			refs, ok := resvRefs[id]
			if !ok || !refs[n.Name] {
				return errors.Wrapf(model.ErrInternalInconsistency,
					"node %s lists reservation %s but the reservation does not link back",
					n.Name, id)
			}
		}
	}
	return nil
}
