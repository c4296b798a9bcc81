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

package placement

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/execvnode"
	"github.com/openbatch/reservation-control/internal/model"
	"github.com/openbatch/reservation-control/internal/storage"
)

//This package checks scheduler-proposed node bindings against the node
//inventory.  It does not select nodes itself; the external scheduler does
//placement, and RCS only verifies that a proposed binding still fits.

type PLACEMENT_GLOBALS struct {
	SvcName string
	Logger  *logrus.Logger
	DSP     *storage.StorageProvider
}

// PlacementProvider is the node-inventory collaborator used while confirming
// a reservation.
type PlacementProvider interface {
	Init(globals *PLACEMENT_GLOBALS) error
	Ping() error
	CheckCapacity(ctx context.Context, spec execvnode.Spec) error
	UnavailableNodes(ctx context.Context, names []string) ([]string, error)
	EnsureNodes(ctx context.Context, spec execvnode.Spec) error
}

// InventoryV0 backs the placement checks with the node records in RCS
// storage.
type InventoryV0 struct {
	PlacementGlobals PLACEMENT_GLOBALS
}

func (b *InventoryV0) Init(globals *PLACEMENT_GLOBALS) error {
	b.PlacementGlobals = PLACEMENT_GLOBALS{}
	b.PlacementGlobals = *globals

	if b.PlacementGlobals.Logger == nil {
		b.PlacementGlobals.Logger = logrus.New()
	}
	if b.PlacementGlobals.SvcName == "" {
		b.PlacementGlobals.SvcName = "RCS"
	}
	if b.PlacementGlobals.DSP == nil {
		return fmt.Errorf("ERROR: no storage provider is present.")
	}
	return nil
}

func (b *InventoryV0) Ping() error {
	return (*b.PlacementGlobals.DSP).Ping()
}

// CheckCapacity verifies every chunk of a proposed binding: the named node
// must exist, must not be down or offline, and its unassigned capacity must
// cover the chunk's numeric resource request.
func (b *InventoryV0) CheckCapacity(ctx context.Context, spec execvnode.Spec) error {
	for _, chunk := range spec.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, err := (*b.PlacementGlobals.DSP).GetNode(chunk.Node)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				return errors.Wrapf(model.ErrPlacementFailure,
					"node %s not in inventory", chunk.Node)
			}
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
		if node.State != model.NodeState_Free {
			return errors.Wrapf(model.ErrPlacementFailure,
				"node %s is %s", chunk.Node, node.State.String())
		}
		for res, want := range chunk.NumericResources() {
			avail, ok := node.ResourcesAvailable[res]
			if !ok {
				return errors.Wrapf(model.ErrPlacementFailure,
					"node %s has no resource %s", chunk.Node, res)
			}
			free := avail - node.ResourcesAssigned[res]
			if want > free {
				return errors.Wrapf(model.ErrPlacementFailure,
					"node %s: want %d %s, %d free", chunk.Node, want, res, free)
			}
		}
	}
	return nil
}

// UnavailableNodes returns the subset of names that are missing from the
// inventory or not in the free state.  The count feeds a reservation's
// VnodesDown field.
func (b *InventoryV0) UnavailableNodes(ctx context.Context, names []string) ([]string, error) {
	down := []string{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return down, err
		}
		node, err := (*b.PlacementGlobals.DSP).GetNode(name)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				down = append(down, name)
				continue
			}
			return down, errors.Wrap(model.ErrStorageFailure, err.Error())
		}
		if node.State != model.NodeState_Free {
			down = append(down, name)
		}
	}
	return down, nil
}

// EnsureNodes creates inventory records for nodes a maintenance reservation
// names that do not exist yet.  Maintenance windows may target hardware that
// was drained out of the inventory; the binding still has to land somewhere.
func (b *InventoryV0) EnsureNodes(ctx context.Context, spec execvnode.Spec) error {
	for _, chunk := range spec.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := (*b.PlacementGlobals.DSP).GetNode(chunk.Node)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrKeyNotFound) {
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
		node := model.Node{
			Name:               chunk.Node,
			State:              model.NodeState_Free,
			ResourcesAvailable: chunk.NumericResources(),
			ResourcesAssigned:  map[string]int64{},
			ReservationIDs:     []string{},
		}
		b.PlacementGlobals.Logger.WithFields(logrus.Fields{
			"node": chunk.Node,
		}).Info("Creating inventory record for maintenance target.")
		if err := (*b.PlacementGlobals.DSP).StoreNode(node); err != nil {
			return errors.Wrap(model.ErrStorageFailure, err.Error())
		}
	}
	return nil
}
