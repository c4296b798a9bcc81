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
)

type NodeState int

const (
	NodeState_Nil     NodeState = iota - 1
	NodeState_Free              // free = 0
	NodeState_Down              // 1
	NodeState_Offline           // 2
)

func ToNodeState(state string) (NS NodeState, err error) {
	if len(state) == 0 {
		NS = NodeState_Free
		return
	}
	switch strings.ToLower(state) {
	case "free":
		NS = NodeState_Free
	case "down":
		NS = NodeState_Down
	case "offline":
		NS = NodeState_Offline
	default:
		err = errors.New("invalid node state: " + state)
		NS = NodeState_Nil
	}
	return
}

func (ns NodeState) String() string {
	if int(ns) < 0 || int(ns) > int(NodeState_Offline) {
		return "invalid"
	}
	return [...]string{"free", "down", "offline"}[ns]
}

func (ns NodeState) EnumIndex() int {
	return int(ns)
}

// Node is a persisted inventory record.  ReservationIDs is the ordered
// back-reference list: relation only, never lifetime authority over the
// reservation.  It must mirror the reservations' NodeNames lists exactly.
type Node struct {
	Name               string           `json:"name"`
	State              NodeState        `json:"state"`
	ResourcesAvailable map[string]int64 `json:"resourcesAvailable,omitempty"`
	ResourcesAssigned  map[string]int64 `json:"resourcesAssigned,omitempty"`
	ReservationIDs     []string         `json:"reservationIDs,omitempty"`
	LastUpdated        time.Time        `json:"lastUpdated"`
}

// HostOfName strips any per-vnode suffix so vnodes carved from one host
// ("host[0]", "host[1]") can be matched by hostname.
func HostOfName(name string) string {
	if idx := strings.Index(name, "["); idx > 0 {
		return name[:idx]
	}
	return name
}

func (n *Node) HostOf() string {
	return HostOfName(n.Name)
}

type NodeResp struct {
	Name               string           `json:"name"`
	State              string           `json:"state"`
	ResourcesAvailable map[string]int64 `json:"resourcesAvailable,omitempty"`
	ResourcesAssigned  map[string]int64 `json:"resourcesAssigned,omitempty"`
	ReservationIDs     []string         `json:"reservationIDs,omitempty"`
	LastUpdated        string           `json:"lastUpdated"` //RFC3339Nano
}

func (n *Node) ToResp() NodeResp {
	return NodeResp{
		Name:               n.Name,
		State:              n.State.String(),
		ResourcesAvailable: n.ResourcesAvailable,
		ResourcesAssigned:  n.ResourcesAssigned,
		ReservationIDs:     n.ReservationIDs,
		LastUpdated:        n.LastUpdated.Format(time.RFC3339Nano),
	}
}

type NodeList struct {
	Nodes []NodeResp `json:"nodes"`
}

// NodeUpsertParameter is the PUT /nodes/{name} body.
type NodeUpsertParameter struct {
	State              string           `json:"state,omitempty"`
	ResourcesAvailable map[string]int64 `json:"resourcesAvailable,omitempty"`
}
