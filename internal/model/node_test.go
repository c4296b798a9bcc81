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

package model

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type NodeTS struct {
	suite.Suite
}

func (suite *NodeTS) TestToNodeState() {
	ns, err := ToNodeState("")
	suite.Nil(err)
	suite.Equal(NodeState_Free, ns)

	ns, err = ToNodeState("free")
	suite.Nil(err)
	suite.Equal(NodeState_Free, ns)

	ns, err = ToNodeState("Down")
	suite.Nil(err)
	suite.Equal(NodeState_Down, ns)

	ns, err = ToNodeState("OFFLINE")
	suite.Nil(err)
	suite.Equal(NodeState_Offline, ns)

	ns, err = ToNodeState("drained")
	suite.NotNil(err)
	suite.Equal(NodeState_Nil, ns)
}

func (suite *NodeTS) TestNodeStateString() {
	suite.Equal("free", NodeState_Free.String())
	suite.Equal("down", NodeState_Down.String())
	suite.Equal("offline", NodeState_Offline.String())
	suite.Equal("invalid", NodeState_Nil.String())
}

func (suite *NodeTS) TestHostOfName() {
	suite.Equal("host07", HostOfName("host07[3]"))
	suite.Equal("host07", HostOfName("host07"))
	//A leading bracket is not a vnode suffix.
	suite.Equal("[weird]", HostOfName("[weird]"))

	n := Node{Name: "gpu02[1]"}
	suite.Equal("gpu02", n.HostOf())
}

func TestNodeSuite(t *testing.T) {
	suite.Run(t, new(NodeTS))
}
