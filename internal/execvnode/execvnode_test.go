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

package execvnode

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"

	"github.com/openbatch/reservation-control/internal/model"
)

type ExecVnodeTS struct {
	suite.Suite
}

func (suite *ExecVnodeTS) TestParse() {
	sp, err := Parse("(nodeA:ncpus=2)")
	suite.Nil(err)
	suite.Equal(1, len(sp.Chunks))
	suite.Equal("nodeA", sp.Chunks[0].Node)
	suite.Equal([]Resource{{Name: "ncpus", Value: "2"}}, sp.Chunks[0].Resources)

	sp, err = Parse("(nodeA:ncpus=2)+(nodeB:ncpus=1:mem=1024)")
	suite.Nil(err)
	suite.Equal(2, len(sp.Chunks))
	suite.Equal([]string{"nodeA", "nodeB"}, sp.Nodes())
	suite.Equal([]Resource{
		{Name: "ncpus", Value: "1"},
		{Name: "mem", Value: "1024"},
	}, sp.Chunks[1].Resources)

	//Bare resource names carry no value.
	sp, err = Parse("(nodeA:exclusive)")
	suite.Nil(err)
	suite.Equal([]Resource{{Name: "exclusive", Value: ""}}, sp.Chunks[0].Resources)

	//Chunks may bind a node with no resources at all.
	sp, err = Parse("(nodeA)")
	suite.Nil(err)
	suite.Equal("nodeA", sp.Chunks[0].Node)
	suite.Equal(0, len(sp.Chunks[0].Resources))
}

func (suite *ExecVnodeTS) TestParseRejects() {
	cases := []string{
		"",
		"  ",
		"nodeA:ncpus=2",
		"(nodeA:ncpus=2",
		"(:ncpus=2)",
		"(nodeA::mem=1024)",
		"(nodeA:=5)",
		"++",
	}
	for _, bad := range cases {
		_, err := Parse(bad)
		suite.NotNil(err, "spec %q should not parse", bad)
		suite.True(errors.Is(err, model.ErrProtocolViolation),
			"spec %q: expected a protocol violation, got %v", bad, err)
	}
}

func (suite *ExecVnodeTS) TestParseRoundTrip() {
	wire := "(nodeA:ncpus=2)+(nodeB:ncpus=1:mem=1024)+(nodeC:exclusive)"
	sp, err := Parse(wire)
	suite.Nil(err)
	suite.Equal(wire, sp.String())
}

func (suite *ExecVnodeTS) TestNumericResources() {
	sp, err := Parse("(n1:ncpus=2:mem=4gb:exclusive:ngpus=1)")
	suite.Nil(err)
	nr := sp.Chunks[0].NumericResources()
	suite.Equal(map[string]int64{"ncpus": 2, "ngpus": 1}, nr)

	//Repeated resource names within a chunk accumulate.
	sp, err = Parse("(n1:ncpus=2:ncpus=3)")
	suite.Nil(err)
	suite.Equal(map[string]int64{"ncpus": 5}, sp.Chunks[0].NumericResources())
}

func (suite *ExecVnodeTS) TestParseSequence() {
	seq, err := ParseSequence("3#(n1:r)+[0:3600](n2:r)+[3600:7200](n3:r)")
	suite.Nil(err)
	suite.Equal(3, seq.Count)
	suite.Equal(3, len(seq.Occurrences))
	suite.Equal([]string{"0:3600", "3600:7200"}, seq.Ranges)
	suite.Equal([]string{"n1"}, seq.Occurrences[0].Nodes())
	suite.Equal([]string{"n3"}, seq.Occurrences[2].Nodes())

	//No count prefix decodes as a single occurrence.
	seq, err = ParseSequence("(nodeA:ncpus=2)+(nodeB:ncpus=1)")
	suite.Nil(err)
	suite.Equal(1, seq.Count)
	suite.Equal(1, len(seq.Occurrences))
	suite.Equal([]string{"nodeA", "nodeB"}, seq.Occurrences[0].Nodes())
}

func (suite *ExecVnodeTS) TestParseSequenceRejects() {
	cases := []string{
		"",
		"0#(n1:r)",
		"x#(n1:r)",
		"3#(n1:r)+[0:3600](n2:r)",
		"2#(n1:r)+[0:3600",
		"2#+[0:3600](n2:r)",
	}
	for _, bad := range cases {
		_, err := ParseSequence(bad)
		suite.NotNil(err, "sequence %q should not parse", bad)
		suite.True(errors.Is(err, model.ErrProtocolViolation),
			"sequence %q: expected a protocol violation, got %v", bad, err)
	}
}

func (suite *ExecVnodeTS) TestSequenceNext() {
	seq, err := ParseSequence("3#(n1:r)+[0:3600](n2:r)+[3600:7200](n3:r)")
	suite.Nil(err)

	occ, err := seq.Next(2)
	suite.Nil(err)
	suite.Equal([]string{"n2"}, occ.Nodes())

	_, err = seq.Next(0)
	suite.NotNil(err)
	_, err = seq.Next(4)
	suite.NotNil(err)
}

func (suite *ExecVnodeTS) TestCondense() {
	wire := "3#(n1:r)+[0:3600](n2:r)+[3600:7200](n3:r)"
	seq, err := ParseSequence(wire)
	suite.Nil(err)
	suite.Equal(wire, seq.Condense())

	//A single-occurrence sequence condenses to the plain spec form.
	seq, err = ParseSequence("(nodeA:ncpus=2)")
	suite.Nil(err)
	suite.Equal("(nodeA:ncpus=2)", seq.Condense())
}

func (suite *ExecVnodeTS) TestRemoveNode() {
	wire := "(a:ncpus=1)+(b:ncpus=2)+(c:ncpus=3)"

	residual, removed, err := RemoveNode(wire, "b")
	suite.Nil(err)
	suite.Equal("(a:ncpus=1)+(c:ncpus=3)", residual)
	suite.Equal(1, len(removed))
	suite.Equal("b", removed[0].Node)

	//Removing the last chunk empties the spec.
	residual, removed, err = RemoveNode("(a:ncpus=1)", "a")
	suite.Nil(err)
	suite.Equal("", residual)
	suite.Equal(1, len(removed))

	//No match leaves the wire string untouched.
	residual, removed, err = RemoveNode(wire, "zzz")
	suite.Nil(err)
	suite.Equal(wire, residual)
	suite.Nil(removed)
}

func TestExecVnodeSuite(t *testing.T) {
	suite.Run(t, new(ExecVnodeTS))
}
