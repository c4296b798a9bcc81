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

// Package execvnode parses and renders the node-binding spec strings the
// scheduler sends with a confirmation.
//
// An advance reservation binds one spec, a +-joined list of parenthesized
// chunks:
//
//	(nodeA:ncpus=2)+(nodeB:ncpus=1:mem=1024)
//
// A standing reservation binds a sequence, a declared occurrence count and
// one spec per occurrence, separated by bracketed range annotations the
// decoder carries but does not interpret:
//
//	3#(n1:r)+[0:3600](n2:r)+[3600:7200](n3:r)
//
// Parsed values are transient; only the original wire string is ever
// persisted.
package execvnode

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/openbatch/reservation-control/internal/model"
)

// Resource is one name or name=value entry inside a chunk.  Value may be
// empty for bare resource names.
type Resource struct {
	Name  string
	Value string
}

// Chunk is one parenthesized (node:resources) token.
type Chunk struct {
	Node      string
	Resources []Resource
}

// NumericResources returns the chunk's countable resource extents.
// Non-numeric values (mem=4gb style) carry no ledger extent and are
// skipped.
func (c Chunk) NumericResources() map[string]int64 {
	out := make(map[string]int64)
	for _, res := range c.Resources {
		if res.Value == "" {
			continue
		}
		v, err := strconv.ParseInt(res.Value, 10, 64)
		if err != nil {
			continue
		}
		out[res.Name] += v
	}
	return out
}

func (c Chunk) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(c.Node)
	for _, res := range c.Resources {
		b.WriteByte(':')
		b.WriteString(res.Name)
		if res.Value != "" {
			b.WriteByte('=')
			b.WriteString(res.Value)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// Spec is one occurrence's node binding, an ordered chunk list.
type Spec struct {
	Chunks []Chunk
}

func (sp Spec) Empty() bool {
	return len(sp.Chunks) == 0
}

// Nodes returns the bound node names in binding order.
func (sp Spec) Nodes() []string {
	names := make([]string, 0, len(sp.Chunks))
	for _, c := range sp.Chunks {
		names = append(names, c.Node)
	}
	return names
}

func (sp Spec) String() string {
	parts := make([]string, 0, len(sp.Chunks))
	for _, c := range sp.Chunks {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "+")
}

// Sequence is a decoded standing-reservation binding: Count occurrences
// in order.  Ranges holds the bracket annotations found between
// occurrences, verbatim, for re-encoding.
type Sequence struct {
	Count       int
	Occurrences []Spec
	Ranges      []string
}

// Next returns the spec for a 1-based occurrence index.
func (sq *Sequence) Next(idx int) (Spec, error) {
	if idx < 1 || idx > len(sq.Occurrences) {
		return Spec{}, errors.Wrapf(model.ErrProtocolViolation,
			"occurrence index %d out of range 1..%d", idx, len(sq.Occurrences))
	}
	return sq.Occurrences[idx-1], nil
}

// Condense re-encodes the sequence in wire form.
func (sq *Sequence) Condense() string {
	if sq.Count <= 1 && len(sq.Occurrences) == 1 {
		return sq.Occurrences[0].String()
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(sq.Count))
	b.WriteByte('#')
	for i, occ := range sq.Occurrences {
		if i > 0 {
			b.WriteByte('+')
			if i-1 < len(sq.Ranges) {
				b.WriteByte('[')
				b.WriteString(sq.Ranges[i-1])
				b.WriteByte(']')
			}
		}
		b.WriteString(occ.String())
	}
	return b.String()
}

// Parse decodes a single advance-form spec.
func Parse(spec string) (Spec, error) {
	var out Spec
	if strings.TrimSpace(spec) == "" {
		return out, errors.Wrap(model.ErrProtocolViolation, "empty execvnode spec")
	}
	i := 0
	for i < len(spec) {
		if spec[i] == '+' {
			i++
			continue
		}
		if spec[i] != '(' {
			return Spec{}, errors.Wrapf(model.ErrProtocolViolation,
				"expected '(' at offset %d of %q", i, spec)
		}
		end := strings.IndexByte(spec[i:], ')')
		if end < 0 {
			return Spec{}, errors.Wrapf(model.ErrProtocolViolation,
				"unterminated chunk in %q", spec)
		}
		chunk, err := parseChunk(spec[i+1 : i+end])
		if err != nil {
			return Spec{}, err
		}
		out.Chunks = append(out.Chunks, chunk)
		i += end + 1
	}
	if len(out.Chunks) == 0 {
		return Spec{}, errors.Wrapf(model.ErrProtocolViolation, "no chunks in execvnode spec %q", spec)
	}
	return out, nil
}

func parseChunk(body string) (Chunk, error) {
	var chunk Chunk
	fields := strings.Split(body, ":")
	chunk.Node = strings.TrimSpace(fields[0])
	if chunk.Node == "" {
		return chunk, errors.Wrapf(model.ErrProtocolViolation, "chunk %q has no node name", body)
	}
	for _, field := range fields[1:] {
		if field == "" {
			return chunk, errors.Wrapf(model.ErrProtocolViolation, "chunk %q has an empty resource entry", body)
		}
		name, value := field, ""
		if eq := strings.IndexByte(field, '='); eq >= 0 {
			name, value = field[:eq], field[eq+1:]
			if name == "" {
				return chunk, errors.Wrapf(model.ErrProtocolViolation, "chunk %q has an unnamed resource", body)
			}
		}
		chunk.Resources = append(chunk.Resources, Resource{Name: name, Value: value})
	}
	return chunk, nil
}

// ParseSequence decodes a wire string into occurrence specs.  Strings
// without a count prefix decode as a single-occurrence sequence (advance
// reservation).  A declared count that does not match the number of
// occurrence tokens found is a protocol violation.
func ParseSequence(s string) (*Sequence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.Wrap(model.ErrProtocolViolation, "empty execvnode sequence")
	}

	count := 1
	rest := s
	if hash := strings.IndexByte(s, '#'); hash > 0 {
		n, err := strconv.Atoi(s[:hash])
		if err != nil || n < 1 {
			return nil, errors.Wrapf(model.ErrProtocolViolation,
				"bad occurrence count prefix %q", s[:hash])
		}
		count = n
		rest = s[hash+1:]
	}

	seq := &Sequence{Count: count}
	start := 0
	for i := 0; i < len(rest); i++ {
		if rest[i] != '[' {
			continue
		}
		closeIdx := strings.IndexByte(rest[i:], ']')
		if closeIdx < 0 {
			return nil, errors.Wrapf(model.ErrProtocolViolation,
				"unterminated range annotation in %q", s)
		}
		segment := strings.Trim(rest[start:i], "+")
		if segment == "" {
			return nil, errors.Wrapf(model.ErrProtocolViolation,
				"empty occurrence token in %q", s)
		}
		occ, err := Parse(segment)
		if err != nil {
			return nil, err
		}
		seq.Occurrences = append(seq.Occurrences, occ)
		seq.Ranges = append(seq.Ranges, rest[i+1:i+closeIdx])
		i += closeIdx
		start = i + 1
	}
	segment := strings.Trim(rest[start:], "+")
	if segment == "" {
		return nil, errors.Wrapf(model.ErrProtocolViolation, "empty occurrence token in %q", s)
	}
	occ, err := Parse(segment)
	if err != nil {
		return nil, err
	}
	seq.Occurrences = append(seq.Occurrences, occ)

	if len(seq.Occurrences) != count {
		return nil, errors.Wrapf(model.ErrProtocolViolation,
			"declared occurrence count %d does not match %d execvnode tokens",
			count, len(seq.Occurrences))
	}
	return seq, nil
}

// RemoveNode strips every chunk bound to the named node from a spec
// string.  It returns the normalized residual spec (empty when the last
// chunk is removed), the removed chunks so the caller can release their
// ledger extents, and whether anything matched.  The input string is
// decoded and re-encoded whole, so a failure leaves no half-edited form.
func RemoveNode(spec string, node string) (string, []Chunk, error) {
	parsed, err := Parse(spec)
	if err != nil {
		return spec, nil, err
	}
	var kept Spec
	var removed []Chunk
	for _, c := range parsed.Chunks {
		if c.Node == node {
			removed = append(removed, c)
			continue
		}
		kept.Chunks = append(kept.Chunks, c)
	}
	if len(removed) == 0 {
		return spec, nil, nil
	}
	if kept.Empty() {
		return "", removed, nil
	}
	return kept.String(), removed, nil
}
