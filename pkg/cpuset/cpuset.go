// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cpuset implements a fixed-capacity CPU bitmap.
//
// The type is a plain array of words, with no pointers or slices, so a
// CPUSet value can be embedded directly inside a struct that is placed
// over a shared memory mapping: every participant that maps the same
// region sees the same bits at the same byte offset.
package cpuset

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// MaxCPUs is the number of CPU ids this package can represent: ids 0
	// through MaxCPUs-1.
	MaxCPUs = 1024
	wordBits = 64
	numWords = MaxCPUs / wordBits
)

// CPUSet is a fixed-capacity bitmap of CPU ids in [0, MaxCPUs).
type CPUSet struct {
	words [numWords]uint64
}

// New returns an empty CPUSet with the given CPUs set.
func New(cpus ...int) CPUSet {
	var s CPUSet
	for _, c := range cpus {
		s.Set(c)
	}
	return s
}

func wordIndex(cpu int) (int, uint64) {
	return cpu / wordBits, uint64(1) << uint(cpu%wordBits)
}

// Set adds cpu to the set. Out-of-range ids are ignored.
func (s *CPUSet) Set(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	w, bit := wordIndex(cpu)
	s.words[w] |= bit
}

// Clear removes cpu from the set.
func (s *CPUSet) Clear(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	w, bit := wordIndex(cpu)
	s.words[w] &^= bit
}

// Test reports whether cpu is a member of the set.
func (s CPUSet) Test(cpu int) bool {
	if cpu < 0 || cpu >= MaxCPUs {
		return false
	}
	w, bit := wordIndex(cpu)
	return s.words[w]&bit != 0
}

// IsEmpty reports whether the set has no members.
func (s CPUSet) IsEmpty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of CPUs in the set.
func (s CPUSet) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Clone returns a copy of the set.
func (s CPUSet) Clone() CPUSet {
	return s
}

// Union returns the union of s and o.
func (s CPUSet) Union(o CPUSet) CPUSet {
	var r CPUSet
	for i := range s.words {
		r.words[i] = s.words[i] | o.words[i]
	}
	return r
}

// Intersect returns the intersection of s and o.
func (s CPUSet) Intersect(o CPUSet) CPUSet {
	var r CPUSet
	for i := range s.words {
		r.words[i] = s.words[i] & o.words[i]
	}
	return r
}

// Difference returns the CPUs in s that are not in o.
func (s CPUSet) Difference(o CPUSet) CPUSet {
	var r CPUSet
	for i := range s.words {
		r.words[i] = s.words[i] &^ o.words[i]
	}
	return r
}

// Equal reports whether s and o have identical membership.
func (s CPUSet) Equal(o CPUSet) bool {
	return s.words == o.words
}

// IsSubsetOf reports whether every CPU in s is also in o.
func (s CPUSet) IsSubsetOf(o CPUSet) bool {
	return s.Difference(o).IsEmpty()
}

// Lowest returns the lowest-numbered CPU in the set, or -1 if empty.
func (s CPUSet) Lowest() int {
	return s.NextSet(0)
}

// NextSet returns the lowest-numbered CPU >= from that is in the set, or
// -1 if there is none. Used by the partitioner's ascending-order scans.
func (s CPUSet) NextSet(from int) int {
	if from < 0 {
		from = 0
	}
	for w := from / wordBits; w < numWords; w++ {
		word := s.words[w]
		if w == from/wordBits {
			word &^= (uint64(1) << uint(from%wordBits)) - 1
		}
		if word == 0 {
			continue
		}
		return w*wordBits + bits.TrailingZeros64(word)
	}
	return -1
}

// ForEach calls f for every CPU in the set in ascending order, stopping
// early if f returns false.
func (s CPUSet) ForEach(f func(cpu int) bool) {
	for c := s.Lowest(); c != -1; c = s.NextSet(c + 1) {
		if !f(c) {
			return
		}
	}
}

// Slice returns the set's members as a sorted slice.
func (s CPUSet) Slice() []int {
	out := make([]int, 0, s.Count())
	s.ForEach(func(cpu int) bool {
		out = append(out, cpu)
		return true
	})
	return out
}

// String renders the set as a sorted, range-compressed list, e.g. "0-3,7".
func (s CPUSet) String() string {
	members := s.Slice()
	if len(members) == 0 {
		return ""
	}

	var b strings.Builder
	start, prev := members[0], members[0]
	flush := func(end int) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == end {
			fmt.Fprintf(&b, "%d", start)
		} else {
			fmt.Fprintf(&b, "%d-%d", start, end)
		}
	}
	for _, m := range members[1:] {
		if m == prev+1 {
			prev = m
			continue
		}
		flush(prev)
		start, prev = m, m
	}
	flush(prev)

	return b.String()
}
