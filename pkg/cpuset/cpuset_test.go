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

package cpuset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetClearTest(t *testing.T) {
	var s CPUSet
	require.True(t, s.IsEmpty())

	s.Set(3)
	s.Set(65)
	require.True(t, s.Test(3))
	require.True(t, s.Test(65))
	require.False(t, s.Test(4))
	require.Equal(t, 2, s.Count())

	s.Clear(3)
	require.False(t, s.Test(3))
	require.Equal(t, 1, s.Count())
}

func TestOutOfRangeIsIgnored(t *testing.T) {
	var s CPUSet
	s.Set(-1)
	s.Set(MaxCPUs)
	require.True(t, s.IsEmpty())
	require.False(t, s.Test(-1))
	require.False(t, s.Test(MaxCPUs))
}

func TestSetOps(t *testing.T) {
	a := New(0, 1, 2, 3)
	b := New(2, 3, 4, 5)

	require.Equal(t, New(0, 1, 2, 3, 4, 5), a.Union(b))
	require.Equal(t, New(2, 3), a.Intersect(b))
	require.Equal(t, New(0, 1), a.Difference(b))
	require.True(t, New(0, 1).IsSubsetOf(a))
	require.False(t, b.IsSubsetOf(a))
}

func TestEqualAndClone(t *testing.T) {
	a := New(1, 5, 9)
	b := a.Clone()
	require.True(t, a.Equal(b))

	b.Set(20)
	require.False(t, a.Equal(b))
}

func TestLowestAndNextSet(t *testing.T) {
	s := New(5, 9, 100)
	require.Equal(t, 5, s.Lowest())
	require.Equal(t, 9, s.NextSet(6))
	require.Equal(t, 100, s.NextSet(10))
	require.Equal(t, -1, s.NextSet(101))

	var empty CPUSet
	require.Equal(t, -1, empty.Lowest())
}

func TestForEachAndSlice(t *testing.T) {
	s := New(3, 1, 2)
	require.Equal(t, []int{1, 2, 3}, s.Slice())

	var seen []int
	s.ForEach(func(cpu int) bool {
		seen = append(seen, cpu)
		return cpu != 2
	})
	require.Equal(t, []int{1, 2}, seen)
}

func TestString(t *testing.T) {
	require.Equal(t, "", CPUSet{}.String())
	require.Equal(t, "0-3,7", New(0, 1, 2, 3, 7).String())
	require.Equal(t, "5", New(5).String())
}
