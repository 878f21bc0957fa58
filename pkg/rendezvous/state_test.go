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

package rendezvous

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/mpipin/pkg/cpuset"
)

func newState(t *testing.T) *CohortState {
	t.Helper()
	c := &CohortState{}
	c.initState(cpuset.New(0, 1, 2, 3), 2)
	return c
}

func TestAcquireAndReleaseSlot(t *testing.T) {
	c := newState(t)

	idx, err := c.AcquireSlot(100)
	require.NoError(t, err)
	require.EqualValues(t, 0, idx)
	require.EqualValues(t, 100, c.Slots[idx].PID)

	c.ReleaseSlot(idx)
	require.True(t, c.Slots[idx].free())
	require.EqualValues(t, endOfList, c.Slots[idx].NextIndex)
}

func TestAcquireSlotExhaustsCapacity(t *testing.T) {
	c := &CohortState{}
	c.initState(cpuset.New(0), 1)
	// Shrink the visible capacity by claiming every slot but one directly.
	for i := 0; i < SlotCapacity-1; i++ {
		_, err := c.AcquireSlot(int32(i + 1))
		require.NoError(t, err)
	}

	idx, err := c.AcquireSlot(9999)
	require.NoError(t, err)

	_, err = c.AcquireSlot(10000)
	require.ErrorIs(t, err, ErrCohortFull)

	c.ReleaseSlot(idx)
	_, err = c.AcquireSlot(10001)
	require.NoError(t, err)
}

func TestInsertOrderedAscendingByPID(t *testing.T) {
	c := newState(t)

	idxA, _ := c.AcquireSlot(30)
	idxB, _ := c.AcquireSlot(10)
	idxC, _ := c.AcquireSlot(20)

	c.InsertOrdered(idxA)
	c.InsertOrdered(idxB)
	c.InsertOrdered(idxC)

	var order []int32
	for i := c.HeadOfQueueIndex; i != endOfList; i = c.Slots[i].NextIndex {
		order = append(order, c.Slots[i].PID)
	}
	require.Equal(t, []int32{10, 20, 30}, order)
}

func TestInsertOrderedTiesBreakByInsertionOrder(t *testing.T) {
	c := newState(t)

	idxA, _ := c.AcquireSlot(10)
	idxB, _ := c.AcquireSlot(10)

	c.InsertOrdered(idxA)
	c.InsertOrdered(idxB)

	require.Equal(t, idxA, c.HeadOfQueueIndex)
	require.Equal(t, idxB, c.Slots[idxA].NextIndex)
}

func TestPopHeadEmptiesList(t *testing.T) {
	c := newState(t)
	idx, _ := c.AcquireSlot(5)
	c.InsertOrdered(idx)

	require.Equal(t, idx, c.PopHead())
	require.EqualValues(t, endOfList, c.HeadOfQueueIndex)
	require.EqualValues(t, endOfList, c.PopHead())
}

func TestIdleAndReset(t *testing.T) {
	c := newState(t)
	require.True(t, c.Idle())

	c.ExpectedSize = 4
	require.False(t, c.Idle())

	c.Reset()
	require.True(t, c.Idle())
	require.True(t, c.AvailableCPUs.IsEmpty())
}

func TestBroadcastTimeoutMarksEveryoneButExcludedAndResets(t *testing.T) {
	c := newState(t)
	c.ExpectedSize = 3

	idxA, _ := c.AcquireSlot(1)
	idxB, _ := c.AcquireSlot(2)
	idxC, _ := c.AcquireSlot(3)
	c.InsertOrdered(idxA)
	c.InsertOrdered(idxB)
	c.InsertOrdered(idxC)

	c.BroadcastTimeout(idxB)

	require.EqualValues(t, 1, c.Slots[idxA].Ready)
	require.EqualValues(t, 1, c.Slots[idxA].Timeout)
	require.EqualValues(t, 1, c.Slots[idxC].Ready)
	require.EqualValues(t, 1, c.Slots[idxC].Timeout)
	require.EqualValues(t, 0, c.Slots[idxB].Ready)
	require.EqualValues(t, 0, c.Slots[idxB].Timeout)

	require.True(t, c.Idle())
	require.EqualValues(t, endOfList, c.HeadOfQueueIndex)
}

func TestValidateAcceptsFreshState(t *testing.T) {
	c := newState(t)
	require.NoError(t, c.validate())
}

func TestValidateRejectsOutOfRangeExpectedSize(t *testing.T) {
	c := newState(t)
	c.ExpectedSize = SlotCapacity + 1
	require.ErrorIs(t, c.validate(), ErrCorruptState)
}

func TestValidateRejectsOutOfRangeHeadOfQueueIndex(t *testing.T) {
	c := newState(t)
	c.HeadOfQueueIndex = SlotCapacity
	require.ErrorIs(t, c.validate(), ErrCorruptState)
}
