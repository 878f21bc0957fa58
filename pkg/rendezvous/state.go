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

// Package rendezvous implements the per-cohort shared memory segment that
// peer processes use to find each other: a fixed-layout CohortState struct
// mapped into every participant's address space at the same file-backed
// offset, a cross-process mutex guarding it, and an ordered singly-linked
// list of participant slots threaded through array indices rather than
// pointers (pointers are meaningless once a struct is visible in more than
// one process's address space).
package rendezvous

import (
	"github.com/pkg/errors"

	"github.com/intel/mpipin/internal/ipc"
	"github.com/intel/mpipin/pkg/cpuset"
)

// SlotCapacity bounds how many participants a single cohort can hold. It is
// a compile-time constant because CohortState has to have a fixed size: it
// is mapped directly over a shared memory region, so it cannot contain a
// slice.
const SlotCapacity = 1024

// EndOfList marks the end of the slot linked list, and also the "not in the
// list" state for a slot that is not currently queued.
const EndOfList = -1

const endOfList = EndOfList

// Slot is one participant's entry in the cohort. PID 0 means the slot is
// free. Ready and Timeout are plain ints rather than bool so the struct has
// no gaps that would need manual zeroing in the shared memory layout.
type Slot struct {
	PID       int32
	Ready     int32
	Timeout   int32
	NextIndex int32
	Cond      ipc.Cond
}

func (s *Slot) free() bool { return s.PID == 0 }

// CohortState is the payload of the rendezvous region: everything every
// sibling process needs to agree on to run one barrier round. It contains
// no pointers, slices or maps, only fixed-size arrays and plain integers,
// so a mmap of the backing file can be cast directly onto it in every
// participant's address space.
type CohortState struct {
	Mutex ipc.Mutex

	// ExpectedSize is -1 when no cohort is in progress. StillToArrive
	// counts down arrivals during Step A; ElectedRankCounter counts rank
	// hand-offs during Step F and is distinct from StillToArrive (see
	// barrier.PinProcess) so the two don't get decremented for the same
	// reason.
	ExpectedSize       int32
	StillToArrive      int32
	ElectedRankCounter int32

	AvailableCPUs  cpuset.CPUSet
	CPUsPerProcess int32

	HeadOfQueueIndex int32

	Slots      [SlotCapacity]Slot
	Affinities [SlotCapacity]cpuset.CPUSet
}

var (
	// ErrCohortFull is returned when every slot already holds a
	// participant.
	ErrCohortFull = errors.New("rendezvous: cohort is full")
	// ErrCorruptState is returned when the shared segment's invariants
	// don't hold, e.g. because something other than mpipin wrote to the
	// segment or it holds a layout from an incompatible build.
	ErrCorruptState = errors.New("rendezvous: corrupt cohort state")
)

// initState resets the cohort state to idle. Called exactly once, by the
// first arriver, under the setup file lock.
func (c *CohortState) initState(available cpuset.CPUSet, ppn int) {
	c.Mutex.Init()
	for i := range c.Slots {
		c.Slots[i] = Slot{NextIndex: endOfList}
		c.Slots[i].Cond.Init()
	}
	c.ExpectedSize = -1
	c.StillToArrive = -1
	c.ElectedRankCounter = 0
	c.HeadOfQueueIndex = endOfList
	c.AvailableCPUs = available
	if ppn > 0 {
		c.CPUsPerProcess = int32(available.Count() / ppn)
	}
}

// validate does a cheap sanity check on a segment this process did not
// create, before trusting it as a real CohortState: something other than
// mpipin writing to the path, or a stale layout from an incompatible
// build, would otherwise be read as silently-wrong data instead of a
// clear error.
func (c *CohortState) validate() error {
	if c.ExpectedSize != -1 && (c.ExpectedSize <= 0 || c.ExpectedSize > SlotCapacity) {
		return errors.Wrapf(ErrCorruptState, "expected_size=%d", c.ExpectedSize)
	}
	if c.HeadOfQueueIndex != endOfList && (c.HeadOfQueueIndex < 0 || c.HeadOfQueueIndex >= SlotCapacity) {
		return errors.Wrapf(ErrCorruptState, "head_of_queue_index=%d", c.HeadOfQueueIndex)
	}
	return nil
}

// Idle reports whether no cohort is currently running.
func (c *CohortState) Idle() bool {
	return c.ExpectedSize == -1
}

// Reset returns the cohort to the idle state: no expected size and no
// available CPUs. It does not touch the slots or the participant list;
// each participant releases its own slot with ReleaseSlot.
func (c *CohortState) Reset() {
	c.ExpectedSize = -1
	c.AvailableCPUs = cpuset.CPUSet{}
}

// AcquireSlot claims the first free slot for pid, per Step B.
func (c *CohortState) AcquireSlot(pid int32) (int32, error) {
	for i := range c.Slots {
		if c.Slots[i].free() {
			c.Slots[i].PID = pid
			c.Slots[i].Ready = 0
			c.Slots[i].Timeout = 0
			c.Slots[i].NextIndex = endOfList
			return int32(i), nil
		}
	}
	return -1, ErrCohortFull
}

// ReleaseSlot frees a slot after its participant has consumed its
// affinity and is about to return from the barrier.
func (c *CohortState) ReleaseSlot(idx int32) {
	c.Slots[idx] = Slot{NextIndex: endOfList}
}

// InsertOrdered splices slot idx into the singly-linked participant list in
// ascending pid order, per Step C. Ties on pid are broken by insertion
// order: a new slot is appended after any existing slots with an equal pid.
func (c *CohortState) InsertOrdered(idx int32) {
	pid := c.Slots[idx].PID

	if c.HeadOfQueueIndex == endOfList {
		c.HeadOfQueueIndex = idx
		return
	}
	if pid < c.Slots[c.HeadOfQueueIndex].PID {
		c.Slots[idx].NextIndex = c.HeadOfQueueIndex
		c.HeadOfQueueIndex = idx
		return
	}

	prev := c.HeadOfQueueIndex
	for c.Slots[prev].NextIndex != endOfList && c.Slots[c.Slots[prev].NextIndex].PID <= pid {
		prev = c.Slots[prev].NextIndex
	}
	c.Slots[idx].NextIndex = c.Slots[prev].NextIndex
	c.Slots[prev].NextIndex = idx
}

// PopHead removes and returns the index of the head of the participant
// list, or EndOfList if the list is empty.
func (c *CohortState) PopHead() int32 {
	head := c.HeadOfQueueIndex
	if head == endOfList {
		return endOfList
	}
	c.HeadOfQueueIndex = c.Slots[head].NextIndex
	c.Slots[head].NextIndex = endOfList
	return head
}

// BroadcastTimeout implements Step G: every slot still queued other than
// excludeIdx (the caller's own, which the caller returns BarrierTimedOut
// for directly) is marked ready and timed out and signalled, and the
// cohort is reset to idle. It is idempotent under the mutex: only the
// first waiter whose deadline fires gets to run it, because every other
// queued slot is popped out of the list by this call.
func (c *CohortState) BroadcastTimeout(excludeIdx int32) {
	for idx := c.PopHead(); idx != endOfList; idx = c.PopHead() {
		if idx == excludeIdx {
			continue
		}
		c.Slots[idx].Ready = 1
		c.Slots[idx].Timeout = 1
		c.Slots[idx].Cond.Signal()
	}
	c.Reset()
}
