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

// Package barrier runs the cross-process rendezvous protocol: a cohort of
// peer processes arrives at a shared memory region in any order, elects
// the lowest-pid arrival to run the topology-aware partitioner exactly
// once, and hands each process its own CPU affinity mask in pid order.
package barrier

import (
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/mpipin/internal/ipc"
	"github.com/intel/mpipin/pkg/cpuset"
	"github.com/intel/mpipin/pkg/log"
	"github.com/intel/mpipin/pkg/partitioner"
	"github.com/intel/mpipin/pkg/rendezvous"
	"github.com/intel/mpipin/pkg/topology"
)

var logger = log.NewLogger("barrier")

// baseTimeout and perRankTimeout are vars, not consts, so tests can shrink
// them instead of waiting out a real ten-second cohort timeout.
var (
	baseTimeout    = 10 * time.Second
	perRankTimeout = 100 * time.Millisecond
)

var (
	// ErrArgument is returned for an invalid ppn.
	ErrArgument = errors.New("barrier: invalid argument")
	// ErrCohortSizeMismatch is returned when a participant declares a ppn
	// that disagrees with the cohort size already armed by an earlier
	// arrival.
	ErrCohortSizeMismatch = errors.New("barrier: cohort size mismatch")
	// ErrBarrierTimedOut is returned when the cohort did not complete
	// arrival within its deadline.
	ErrBarrierTimedOut = errors.New("barrier: timed out waiting for cohort")
)

// PinProcess runs this process's turn through the barrier protocol: it
// arms or joins the cohort housed in region, waits for the full cohort to
// arrive (running the partitioner itself if it turns out to be the
// elected participant), and returns the CPU affinity mask computed for
// this process's rank. The second return value reports whether this call
// observed the cohort end, i.e. was the last departer to release its
// slot and reset the cohort to idle: only that caller is in a position to
// unlink the rendezvous region's shared memory name without racing a
// sibling still inside the barrier.
//
// Ranks are handed out in ascending pid order, not arrival order: a
// participant with the lowest pid receives rank 0 even if it arrived last.
// Two runs therefore pin identically only if they see the same set of pids.
func PinProcess(region *rendezvous.Region, topo *topology.Topology, ppn int, mode partitioner.Mode) (cpuset.CPUSet, bool, error) {
	if ppn <= 0 || ppn > rendezvous.SlotCapacity {
		return cpuset.CPUSet{}, false, errors.Wrapf(ErrArgument, "ppn=%d", ppn)
	}

	cohort := region.State
	pid := int32(os.Getpid())

	if err := cohort.Mutex.Lock(); err != nil {
		return cpuset.CPUSet{}, false, errors.Wrap(err, "barrier: failed to acquire cohort mutex")
	}

	// Step A — cohort arming.
	if cohort.Idle() {
		cohort.ExpectedSize = int32(ppn)
		cohort.StillToArrive = int32(ppn)
	} else if cohort.ExpectedSize != int32(ppn) {
		cohort.Mutex.Unlock()
		return cpuset.CPUSet{}, false, errors.Wrapf(ErrCohortSizeMismatch, "cohort expects ppn=%d, got %d", cohort.ExpectedSize, ppn)
	}
	cohort.StillToArrive--

	// Step B — slot acquisition.
	idx, err := cohort.AcquireSlot(pid)
	if err != nil {
		cohort.Mutex.Unlock()
		return cpuset.CPUSet{}, false, err
	}

	// Step C — ordered insertion.
	cohort.InsertOrdered(idx)

	// Step D — election & wait. The last arriver elects the lowest-pid
	// queued participant by popping and signalling it; every participant,
	// elector included, then waits for its own slot to be marked ready
	// (the elector's own slot is only already-ready in the degenerate
	// case where it popped itself, e.g. a cohort of one).
	if cohort.StillToArrive == 0 {
		head := cohort.PopHead()
		cohort.Slots[head].Ready = 1
		cohort.Slots[head].Cond.Signal()
		cohort.StillToArrive = cohort.ExpectedSize
		cohort.ElectedRankCounter = 0
	}

	deadline := time.Now().Add(baseTimeout + time.Duration(cohort.ExpectedSize)*perRankTimeout)
	for cohort.Slots[idx].Ready == 0 {
		if err := cohort.Slots[idx].Cond.Wait(&cohort.Mutex, deadline); err != nil {
			if ipc.IsTimeout(err) {
				cohort.BroadcastTimeout(idx)
				cohort.ReleaseSlot(idx)
				cohort.Mutex.Unlock()
				logger.Warn("cohort rooted at this segment timed out waiting for pid %d", pid)
				return cpuset.CPUSet{}, false, ErrBarrierTimedOut
			}
			cohort.Mutex.Unlock()
			return cpuset.CPUSet{}, false, errors.Wrap(err, "barrier: wait on slot condition variable failed")
		}
	}

	if cohort.Slots[idx].Timeout == 1 {
		cohort.ReleaseSlot(idx)
		cohort.Mutex.Unlock()
		return cpuset.CPUSet{}, false, ErrBarrierTimedOut
	}

	// Step E — partitioning, run exactly once by the first-woken
	// participant.
	if cohort.ElectedRankCounter == 0 {
		masks, err := partitioner.Partition(topo, &cohort.AvailableCPUs, int(cohort.CPUsPerProcess), int(cohort.ExpectedSize), mode)
		if err != nil {
			cohort.BroadcastTimeout(idx)
			cohort.ReleaseSlot(idx)
			cohort.Mutex.Unlock()
			logger.Error("partitioning failed: %v", err)
			return cpuset.CPUSet{}, false, errors.Wrap(ErrBarrierTimedOut, err.Error())
		}
		for i, mask := range masks {
			cohort.Affinities[i] = mask
		}
	}

	// Step F — affinity consumption and hand-off. ElectedRankCounter, not
	// the arrival counter StillToArrive, counts the ranks handed out.
	mask := cohort.Affinities[cohort.ElectedRankCounter]
	cohort.ElectedRankCounter++
	lastDeparture := cohort.ElectedRankCounter == cohort.ExpectedSize
	if lastDeparture {
		cohort.Reset()
	} else if next := cohort.PopHead(); next != rendezvous.EndOfList {
		cohort.Slots[next].Ready = 1
		cohort.Slots[next].Cond.Signal()
	}
	cohort.ReleaseSlot(idx)
	cohort.Mutex.Unlock()

	return mask, lastDeparture, nil
}
