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

// Package partitioner implements the greedy, cache- and NUMA-aware CPU
// allocator that turns one cohort's available CPU set into a disjoint mask
// per rank. It is run by exactly one elected participant per cohort, so it
// does not need to be safe to call concurrently with itself; it does need
// to be deterministic, since every other participant trusts its output
// without re-running it.
package partitioner

import (
	"github.com/pkg/errors"

	"github.com/intel/mpipin/pkg/cpuset"
	"github.com/intel/mpipin/pkg/topology"
)

// Mode selects how a rank's first CPU is chosen.
type Mode int

const (
	// Compact always seeds each rank at the lowest-numbered CPU still
	// available, packing ranks together.
	Compact Mode = iota
	// Scatter seeds rank k at the floor(|available|/nRanks)*k-th
	// remaining CPU in ascending order, spreading ranks across the node.
	// Extension within a rank still prefers cache/NUMA locality; only
	// the seed pick differs from Compact.
	Scatter
)

// ErrTopologyInconsistent is returned when a CPU id present in the
// available set has no corresponding topology record, or when the available
// set runs out before every rank is filled.
var ErrTopologyInconsistent = errors.New("partitioner: cpu has no topology record")

// ErrArgument is returned for a non-positive cpusPerProcess or nRanks.
var ErrArgument = errors.New("partitioner: invalid argument")

// Partition computes nRanks disjoint CPU masks of cpusPerProcess CPUs each
// out of *available, consuming the CPUs it assigns: on return, *available
// holds whatever CPUs were not handed to any rank.
func Partition(topo *topology.Topology, available *cpuset.CPUSet, cpusPerProcess, nRanks int, mode Mode) ([]cpuset.CPUSet, error) {
	if cpusPerProcess <= 0 || nRanks <= 0 {
		return nil, errors.Wrapf(ErrArgument, "cpusPerProcess=%d nRanks=%d", cpusPerProcess, nRanks)
	}

	initialCount := available.Count()
	masks := make([]cpuset.CPUSet, nRanks)

	for rank := 0; rank < nRanks; rank++ {
		seed, err := seedCPU(available, initialCount, nRanks, rank, mode)
		if err != nil {
			return nil, err
		}
		var mask cpuset.CPUSet
		mask.Set(seed)
		available.Clear(seed)
		prevCPU := seed

		for extended := 1; extended < cpusPerProcess; extended++ {
			next, err := nextCPU(topo, available, prevCPU)
			if err != nil {
				return nil, err
			}
			mask.Set(next)
			available.Clear(next)
			prevCPU = next
		}

		masks[rank] = mask
	}

	return masks, nil
}

// seedCPU picks the first CPU of a rank's mask. Compact always takes the
// lowest remaining bit; Scatter instead walks to the floor(initialCount/
// nRanks)*rank-th remaining bit in ascending order, so successive ranks
// start in different neighborhoods of the node rather than packed
// together.
func seedCPU(available *cpuset.CPUSet, initialCount, nRanks, rank int, mode Mode) (int, error) {
	if mode == Compact || rank == 0 {
		cpu := available.Lowest()
		if cpu < 0 {
			return 0, errors.Wrap(ErrTopologyInconsistent, "no CPUs remain in available set")
		}
		return cpu, nil
	}

	skip := (initialCount / nRanks) * rank
	cpu := available.Lowest()
	for i := 0; i < skip; i++ {
		next := available.NextSet(cpu + 1)
		if next < 0 {
			break
		}
		cpu = next
	}
	if cpu < 0 {
		return 0, errors.Wrap(ErrTopologyInconsistent, "no CPUs remain in available set")
	}
	return cpu, nil
}

// nextCPU picks the next CPU to extend a rank's mask with, given the CPU
// just added (prevCPU): cache-locality pass first, then NUMA-locality,
// then a bare lowest-remaining fallback.
func nextCPU(topo *topology.Topology, available *cpuset.CPUSet, prevCPU int) (int, error) {
	prev := topo.CPU(prevCPU)
	if prev == nil {
		return 0, errors.Wrapf(ErrTopologyInconsistent, "cpu %d", prevCPU)
	}

	for _, cache := range prev.Caches {
		shared := cache.SharedCPUs.Intersect(*available)
		if cpu := shared.Lowest(); cpu >= 0 {
			return cpu, nil
		}
	}

	cpu, err := firstInNode(topo, available, prev.NUMANodeID)
	if err != nil {
		return 0, err
	}
	if cpu >= 0 {
		return cpu, nil
	}

	if cpu := available.Lowest(); cpu >= 0 {
		return cpu, nil
	}
	return 0, errors.Wrap(ErrTopologyInconsistent, "no CPUs remain in available set")
}

// firstInNode scans available in ascending order for the first CPU whose
// topology record reports the given NUMA node, returning -1 if none does.
func firstInNode(topo *topology.Topology, available *cpuset.CPUSet, nodeID int) (int, error) {
	found := -1
	var scanErr error
	available.ForEach(func(cpu int) bool {
		cpuRecord := topo.CPU(cpu)
		if cpuRecord == nil {
			scanErr = errors.Wrapf(ErrTopologyInconsistent, "cpu %d", cpu)
			return false
		}
		if cpuRecord.NUMANodeID == nodeID {
			found = cpu
			return false
		}
		return true
	})
	return found, scanErr
}
