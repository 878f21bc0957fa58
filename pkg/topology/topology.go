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

// Package topology discovers a node's CPU/cache/NUMA topology by reading
// the sysfs pseudo-filesystem, producing an in-memory graph for the
// partitioner to walk. It never writes anything; the filesystem is a
// read-only oracle.
package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/intel/mpipin/pkg/cpuset"
)

// SysfsRoot is the default mount point of sysfs.
const SysfsRoot = "/sys"

const (
	cpuPathFmt       = "devices/system/cpu/cpu%d"
	onlinePath       = "devices/system/cpu/online"
	coreIDPath       = "topology/core_id"
	packageIDPath    = "topology/physical_package_id"
	coreSiblingsPath = "topology/core_siblings"
	threadSibsPath   = "topology/thread_siblings"
	nodeLinkGlob     = "node[0-9]*"

	cacheIndexFmt   = "cache/index%d"
	maxCacheIndices = 10

	cacheLevelPath    = "level"
	cacheTypePath     = "type"
	cacheSizePath     = "size"
	cacheLineSzPath   = "coherency_line_size"
	cacheNumSetsPath  = "number_of_sets"
	cacheWaysPath     = "ways_of_associativity"
	cacheLinePartPath = "physical_line_partition"
	cacheSharedPath   = "shared_cpu_map"
)

// CacheKind identifies what a cache holds.
type CacheKind string

// Cache kinds, as reported by sysfs's cache/indexN/type file.
const (
	DataCache        CacheKind = "Data"
	InstructionCache CacheKind = "Instruction"
	UnifiedCache     CacheKind = "Unified"
)

// Cache describes one level of a CPU's cache hierarchy.
type Cache struct {
	Level           int
	Kind            CacheKind
	SizeBytes       uint64
	LineSizeBytes   int
	NumSets         int
	Ways            int
	LinePartition   int
	SharedCPUs      cpuset.CPUSet
}

// CPU describes one online logical CPU.
type CPU struct {
	ID             int
	NUMANodeID     int
	CoreID         int
	PackageID      int
	CoreSiblings   cpuset.CPUSet
	ThreadSiblings cpuset.CPUSet
	// Caches is ordered innermost (L1) to outermost, in sysfs discovery
	// order (index0 first).
	Caches []Cache
}

// Node describes one NUMA node.
type Node struct {
	ID   int
	CPUs cpuset.CPUSet
}

// Topology is the per-process, read-only hardware topology graph.
type Topology struct {
	CPUs  map[int]*CPU
	Nodes map[int]*Node
}

// CPUIDs returns the online CPU ids in ascending order.
func (t *Topology) CPUIDs() []int {
	ids := make([]int, 0, len(t.CPUs))
	for id := range t.CPUs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CPU looks up a CPU record by id, or nil if it doesn't belong to this
// topology.
func (t *Topology) CPU(id int) *CPU {
	return t.CPUs[id]
}

// Node looks up a NUMA node record by id, or nil.
func (t *Topology) Node(id int) *Node {
	return t.Nodes[id]
}

var (
	// ErrTopologyUnavailable is returned when the node's CPU/NUMA
	// enumeration cannot be established at all.
	ErrTopologyUnavailable = errors.New("topology: unavailable")
	// ErrSysfsParse is returned when a required sysfs file exists but
	// cannot be parsed.
	ErrSysfsParse = errors.New("topology: sysfs parse error")
	// ErrTopologyInconsistent is returned when a CPU id that should have
	// a topology record does not have one.
	ErrTopologyInconsistent = errors.New("topology: inconsistent")
)

// Collect discovers the running node's topology from /sys.
func Collect() (*Topology, error) {
	return CollectAt(SysfsRoot)
}

// CollectAt discovers topology rooted at the given sysfs mount point,
// mirroring the teacher's DiscoverSystemAt(path, ...) test seam.
func CollectAt(root string) (*Topology, error) {
	online, err := readBitmap(root, onlinePath)
	if err != nil {
		return nil, errors.Wrap(ErrTopologyUnavailable, err.Error())
	}
	if online.IsEmpty() {
		return nil, errors.Wrap(ErrTopologyUnavailable, "no online CPUs reported")
	}

	topo := &Topology{
		CPUs:  make(map[int]*CPU),
		Nodes: make(map[int]*Node),
	}

	for _, id := range online.Slice() {
		cpu, err := collectCPU(root, id)
		if err != nil {
			return nil, err
		}
		topo.CPUs[id] = cpu

		node, ok := topo.Nodes[cpu.NUMANodeID]
		if !ok {
			node = &Node{ID: cpu.NUMANodeID}
			topo.Nodes[cpu.NUMANodeID] = node
		}
		node.CPUs.Set(id)
	}

	return topo, nil
}

func collectCPU(root string, id int) (*CPU, error) {
	base := fmt.Sprintf(cpuPathFmt, id)

	coreID, err := readLong(root, filepath.Join(base, coreIDPath))
	if err != nil {
		return nil, errors.Wrapf(ErrSysfsParse, "cpu%d: %v", id, err)
	}
	pkgID, err := readLong(root, filepath.Join(base, packageIDPath))
	if err != nil {
		return nil, errors.Wrapf(ErrSysfsParse, "cpu%d: %v", id, err)
	}
	coreSibs, err := readBitmap(root, filepath.Join(base, coreSiblingsPath))
	if err != nil {
		return nil, errors.Wrapf(ErrSysfsParse, "cpu%d: %v", id, err)
	}
	threadSibs, err := readBitmap(root, filepath.Join(base, threadSibsPath))
	if err != nil {
		return nil, errors.Wrapf(ErrSysfsParse, "cpu%d: %v", id, err)
	}
	nodeID, err := probeNUMANode(root, id)
	if err != nil {
		return nil, err
	}

	caches, err := collectCaches(root, base, id)
	if err != nil {
		return nil, err
	}

	return &CPU{
		ID:             id,
		NUMANodeID:     nodeID,
		CoreID:         int(coreID),
		PackageID:      int(pkgID),
		CoreSiblings:   coreSibs,
		ThreadSiblings: threadSibs,
		Caches:         caches,
	}, nil
}

// probeNUMANode determines a CPU's NUMA home by checking which of its
// per-CPU "nodeN" symlink directories exists, per spec.md §4.1.
func probeNUMANode(root string, cpuID int) (int, error) {
	base := filepath.Join(root, fmt.Sprintf(cpuPathFmt, cpuID))
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0, errors.Wrapf(ErrTopologyUnavailable, "cpu%d: %v", cpuID, err)
	}
	for _, e := range entries {
		if ok, err := filepath.Match(nodeLinkGlob, e.Name()); err != nil || !ok {
			continue
		}
		var nodeID int
		if _, scanErr := fmt.Sscanf(e.Name(), "node%d", &nodeID); scanErr == nil {
			return nodeID, nil
		}
	}
	return 0, errors.Wrapf(ErrTopologyInconsistent, "cpu%d: no NUMA node directory found", cpuID)
}

func collectCaches(root, base string, cpuID int) ([]Cache, error) {
	var caches []Cache

	for idx := 0; idx < maxCacheIndices; idx++ {
		cdir := filepath.Join(base, fmt.Sprintf(cacheIndexFmt, idx))
		if _, err := os.Stat(filepath.Join(root, cdir)); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d: %v", cpuID, err)
		}

		level, err := readLong(root, filepath.Join(cdir, cacheLevelPath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}
		kindStr, err := readString(root, filepath.Join(cdir, cacheTypePath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}
		sizeBytes, err := readCacheSize(root, filepath.Join(cdir, cacheSizePath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}
		lineSz, err := readLong(root, filepath.Join(cdir, cacheLineSzPath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}
		numSets, err := readLong(root, filepath.Join(cdir, cacheNumSetsPath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}
		ways, err := readLong(root, filepath.Join(cdir, cacheWaysPath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}
		linePart, err := readLong(root, filepath.Join(cdir, cacheLinePartPath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}
		shared, err := readBitmap(root, filepath.Join(cdir, cacheSharedPath))
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}

		kind, err := parseCacheKind(kindStr)
		if err != nil {
			return nil, errors.Wrapf(ErrSysfsParse, "cpu%d cache%d: %v", cpuID, idx, err)
		}

		caches = append(caches, Cache{
			Level:         int(level),
			Kind:          kind,
			SizeBytes:     sizeBytes,
			LineSizeBytes: int(lineSz),
			NumSets:       int(numSets),
			Ways:          int(ways),
			LinePartition: int(linePart),
			SharedCPUs:    shared,
		})
	}

	return caches, nil
}

func parseCacheKind(s string) (CacheKind, error) {
	switch CacheKind(s) {
	case DataCache, InstructionCache, UnifiedCache:
		return CacheKind(s), nil
	default:
		return "", errors.Errorf("unknown cache type %q", s)
	}
}
