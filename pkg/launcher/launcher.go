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

// Package launcher wires topology discovery, the rendezvous region and the
// barrier protocol together: the part of mpipin that runs once per process,
// fetches its own starting affinity, joins its cohort, and replaces itself
// with the target program once it has a mask.
package launcher

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/mpipin/pkg/barrier"
	"github.com/intel/mpipin/pkg/cpuset"
	"github.com/intel/mpipin/pkg/log"
	"github.com/intel/mpipin/pkg/partitioner"
	"github.com/intel/mpipin/pkg/rendezvous"
	"github.com/intel/mpipin/pkg/topology"
	utilscpuset "github.com/intel/mpipin/pkg/utils/cpuset"
)

var logger = log.NewLogger("launcher")

// ErrArgument is returned for an invalid invocation, such as a missing
// program or an out-of-range ppn.
var ErrArgument = errors.New("launcher: invalid argument")

// ErrAffinityQueryFailed is returned when the process's own starting
// affinity mask cannot be read, or the computed mask cannot be applied.
var ErrAffinityQueryFailed = errors.New("launcher: failed to query own affinity")

// ErrExecFailed is returned when replacing the process image fails.
var ErrExecFailed = errors.New("launcher: exec failed")

// Options holds one invocation's parsed command line.
type Options struct {
	Mode        Mode
	PPN         int
	ExcludeCPUs cpuset.CPUSet
	Program     string
	ProgramArgs []string
}

// Mode mirrors partitioner.Mode without importing the algorithm package's
// name into the CLI-facing type, so cmd/mpipin's flag parsing doesn't need
// to import pkg/partitioner directly.
type Mode int

const (
	Compact Mode = iota
	Scatter
)

func (m Mode) partitionerMode() partitioner.Mode {
	if m == Scatter {
		return partitioner.Scatter
	}
	return partitioner.Compact
}

// Run executes one full launch: discover topology, compute this process's
// starting available set, rendezvous with the cohort, pin, and exec. It
// returns an error instead of exiting directly so the caller (cmd/mpipin)
// controls the process's exit code and stderr formatting.
func Run(opts Options) error {
	if opts.Program == "" {
		return ErrArgument
	}
	if opts.PPN <= 0 || opts.PPN > rendezvous.SlotCapacity {
		return errors.Wrapf(ErrArgument, "ppn=%d", opts.PPN)
	}

	topo, err := topology.Collect()
	if err != nil {
		return err
	}

	available, err := ownAffinity()
	if err != nil {
		return err
	}
	available = available.Difference(opts.ExcludeCPUs)

	parentPID := os.Getppid()
	region, created, err := rendezvous.OpenOrCreate(parentPID, available, opts.PPN)
	if err != nil {
		return err
	}
	defer region.Close()

	if !created {
		if err := region.CheckConsistency(available); err != nil {
			return err
		}
	}

	logger.Debug("pid %d joining cohort rooted at parent pid %d", os.Getpid(), parentPID)

	mask, lastDeparture, err := barrier.PinProcess(region, topo, opts.PPN, opts.Mode.partitionerMode())
	if err != nil {
		return err
	}

	// Only the participant that observes the cohort end is in a position
	// to remove the shared memory name: unlinking earlier would race a
	// sibling still inside PinProcess that has not yet released its slot.
	if lastDeparture {
		if err := region.Unlink(); err != nil {
			logger.Warn("failed to unlink rendezvous segment: %v", err)
		}
	}

	if err := applyAffinity(mask); err != nil {
		return err
	}

	logger.Info("pid %d pinned to %s, execing %s", os.Getpid(), utilscpuset.ShortString(mask), opts.Program)

	path, err := exec.LookPath(opts.Program)
	if err != nil {
		return errors.Wrapf(ErrExecFailed, "%s: %v", opts.Program, err)
	}

	argv := append([]string{opts.Program}, opts.ProgramArgs...)
	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		return errors.Wrapf(ErrExecFailed, "%s: %v", opts.Program, err)
	}
	return nil // unreachable: a successful Exec never returns
}

// ownAffinity reads this process's current CPU affinity mask.
func ownAffinity() (cpuset.CPUSet, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return cpuset.CPUSet{}, errors.Wrap(ErrAffinityQueryFailed, err.Error())
	}

	var out cpuset.CPUSet
	for cpu := 0; cpu < cpuset.MaxCPUs; cpu++ {
		if set.IsSet(cpu) {
			out.Set(cpu)
		}
	}
	return out, nil
}

// applyAffinity sets this thread's CPU affinity to mask before exec.
func applyAffinity(mask cpuset.CPUSet) error {
	var set unix.CPUSet
	mask.ForEach(func(cpu int) bool {
		set.Set(cpu)
		return true
	})
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.Wrap(ErrAffinityQueryFailed, err.Error())
	}
	return nil
}
