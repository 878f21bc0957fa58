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
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/mpipin/internal/ipc"
	"github.com/intel/mpipin/pkg/cpuset"
)

// ShmDir is the default mount point backing the region's shared memory
// segment. /dev/shm is a tmpfs on every Linux distribution mpipin targets,
// which gives the same cross-process-visible, kernel-reclaimed-on-reboot
// semantics as a POSIX shm_open object without needing cgo to call
// shm_open(3) directly.
var ShmDir = "/dev/shm"

// segmentSlack is added to sizeof(CohortState) to size the segment, so it
// is at least sizeof(CohortState)+4096 bytes.
const segmentSlack = 4096

// ErrAffinityMismatch is returned by CheckConsistency when a participant's
// own available CPU set disagrees with the set recorded by the cohort's
// first arriver: a sign that siblings were launched with different
// affinity masks.
var ErrAffinityMismatch = errors.New("rendezvous: affinity mismatch across siblings")

// Region is a cohort's shared memory segment, mapped into this process's
// address space.
type Region struct {
	path  string
	file  *os.File
	data  []byte
	State *CohortState
}

// segmentPath names the segment deterministically from the common ancestor
// parent pid, per spec.md's "/mpipin.<parent_pid>.shm" naming.
func segmentPath(parentPID int) string {
	return filepath.Join(ShmDir, fmt.Sprintf("mpipin.%d.shm", parentPID))
}

// OpenOrCreate opens (creating if needed) the rendezvous region for the
// cohort rooted at parentPID. The returned bool reports whether this call
// performed first-arrival initialization. available and ppn are only
// consulted when this call creates the segment; a later attacher's own
// available set is instead checked against the stored one by
// CheckConsistency, and its ppn by the barrier's cohort-size check.
func OpenOrCreate(parentPID int, available cpuset.CPUSet, ppn int) (*Region, bool, error) {
	path := segmentPath(parentPID)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o700)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to open rendezvous segment %s", path)
	}

	if err := ipc.FlockExclusive(int(f.Fd())); err != nil {
		f.Close()
		return nil, false, err
	}
	defer ipc.FlockUnlock(int(f.Fd()))

	size := int64(unsafe.Sizeof(CohortState{})) + segmentSlack

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, errors.Wrapf(err, "failed to stat rendezvous segment %s", path)
	}

	created := info.Size() == 0
	if created {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, false, errors.Wrapf(err, "failed to size rendezvous segment %s", path)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, false, errors.Wrapf(err, "failed to map rendezvous segment %s", path)
	}

	r := &Region{
		path:  path,
		file:  f,
		data:  data,
		State: (*CohortState)(unsafe.Pointer(&data[0])),
	}

	if created {
		r.State.initState(available, ppn)
	} else if err := r.State.validate(); err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, false, err
	}

	return r, created, nil
}

// CheckConsistency compares a participant's own available CPU set against
// the one recorded at region creation. A mismatch means siblings were
// launched with different affinity masks, which the barrier protocol has
// no way to reconcile.
func (r *Region) CheckConsistency(available cpuset.CPUSet) error {
	if !r.State.AvailableCPUs.Equal(available) {
		return ErrAffinityMismatch
	}
	return nil
}

// Close unmaps the region and closes its backing file descriptor. It does
// not remove the segment from /dev/shm; call Unlink for that.
func (r *Region) Close() error {
	err := unix.Munmap(r.data)
	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "failed to close rendezvous segment %s", r.path)
	}
	return nil
}

// Unlink removes the segment's backing file. It is best-effort: a
// concurrent sibling may already have done it, or may still be attaching,
// so ENOENT is not an error.
func (r *Region) Unlink() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to unlink rendezvous segment %s", r.path)
	}
	return nil
}
