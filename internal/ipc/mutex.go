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

// Package ipc provides the cross-process synchronization primitives that
// back the rendezvous region: a futex-based mutex and per-slot condition
// variables. Both types are plain int32 words with no embedded pointers,
// so they can live inside a struct that is mapped into more than one
// process's address space.
//
// Go has no binding for a pthread mutex/condvar initialized with the
// PTHREAD_PROCESS_SHARED attribute without cgo, so these are built directly
// on the Linux futex(2) syscall instead, following the classic two-phase
// mutex design (uncontended CAS, contended path parks in the kernel).
package ipc

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operation numbers (stable kernel UAPI values). Deliberately
// not using FUTEX_PRIVATE_FLAG: these words are shared across process
// address spaces, so the kernel must treat them as such.
const (
	futexWait = 0
	futexWake = 1
)

const (
	mutexUnlocked   int32 = 0
	mutexLocked     int32 = 1
	mutexContended  int32 = 2
)

// Mutex is a process-shared mutex.
type Mutex struct {
	state int32
}

// Init resets the mutex to the unlocked state. Only the creator of the
// shared region should call this, before any other participant attaches.
func (m *Mutex) Init() {
	atomic.StoreInt32(&m.state, mutexUnlocked)
}

// Lock acquires the mutex, blocking until it is available.
func (m *Mutex) Lock() error {
	if atomic.CompareAndSwapInt32(&m.state, mutexUnlocked, mutexLocked) {
		return nil
	}

	for {
		old := atomic.SwapInt32(&m.state, mutexContended)
		if old == mutexUnlocked {
			return nil
		}
		if err := futexWaitOn(&m.state, mutexContended, nil); err != nil && err != unix.EAGAIN && err != unix.EINTR {
			return err
		}
	}
}

// Unlock releases the mutex, waking one waiter if any are parked.
func (m *Mutex) Unlock() {
	if atomic.AddInt32(&m.state, -1) != mutexUnlocked {
		atomic.StoreInt32(&m.state, mutexUnlocked)
		futexWakeOn(&m.state, 1)
	}
}

// futexWaitOn blocks while *addr == val, until woken, an error occurs, or
// deadline (if non-nil) passes.
func futexWaitOn(addr *int32, val int32, deadline *time.Time) error {
	var ts *unix.Timespec
	if deadline != nil {
		d := time.Until(*deadline)
		if d <= 0 {
			return unix.ETIMEDOUT
		}
		t := unix.NsecToTimespec(d.Nanoseconds())
		ts = &t
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWait),
		uintptr(uint32(val)),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// futexWakeOn wakes up to n waiters parked on *addr.
func futexWakeOn(addr *int32, n int) {
	unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWake),
		uintptr(n),
		0, 0, 0,
	)
}
