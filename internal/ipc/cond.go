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

package ipc

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Cond is a process-shared condition variable associated with a Mutex held
// by the caller. It is a bare generation counter: Wait records the current
// generation, releases the caller's Mutex, parks until Signal bumps the
// generation (or the deadline passes), then reacquires the Mutex.
//
// Like sync.Cond, Wait can return even though the condition the caller
// actually cares about isn't true yet (a stale generation snapshot racing
// a Signal, or a spurious futex wake): callers must re-check their own
// predicate in a loop, they must not treat a non-timeout return as proof
// the predicate holds.
type Cond struct {
	seq int32
}

// Init resets the condition variable. Only the creator of the shared
// region should call this.
func (c *Cond) Init() {
	atomic.StoreInt32(&c.seq, 0)
}

// Wait releases mu, waits for a Signal or for deadline to pass, then
// reacquires mu before returning. Returns unix.ETIMEDOUT if the deadline
// passed without a signal.
func (c *Cond) Wait(mu *Mutex, deadline time.Time) error {
	seq := atomic.LoadInt32(&c.seq)

	mu.Unlock()
	err := futexWaitOn(&c.seq, seq, &deadline)
	if err == unix.EAGAIN || err == unix.EINTR {
		// Spurious wake or a lost race against Signal's generation bump;
		// the caller re-checks its own predicate, so this isn't a failure.
		err = nil
	}
	lockErr := mu.Lock()

	if err != nil {
		return err
	}
	return lockErr
}

// Signal wakes one waiter parked on this condition variable, if any.
func (c *Cond) Signal() {
	atomic.AddInt32(&c.seq, 1)
	futexWakeOn(&c.seq, 1)
}

// IsTimeout reports whether err (as returned by Wait) indicates the
// deadline passed rather than a real synchronization failure.
func IsTimeout(err error) bool {
	return err == unix.ETIMEDOUT
}
