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
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FlockExclusive takes an exclusive, blocking advisory lock on fd, used to
// serialize the rendezvous region's one-time setup window across racing
// siblings.
func FlockExclusive(fd int) error {
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return errors.Wrap(err, "failed to acquire exclusive file lock")
	}
	return nil
}

// FlockUnlock releases a lock previously taken with FlockExclusive.
func FlockUnlock(fd int) error {
	if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
		return errors.Wrap(err, "failed to release file lock")
	}
	return nil
}
