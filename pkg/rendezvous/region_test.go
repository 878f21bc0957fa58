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

func withTempShmDir(t *testing.T) {
	t.Helper()
	prev := ShmDir
	ShmDir = t.TempDir()
	t.Cleanup(func() { ShmDir = prev })
}

func TestOpenOrCreateFirstArrival(t *testing.T) {
	withTempShmDir(t)
	available := cpuset.New(0, 1, 2, 3)

	region, created, err := OpenOrCreate(4242, available, 2)
	require.NoError(t, err)
	require.True(t, created)
	defer region.Close()

	require.True(t, region.State.Idle())
	require.True(t, region.State.AvailableCPUs.Equal(available))
	require.EqualValues(t, 2, region.State.CPUsPerProcess)
	require.EqualValues(t, EndOfList, region.State.HeadOfQueueIndex)
}

func TestOpenOrCreateSecondAttachSeesFirstArrivalState(t *testing.T) {
	withTempShmDir(t)
	available := cpuset.New(0, 1, 2, 3)

	first, created, err := OpenOrCreate(4243, available, 2)
	require.NoError(t, err)
	require.True(t, created)
	defer first.Close()

	second, created, err := OpenOrCreate(4243, cpuset.New(0, 1, 2, 3), 2)
	require.NoError(t, err)
	require.False(t, created)
	defer second.Close()

	require.True(t, second.State.AvailableCPUs.Equal(available))
	require.NoError(t, second.CheckConsistency(available))
}

func TestCheckConsistencyMismatch(t *testing.T) {
	withTempShmDir(t)
	available := cpuset.New(0, 1, 2, 3)

	region, _, err := OpenOrCreate(4244, available, 2)
	require.NoError(t, err)
	defer region.Close()

	err = region.CheckConsistency(cpuset.New(0, 1))
	require.ErrorIs(t, err, ErrAffinityMismatch)
}

func TestUnlinkIsIdempotent(t *testing.T) {
	withTempShmDir(t)
	region, _, err := OpenOrCreate(4245, cpuset.New(0, 1), 1)
	require.NoError(t, err)
	defer region.Close()

	require.NoError(t, region.Unlink())
	require.NoError(t, region.Unlink())
}

func TestValidateRejectsCorruptExpectedSize(t *testing.T) {
	withTempShmDir(t)
	region, _, err := OpenOrCreate(4246, cpuset.New(0, 1), 1)
	require.NoError(t, err)

	region.State.ExpectedSize = SlotCapacity + 1
	require.NoError(t, region.Close())

	_, _, err = OpenOrCreate(4246, cpuset.New(0, 1), 1)
	require.ErrorIs(t, err, ErrCorruptState)
}

func TestValidateRejectsCorruptHeadOfQueueIndex(t *testing.T) {
	withTempShmDir(t)
	region, _, err := OpenOrCreate(4247, cpuset.New(0, 1), 1)
	require.NoError(t, err)

	region.State.HeadOfQueueIndex = SlotCapacity
	require.NoError(t, region.Close())

	_, _, err = OpenOrCreate(4247, cpuset.New(0, 1), 1)
	require.ErrorIs(t, err, ErrCorruptState)
}
