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

package launcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/mpipin/pkg/partitioner"
	"github.com/intel/mpipin/pkg/rendezvous"
)

func TestModePartitionerMode(t *testing.T) {
	require.Equal(t, partitioner.Compact, Compact.partitionerMode())
	require.Equal(t, partitioner.Scatter, Scatter.partitionerMode())
}

func TestRunRejectsMissingProgram(t *testing.T) {
	err := Run(Options{PPN: 1})
	require.ErrorIs(t, err, ErrArgument)
}

func TestRunRejectsInvalidPPN(t *testing.T) {
	err := Run(Options{Program: "true", PPN: 0})
	require.ErrorIs(t, err, ErrArgument)

	err = Run(Options{Program: "true", PPN: rendezvous.SlotCapacity + 1})
	require.ErrorIs(t, err, ErrArgument)
}

func TestOwnAffinityRoundTripsThroughApplyAffinity(t *testing.T) {
	before, err := ownAffinity()
	require.NoError(t, err)
	require.False(t, before.IsEmpty())

	require.NoError(t, applyAffinity(before))

	after, err := ownAffinity()
	require.NoError(t, err)
	require.True(t, after.Equal(before))
}
