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

package cpuset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/mpipin/pkg/cpuset"
)

func TestToK8s(t *testing.T) {
	k8s := ToK8s(cpuset.New(0, 1, 4))
	require.Equal(t, "0-1,4", k8s.String())
}

func TestShortStringContiguousRange(t *testing.T) {
	require.Equal(t, "0-3", ShortString(cpuset.New(0, 1, 2, 3)))
}

func TestShortStringEvenlyStridedRunCollapses(t *testing.T) {
	require.Equal(t, "0-6:2", ShortString(cpuset.New(0, 2, 4, 6)))
}

func TestShortStringSingleCPU(t *testing.T) {
	require.Equal(t, "5", ShortString(cpuset.New(5)))
}

func TestShortStringMixedRangesAndSingletons(t *testing.T) {
	require.Equal(t, "0-3,8-16:2", ShortString(cpuset.New(0, 1, 2, 3, 8, 10, 12, 14, 16)))
}

func TestShortStringEmpty(t *testing.T) {
	require.Equal(t, "", ShortString(cpuset.CPUSet{}))
}
