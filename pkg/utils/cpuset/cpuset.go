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

// Package cpuset bridges k8s.io/utils/cpuset, used for flexible range-list
// parsing at the CLI boundary, and the fixed-capacity github.com/intel/mpipin/pkg/cpuset.CPUSet
// used everywhere a cpuset needs to live inside the rendezvous region's
// shared memory. Apart from this package, only pkg/cpuset's Parse (which
// the --exclude-cpus flag goes through) imports k8s.io/utils/cpuset.
package cpuset

import (
	"strconv"
	"strings"

	k8scpuset "k8s.io/utils/cpuset"

	"github.com/intel/mpipin/pkg/cpuset"
)

// ToK8s converts our fixed-capacity CPUSet to a k8s.io/utils/cpuset.CPUSet,
// for callers that want its richer string formatting.
func ToK8s(cset cpuset.CPUSet) k8scpuset.CPUSet {
	return k8scpuset.New(cset.Slice()...)
}

// ShortString prints a CPUSet, collapsing evenly-strided runs ("0,2,4,6")
// down to a "beg-end:step" form that CPUSet.String() alone does not produce.
func ShortString(cset cpuset.CPUSet) string {
	k8s := ToK8s(cset)
	str, sep := "", ""

	beg, end, step := -1, -1, -1
	for _, cpu := range strings.Split(k8s.String(), ",") {
		if strings.Contains(cpu, "-") {
			str += sep + cpu
			sep = ","
			continue
		}
		i, err := strconv.ParseInt(cpu, 10, 0)
		if err != nil {
			return k8s.String()
		}
		id := int(i)
		if beg < 0 {
			beg, end = id, id
			continue
		}
		if step < 0 {
			end = id
			step = end - beg
			continue
		}
		if id-end == step {
			end = id
			continue
		}
		str += sep + mkRange(beg, end, step)
		sep = ","
		beg, end = id, id
		step = -1
	}

	if beg >= 0 {
		str += sep + mkRange(beg, end, step)
	}

	return str
}

func mkRange(beg, end, step int) string {
	if beg < 0 {
		return ""
	}
	if beg == end {
		return strconv.FormatInt(int64(beg), 10)
	}

	b, e := strconv.FormatInt(int64(beg), 10), strconv.FormatInt(int64(end), 10)
	if step == 1 {
		return b + "-" + e
	}
	if beg+step == end {
		return b + "," + e
	}

	s := strconv.FormatInt(int64(step), 10)
	return b + "-" + e + ":" + s
}
