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
	"strconv"
	"strings"

	"github.com/pkg/errors"
	k8scpuset "k8s.io/utils/cpuset"
)

// Parse parses a range list such as "0-3,7" (the syntax used by sysfs'
// online/cpulist files and by the launcher's --exclude-cpus option) into a
// CPUSet.
//
// Range-list parsing itself is delegated to k8s.io/utils/cpuset, a small
// dependency with no further transitive baggage; its result is then copied
// into our fixed-array representation since k8s.io/utils/cpuset.CPUSet is
// backed by a Go slice and cannot be placed inside the mmap'd CohortState.
func Parse(s string) (CPUSet, error) {
	var out CPUSet

	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}

	parsed, err := k8scpuset.Parse(s)
	if err != nil {
		return out, errors.Wrapf(err, "invalid CPU range list %q", s)
	}
	for _, cpu := range parsed.List() {
		out.Set(cpu)
	}
	return out, nil
}

// ParseHexMask parses a sysfs-style comma-grouped hexadecimal CPU mask,
// e.g. "00000001,ffffffff" (as used by core_siblings, thread_siblings and
// shared_cpu_map files), most-significant group first.
func ParseHexMask(s string) (CPUSet, error) {
	var out CPUSet

	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}

	groups := strings.Split(s, ",")
	// groups[0] is the most significant 32 bits, groups[len-1] the least.
	bitBase := 0
	for i := len(groups) - 1; i >= 0; i-- {
		g := strings.TrimSpace(groups[i])
		if g == "" {
			continue
		}
		v, err := strconv.ParseUint(g, 16, 32)
		if err != nil {
			return out, errors.Wrapf(err, "invalid hex CPU mask group %q in %q", g, s)
		}
		for bit := 0; bit < 32; bit++ {
			if v&(1<<uint(bit)) != 0 {
				out.Set(bitBase + bit)
			}
		}
		bitBase += 32
	}

	return out, nil
}
