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

package topology

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/intel/mpipin/pkg/cpuset"
)

// The typed sysfs accessors every file read in this package goes through.
// The only other filesystem access is directory probing (os.ReadDir for the
// per-CPU nodeN links, os.Stat for cache index directories) in topology.go.
// This mirrors the teacher's readSysfsEntry/writeSysfsEntry helpers
// (pkg/sysfs/utils.go).

func readFile(root, rel string) (string, error) {
	path := filepath.Join(root, rel)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	return strings.TrimSpace(string(data)), nil
}

// readLong reads a single integer value from a sysfs entry.
func readLong(root, rel string) (int64, error) {
	s, err := readFile(root, rel)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: not an integer: %q", rel, s)
	}
	return v, nil
}

// readString reads a single string value from a sysfs entry.
func readString(root, rel string) (string, error) {
	return readFile(root, rel)
}

// readBitmap reads a CPU bitmap from a sysfs entry. Both of sysfs's two
// bitmap notations are accepted: comma-ranged lists ("0-3,7", used by
// online/cpulist files) and comma-grouped hex masks ("00000001,ffffffff",
// used by core_siblings/thread_siblings/shared_cpu_map).
func readBitmap(root, rel string) (cpuset.CPUSet, error) {
	s, err := readFile(root, rel)
	if err != nil {
		return cpuset.CPUSet{}, err
	}
	if s == "" {
		return cpuset.CPUSet{}, nil
	}
	if strings.Contains(s, "-") {
		return cpuset.Parse(s)
	}
	if looksHex(s) {
		return cpuset.ParseHexMask(s)
	}
	return cpuset.Parse(s)
}

// looksHex is a cheap heuristic: sysfs hex masks are fixed-width 8-digit
// groups (possibly containing a-f), range lists are bare decimal ids.
func looksHex(s string) bool {
	for _, group := range strings.Split(s, ",") {
		if len(group) != 8 {
			return false
		}
	}
	return true
}

// readCacheSize parses a cache size file, which reports a plain number of
// bytes or a number followed by a K/M/G suffix (e.g. "32K", "1M"). The
// suffix is parsed and the multiplier only applied when one is present.
func readCacheSize(root, rel string) (uint64, error) {
	s, err := readFile(root, rel)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, errors.Errorf("%s: empty cache size", rel)
	}

	mult := uint64(1)
	numPart := s
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
		numPart = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		numPart = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		numPart = s[:len(s)-1]
	}

	v, err := strconv.ParseUint(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid cache size %q", rel, s)
	}
	return v * mult, nil
}
