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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/intel/mpipin/pkg/cpuset"
	"github.com/intel/mpipin/pkg/launcher"
	"github.com/intel/mpipin/pkg/log"
)

var logger = log.Default()

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mpipin: %v\n", err)
		return 1
	}

	if err := launcher.Run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "mpipin: %v\n", err)
		return 1
	}

	// Unreachable on success: a successful launch replaces this process
	// image and never returns here.
	return 0
}

func parseArgs(args []string) (launcher.Options, error) {
	fs := flag.NewFlagSet("mpipin", flag.ContinueOnError)

	var (
		compact     bool
		scatter     bool
		ppn         int
		tpp         int
		excludeCPUs string
	)

	fs.BoolVar(&compact, "compact", false, "select compact placement (default)")
	fs.BoolVar(&scatter, "scatter", false, "select scatter placement")

	for _, name := range []string{"p", "n", "ppn", "processes-per-node", "ranks-per-node"} {
		fs.IntVar(&ppn, name, 0, "cohort size, required, >0")
	}
	for _, name := range []string{"t", "tpp", "threads-per-process", "cores-per-process"} {
		fs.IntVar(&tpp, name, 0, "advisory threads per rank, not consumed by the partitioner")
	}
	for _, name := range []string{"e", "exclude-cpus"} {
		fs.StringVar(&excludeCPUs, name, "", "range list of CPUs to remove from the available set, e.g. 0-3,7")
	}

	if err := fs.Parse(args); err != nil {
		return launcher.Options{}, err
	}

	if tpp > 0 {
		logger.Debug("--threads-per-process=%d recorded, but not consulted by the partitioner", tpp)
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return launcher.Options{}, errArgument("missing program to exec")
	}

	excluded, err := cpuset.Parse(excludeCPUs)
	if err != nil {
		return launcher.Options{}, errArgument(fmt.Sprintf("--exclude-cpus: %v", err))
	}

	mode := launcher.Compact
	if scatter && compact {
		return launcher.Options{}, errArgument("--compact and --scatter are mutually exclusive")
	}
	if scatter {
		mode = launcher.Scatter
	}

	return launcher.Options{
		Mode:        mode,
		PPN:         ppn,
		ExcludeCPUs: excluded,
		Program:     rest[0],
		ProgramArgs: rest[1:],
	}, nil
}

func errArgument(msg string) error {
	return errors.Wrap(launcher.ErrArgument, msg)
}
