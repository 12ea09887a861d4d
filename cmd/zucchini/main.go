// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command zucchini is a differential compression tool specialized for
// executables, exposing patch generation, application, and inspection as
// cobra subcommands (spec §9, grounded on saferwall-pe's cmd/pedumper.go).
package main

import (
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var quiet bool

// printResourceFooter prints a peak-RSS-ish summary after gen/apply, unless
// -quiet (SPEC_FULL.md "Resource-usage footer", mirroring
// chrome/installer/zucchini/main_utils.cc's ResourceUsageTracker).
func printResourceFooter(start time.Time) {
	if quiet {
		return
	}
	var ru syscall.Rusage
	var maxRSS int64
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err == nil {
		maxRSS = ru.Maxrss
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fmt.Fprintf(os.Stderr, "zucchini: elapsed %s, max RSS %d KiB, heap alloc %d KiB\n",
		time.Since(start).Round(time.Millisecond), maxRSS, ms.HeapAlloc/1024)
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "zucchini",
		Short: "A differential compression tool for executables",
		Long:  "Zucchini generates and applies reference-aware binary patches between executable images",
	}

	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress the resource-usage footer")

	rootCmd.AddCommand(genCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(crc32Cmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
