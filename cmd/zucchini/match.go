// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saferwall/zucchini"
	"github.com/saferwall/zucchini/internal/config"
	"github.com/saferwall/zucchini/internal/fileio"
)

var (
	matchImpose string
	matchConfig string
)

var matchCmd = &cobra.Command{
	Use:   "match <old> <new>",
	Short: "Print the element matches and separators between two images",
	Long:  "Runs ensemble detection (or an imposed match spec) and reports the resulting element geometry without generating a patch",
	Args:  cobra.ExactArgs(2),
	RunE:  runMatch,
}

func init() {
	matchCmd.Flags().StringVarP(&matchImpose, "impose", "", "", "impose element matches instead of running ensemble detection (off+len=off+len,...)")
	matchCmd.Flags().StringVarP(&matchConfig, "config", "c", "", "TOML file overriding the built-in tunables")
}

func runMatch(cmd *cobra.Command, args []string) error {
	oldFile, err := fileio.OpenReadOnly(args[0])
	if err != nil {
		return fmt.Errorf("zucchini: opening old image: %w", err)
	}
	defer oldFile.Close()

	newFile, err := fileio.OpenReadOnly(args[1])
	if err != nil {
		return fmt.Errorf("zucchini: opening new image: %w", err)
	}
	defer newFile.Close()

	var matches []zucchini.Match
	var numIdentical int

	if matchImpose != "" {
		matches, numIdentical, err = zucchini.ParseImposedMatches(matchImpose, oldFile.Bytes(), newFile.Bytes(), func(msg string) {
			fmt.Println(msg)
		})
		if err != nil {
			return err
		}
	} else {
		tun, err := config.Load(matchConfig)
		if err != nil {
			return fmt.Errorf("zucchini: loading config: %w", err)
		}
		em, err := zucchini.BuildEnsemble(oldFile.Bytes(), newFile.Bytes(), tun.MaxElementCount, tun.MaxHistogramSizeRatio, tun.MaxHistogramSizeDiff)
		if err != nil {
			return err
		}
		matches = em.Matches()
		numIdentical = em.GetNumIdentical()
	}

	fmt.Printf("identical: %d\n", numIdentical)
	for _, m := range matches {
		fmt.Printf("old+%d,%d (%s) <-> new+%d,%d (%s)\n",
			m.Old.Offset, m.Old.Length, m.Old.ExeType,
			m.New.Offset, m.New.Length, m.New.ExeType)
	}
	return nil
}
