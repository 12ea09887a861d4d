// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saferwall/zucchini"
	"github.com/saferwall/zucchini/internal/config"
	"github.com/saferwall/zucchini/internal/fileio"
)

var (
	applyKeep   bool
	applyConfig string
)

var applyCmd = &cobra.Command{
	Use:   "apply <old> <patch> <new>",
	Short: "Apply a patch to an old image, reconstructing the new image",
	Long:  "Reconstructs the new image from an old image and a patch produced by gen",
	Args:  cobra.ExactArgs(3),
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVarP(&applyKeep, "keep", "k", false, "do not delete an existing file at the output path when the apply fails (a failed apply writes no output)")
	applyCmd.Flags().StringVarP(&applyConfig, "config", "c", "", "TOML file overriding the built-in tunables")
}

func runApply(cmd *cobra.Command, args []string) error {
	start := time.Now()
	defer printResourceFooter(start)

	oldFile, err := fileio.OpenReadOnly(args[0])
	if err != nil {
		return fmt.Errorf("zucchini: opening old image: %w", err)
	}
	defer oldFile.Close()

	patchFile, err := fileio.OpenReadOnly(args[1])
	if err != nil {
		return fmt.Errorf("zucchini: opening patch: %w", err)
	}
	defer patchFile.Close()

	tun, err := config.Load(applyConfig)
	if err != nil {
		return fmt.Errorf("zucchini: loading config: %w", err)
	}

	newData, err := zucchini.Apply(patchFile.Bytes(), oldFile.Bytes(), tun)
	if err != nil {
		if !applyKeep {
			fileio.Remove(args[2])
		}
		return err
	}

	if err := fileio.WriteNew(args[2], newData); err != nil {
		return fmt.Errorf("zucchini: writing new image: %w", err)
	}
	if !quiet {
		fmt.Printf("zucchini: wrote %d byte image to %s\n", len(newData), args[2])
	}
	return nil
}
