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
	"github.com/saferwall/zucchini/internal/zlog"
)

var (
	genRaw      bool
	genImpose   string
	genConfig   string
	genLogLevel string
)

var genCmd = &cobra.Command{
	Use:   "gen <old> <new> <patch>",
	Short: "Generate a patch from an old image to a new image",
	Long:  "Generates a reference-aware binary patch that transforms old into new",
	Args:  cobra.ExactArgs(3),
	RunE:  runGen,
}

func init() {
	genCmd.Flags().BoolVarP(&genRaw, "raw", "", false, "store the new image verbatim, skipping reference-aware diffing")
	genCmd.Flags().StringVarP(&genImpose, "impose", "", "", "impose element matches instead of running ensemble detection (off+len=off+len,...)")
	genCmd.Flags().StringVarP(&genConfig, "config", "c", "", "TOML file overriding the built-in tunables")
	genCmd.Flags().StringVarP(&genLogLevel, "log-level", "", "info", "log level: debug, info, warn, error")
}

func runGen(cmd *cobra.Command, args []string) error {
	start := time.Now()
	defer printResourceFooter(start)

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

	tun, err := config.Load(genConfig)
	if err != nil {
		return fmt.Errorf("zucchini: loading config: %w", err)
	}

	level := genLogLevel
	if !cmd.Flags().Changed("log-level") {
		level = tun.LogLevel
	}
	log := zlog.New(level)

	patch, err := zucchini.Generate(oldFile.Bytes(), newFile.Bytes(), zucchini.GenerateOptions{
		Raw:      genRaw,
		Impose:   genImpose,
		Tunables: tun,
		Log:      log,
	})
	if err != nil {
		return err
	}

	if err := fileio.WriteNew(args[2], patch); err != nil {
		return fmt.Errorf("zucchini: writing patch: %w", err)
	}
	if !quiet {
		fmt.Printf("zucchini: wrote %d byte patch to %s\n", len(patch), args[2])
	}
	return nil
}
