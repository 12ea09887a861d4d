// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saferwall/zucchini/internal/crc"
	"github.com/saferwall/zucchini/internal/fileio"
)

var crc32Cmd = &cobra.Command{
	Use:   "crc32 <file>",
	Short: "Print a file's IEEE CRC-32",
	Long:  "Computes the same CRC-32 checksum zucchini embeds in patch headers",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrc32,
}

func runCrc32(cmd *cobra.Command, args []string) error {
	f, err := fileio.OpenReadOnly(args[0])
	if err != nil {
		return fmt.Errorf("zucchini: opening file: %w", err)
	}
	defer f.Close()

	fmt.Printf("0x%08x\n", crc.Checksum32(f.Bytes()))
	return nil
}
