// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saferwall/zucchini"
	"github.com/saferwall/zucchini/internal/fileio"
)

var detectForced string

var detectCmd = &cobra.Command{
	Use:   "detect <file>",
	Short: "Detect an image's executable format",
	Long:  "Runs the autodetection pipeline, or a single forced disassembler with -dd, and reports the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().StringVarP(&detectForced, "dd", "", "", "force a single disassembler by name instead of autodetecting (win32-x86: PE32 or PE32+; elf-x86: any supported ELF machine; dex)")
}

func runDetect(cmd *cobra.Command, args []string) error {
	f, err := fileio.OpenReadOnly(args[0])
	if err != nil {
		return fmt.Errorf("zucchini: opening file: %w", err)
	}
	defer f.Close()

	var dis zucchini.Disassembler
	if detectForced != "" {
		dis, err = zucchini.DetectForced(detectForced, f.Bytes())
	} else {
		dis, err = zucchini.DetectAndParse(f.Bytes())
	}
	if err != nil {
		return err
	}

	fmt.Printf("exe type:  %s\n", dis.ExeType())
	fmt.Printf("image len: %d\n", dis.Image().Len())
	return nil
}
