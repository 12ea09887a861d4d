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

var readDump bool

var readCmd = &cobra.Command{
	Use:   "read <patch> <old>",
	Short: "Print a patch's header fields",
	Long:  "Reads a patch file and reports its header geometry against the old image it was generated from",
	Args:  cobra.ExactArgs(2),
	RunE:  runRead,
}

func init() {
	readCmd.Flags().BoolVarP(&readDump, "dump", "d", false, "also disassemble the old image and dump per-type reference counts")
}

func runRead(cmd *cobra.Command, args []string) error {
	patchFile, err := fileio.OpenReadOnly(args[0])
	if err != nil {
		return fmt.Errorf("zucchini: opening patch: %w", err)
	}
	defer patchFile.Close()

	oldFile, err := fileio.OpenReadOnly(args[1])
	if err != nil {
		return fmt.Errorf("zucchini: opening old image: %w", err)
	}
	defer oldFile.Close()

	h, _, err := zucchini.ReadHeader(patchFile.Bytes(), oldFile.Bytes())
	if err != nil {
		return err
	}

	fmt.Printf("old size:  %d\n", h.OldSize)
	fmt.Printf("old crc32: 0x%08x\n", h.OldCRC)
	fmt.Printf("new size:  %d\n", h.NewSize)
	fmt.Printf("new crc32: 0x%08x\n", h.NewCRC)

	if !readDump {
		return nil
	}

	dis, err := zucchini.DetectAndParse(oldFile.Bytes())
	if err != nil {
		return fmt.Errorf("zucchini: disassembling old image: %w", err)
	}
	fmt.Printf("exe type:  %s\n", dis.ExeType())
	fmt.Printf("image len: %d\n", dis.Image().Len())

	refs, err := dis.References()
	if err != nil {
		return fmt.Errorf("zucchini: extracting references: %w", err)
	}
	for _, traits := range dis.ReferenceTraitsTable() {
		n := len(refs.Get(traits.Type))
		if n == 0 {
			continue
		}
		fmt.Printf("  type %3d  pool %3d  width %d  count %d\n", traits.Type, traits.Pool, traits.Width, n)
	}
	return nil
}
