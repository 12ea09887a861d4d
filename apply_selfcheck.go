// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

// armSelfCheckTypes lists the ARM32 reference types whose instruction
// encodings a reference write can plausibly disturb (the branch-opcode
// bits sit adjacent to the immediate bits this package's mixer rewrites).
var armSelfCheckTypes = []ReferenceType{
	RefElfArmA24, RefElfArmT8, RefElfArmT11, RefElfArmT21, RefElfArmT24,
}

// selfCheckArm re-decodes the reconstructed new image after reference
// correction and confirms every ARM branch type still extracts the same
// count of references as it did right after raw reconstruction (DESIGN.md
// Open Question 1 decision: fail apply rather than silently ship a
// corrupted branch table). A mismatched count means a T21/T24 mixer write
// spilled into an opcode bit, or a raw-delta correction landed on an
// instruction boundary and changed what disassembles as a branch.
func selfCheckArm(before, after *ReferenceHolder) error {
	for _, t := range armSelfCheckTypes {
		if len(before.Get(t)) != len(after.Get(t)) {
			return ErrSelfCheckFailed
		}
	}
	return nil
}
