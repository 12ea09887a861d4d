// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

import "errors"

// Errors shared across disassemblers and the patch pipeline (spec §7).
var (
	// ErrOutsideImage is returned by a receptor asked to write a
	// reference whose location plus width would exceed the image.
	ErrOutsideImage = errors.New("zucchini: reference location outside image bounds")

	// ErrExeTypeMismatch is returned when the old and new sub-images of a
	// matched element pair parse to different ExeTypes (spec §4.G phase
	// 3 step 1: "verify identical exe_type").
	ErrExeTypeMismatch = errors.New("zucchini: old and new element types do not match")
)
