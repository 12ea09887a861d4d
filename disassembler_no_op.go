// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package zucchini

// noOpDisassembler is used when no recognized executable is present: it
// exposes zero reference types and treats the whole image as opaque bytes
// (spec §4.B "No-op disassembler").
type noOpDisassembler struct {
	image Image
}

func newNoOpDisassembler(data []byte) *noOpDisassembler {
	return &noOpDisassembler{image: NewImage(data)}
}

func (d *noOpDisassembler) ExeType() ExeType { return ExeTypeNoOp }
func (d *noOpDisassembler) Image() Image     { return d.image }

func (d *noOpDisassembler) ReferenceTraitsTable() []ReferenceTraits { return nil }

func (d *noOpDisassembler) References() (*ReferenceHolder, error) {
	return NewReferenceHolder(0), nil
}

func (d *noOpDisassembler) Translator() RegionTranslator {
	return NewIdentityTranslator(Offset(d.image.Len()))
}

func (d *noOpDisassembler) PoolOf(t ReferenceType) Pool { return 0 }

func (d *noOpDisassembler) Receptor(t ReferenceType, image []byte) ReferenceReceptor {
	return noOpReceptor{}
}

type noOpReceptor struct{}

func (noOpReceptor) Receive(ref Reference) error { return nil }
