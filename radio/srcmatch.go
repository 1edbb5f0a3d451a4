// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package radio

// Source address match offload is not implemented by any of the drivers: the entry
// bookkeeping below is accepted so the stack's accounting stays consistent, but no
// hardware filtering occurs and callers must not assume it does.

// EnableSrcMatch enables or disables the source address match feature. No-op.
func (r *Radio) EnableSrcMatch(on bool) {}

// AddSrcMatchShort adds a short address to the source match table. No-op.
func (r *Radio) AddSrcMatchShort(addr uint16) error { return nil }

// AddSrcMatchExt adds an extended address to the source match table. No-op.
func (r *Radio) AddSrcMatchExt(addr [8]byte) error { return nil }

// ClearSrcMatchShort removes a short address from the source match table. No-op.
func (r *Radio) ClearSrcMatchShort(addr uint16) error { return nil }

// ClearSrcMatchExt removes an extended address from the source match table. No-op.
func (r *Radio) ClearSrcMatchExt(addr [8]byte) error { return nil }

// ClearSrcMatchShortEntries clears all short source match entries. No-op.
func (r *Radio) ClearSrcMatchShortEntries() {}

// ClearSrcMatchExtEntries clears all extended source match entries. No-op.
func (r *Radio) ClearSrcMatchExtEntries() {}
