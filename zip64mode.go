package zipkit

// Zip64Mode selects how the writer decides whether to emit Zip64
// structures for an entry and for the central directory/EOCD, per §5.
type Zip64Mode int

const (
	// Zip64AsNeeded emits Zip64 structures only where a field would
	// otherwise overflow. This is the default.
	Zip64AsNeeded Zip64Mode = iota
	// Zip64Never rejects any overflow with ErrZip64Required; no Zip64
	// structures are ever emitted.
	Zip64Never
	// Zip64Always emits a Zip64 extra in every entry's local header and
	// Zip64 CD/EOCD structures regardless of actual sizes. The CFH's
	// 32-bit size slots carry real values whenever they fit; sentinels
	// appear there only for sizes that overflow.
	Zip64Always
	// Zip64AlwaysWithCompatibility is handled exactly like Zip64Always:
	// the CFH's 32-bit size slots carry real values when they fit, so
	// readers that ignore Zip64 still see correct sizes.
	Zip64AlwaysWithCompatibility
)

// decideEntryZip64 reports whether entry e needs a Zip64 extra under
// mode, given whether the sink is seekable and whether e's
// uncompressed size is known up front. It also reports whether AsNeeded
// silently degraded to Never for this entry (unknown size, non-seekable,
// DEFLATED — the data descriptor will carry the real sizes instead),
// per §5's documented surprising-but-preserved behavior.
func decideEntryZip64(mode Zip64Mode, seekable bool, sizeKnown bool, method uint16, overflow bool) (needsZip64, degradedToNever bool, err error) {
	switch mode {
	case Zip64Never:
		if overflow {
			return false, false, newErr(ErrZip64Required, "", "entry exceeds non-zip64 limits under Zip64Never")
		}
		return false, false, nil
	case Zip64Always, Zip64AlwaysWithCompatibility:
		return true, false, nil
	default: // Zip64AsNeeded
		if !seekable && !sizeKnown && method != Store {
			return false, true, nil
		}
		return overflow, false, nil
	}
}
