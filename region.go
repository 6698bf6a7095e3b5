package hookscan

// ModuleRegion is the address range occupied by one loaded binary image.
// It is supplied by whatever enumerates modules in the host process and is
// treated as read-only for the duration of a scan.
type ModuleRegion struct {
	Base uintptr
	Size uint64
}

// End returns the first address past the region.
func (r ModuleRegion) End() uintptr {
	return r.Base + uintptr(r.Size)
}

// Contains reports whether addr falls within [Base, Base+Size).
func (r ModuleRegion) Contains(addr uintptr) bool {
	return addr >= r.Base && addr < r.End()
}

// regionID is the stable fingerprint used to key scan cache entries. Two
// regions with the same base and size are the same module image until
// something invalidates them.
type regionID struct {
	base uintptr
	size uint64
}

func (r ModuleRegion) id() regionID {
	return regionID{base: r.Base, size: r.Size}
}
