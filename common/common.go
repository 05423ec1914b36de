package common

const (
	SECTORSIZE uint64 = 512 // device block size
	PAGESIZE   uint64 = 4096

	MINEXTENTSIZE uint64 = PAGESIZE    // smallest extent allocation
	MAXEXTENTSIZE uint64 = 1024 * 1024 // largest extent created by one write

	JOURNALSIZE uint64 = 1024 * 1024 // bytes reserved for the log segment at offset 0
)

// Range is the half-open interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

func MkRange(start uint64, end uint64) Range {
	return Range{Start: start, End: end}
}

func (r Range) Span() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

func (r Range) Empty() bool {
	return r.Span() == 0
}

func (r Range) Contains(off uint64) bool {
	return off >= r.Start && off < r.End
}

// Intersect returns the overlap of r and o; the result is empty (Start ==
// End) when they are disjoint.
func (r Range) Intersect(o Range) Range {
	start := r.Start
	if o.Start > start {
		start = o.Start
	}
	end := r.End
	if o.End < end {
		end = o.End
	}
	if end < start {
		end = start
	}
	return Range{Start: start, End: end}
}

func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}
