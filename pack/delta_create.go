package pack

// DeltaOptions bounds when CreateDelta produces a delta versus declining
// in favor of storing the object whole.
type DeltaOptions struct {
	// MaxRatio is the largest compressed/target size ratio considered
	// worthwhile; above it, CreateDelta declines.
	MaxRatio float64
	// MinObjectSize is the smallest target size CreateDelta will
	// attempt to delta-encode at all.
	MinObjectSize int
	// Window is the rolling-hash block size used to find candidate
	// matches in base.
	Window int
}

// DefaultDeltaOptions matches the thresholds named in the spec.
var DefaultDeltaOptions = DeltaOptions{MaxRatio: 0.75, MinObjectSize: 64, Window: 16}

func (o DeltaOptions) withDefaults() DeltaOptions {
	if o.MaxRatio <= 0 {
		o.MaxRatio = DefaultDeltaOptions.MaxRatio
	}
	if o.MinObjectSize <= 0 {
		o.MinObjectSize = DefaultDeltaOptions.MinObjectSize
	}
	if o.Window <= 0 {
		o.Window = DefaultDeltaOptions.Window
	}
	return o
}

// blockHash is a simple polynomial rolling hash over a fixed-size
// window, used only to find candidate match positions; correctness of
// an eventual match is always re-verified byte-by-byte, so collisions
// only cost a missed opportunity, never incorrectness.
func blockHash(b []byte) uint64 {
	var h uint64
	for _, c := range b {
		h = h*131 + uint64(c)
	}
	return h
}

// CreateDelta attempts to encode target as a delta against base. It
// returns (delta, true) when the result is both structurally valid and
// within opts' compression bounds, or (nil, false) when a whole-object
// store is preferable.
func CreateDelta(base, target []byte, opts DeltaOptions) (*Delta, bool) {
	opts = opts.withDefaults()
	if len(target) < opts.MinObjectSize || len(base) < opts.Window {
		return nil, false
	}

	index := make(map[uint64][]int)
	for i := 0; i+opts.Window <= len(base); i += opts.Window / 2 {
		if i+opts.Window/2 == i { // Window < 2, avoid an infinite loop
			break
		}
		h := blockHash(base[i : i+opts.Window])
		index[h] = append(index[h], i)
	}

	d := &Delta{BaseLen: len(base), TargetLen: len(target)}
	var pending []byte

	flushInsert := func() {
		for len(pending) > 0 {
			n := len(pending)
			if n > maxInsertLen {
				n = maxInsertLen
			}
			d.Instrs = append(d.Instrs, Instr{Kind: InstrInsert, Data: append([]byte(nil), pending[:n]...)})
			pending = pending[n:]
		}
	}

	pos := 0
	for pos < len(target) {
		matched := false
		if pos+opts.Window <= len(target) {
			h := blockHash(target[pos : pos+opts.Window])
			for _, candidate := range index[h] {
				matchLen := extendMatch(base, candidate, target, pos)
				if matchLen < opts.Window {
					continue
				}
				flushInsert()
				for matchLen > 0 {
					n := matchLen
					if n > maxCopySize {
						n = maxCopySize
					}
					d.Instrs = append(d.Instrs, Instr{Kind: InstrCopy, Start: candidate, Len: n})
					candidate += n
					pos += n
					matchLen -= n
				}
				matched = true
				break
			}
		}
		if !matched {
			pending = append(pending, target[pos])
			pos++
		}
	}
	flushInsert()

	if err := d.Validate(); err != nil {
		return nil, false
	}

	encoded, err := EncodeGitDelta(d)
	if err != nil {
		return nil, false
	}
	if float64(len(encoded))/float64(len(target)) >= opts.MaxRatio {
		return nil, false
	}
	return d, true
}

// extendMatch returns how many bytes starting at base[baseOff] and
// target[targetOff] agree.
func extendMatch(base []byte, baseOff int, target []byte, targetOff int) int {
	n := 0
	for baseOff+n < len(base) && targetOff+n < len(target) && base[baseOff+n] == target[targetOff+n] {
		n++
	}
	return n
}
