package f5ar

// f5ex computes the XOR syndrome over extracted coefficient values
func f5ex(a []int16) uint32 {
	hash := uint32(0)
	for i, v := range a {
		if v&1 != 0 {
			hash ^= uint32(i + 1)
		}
	}
	return hash
}

// Unpack extracts the payload described by a.Meta from the cover
// chain. It is the read-only dual of Pack: every round collects the
// next n = 2^K - 1 non-zero luminance coefficients and yields K
// payload bits from their XOR syndrome. Containers are discarded
// untouched as their streams are exhausted.
//
// If the chain runs out early the partial output is discarded and a
// *ShortExtractError reports how many bytes had been produced.
func (a *Archive) Unpack() ([]byte, error) {
	if a.filled != len(a.containers) {
		return nil, ErrNotComplete
	}

	if a.Meta.MsgSize == 0 {
		return []byte{}, nil
	}
	if len(a.containers) == 0 {
		return nil, &ShortExtractError{}
	}
	if a.Meta.K < 1 || a.Meta.K > maxK {
		return nil, ErrWrongArgs
	}

	msg := make([]byte, a.Meta.MsgSize)

	n := 1<<a.Meta.K - 1
	kMaskMax := uint32(1) << a.Meta.K

	msgMask := byte(1)
	msgI := uint64(0)

	vals := make([]int16, n)

	cur := 0
	if err := a.containers[cur].open(); err != nil {
		return nil, err
	}

	for msgI < a.Meta.MsgSize {
		ai := 0
		for ai < n {
			c := a.containers[cur]
			if v := *c.coeff(); v != 0 {
				vals[ai] = v
				ai++
			}

			if !c.next() {
				c.closeDiscard()
				cur++

				if cur == len(a.containers) {
					return nil, &ShortExtractError{Read: msgI}
				}
				if err := a.containers[cur].open(); err != nil {
					return nil, err
				}
			}
		}

		kword := f5ex(vals)
		for kMask := uint32(1); kMask < kMaskMax && msgI < a.Meta.MsgSize; kMask <<= 1 {
			if kword&kMask != 0 {
				msg[msgI] |= msgMask
			}

			msgMask <<= 1
			if msgMask == 0 {
				msgMask = 1
				msgI++
			}
		}
	}

	a.containers[cur].closeDiscard()
	return msg, nil
}
