package f5ar

// maxK bounds the embedding rate; n = 2^k - 1 coefficients carry k
// payload bits per round.
const maxK = 24

// f5em computes the XOR syndrome of the collected coefficient
// references: indices (1-based) of odd coefficients are XORed
// together.
func f5em(a []*int16) uint32 {
	hash := uint32(0)
	for i, p := range a {
		if *p&1 != 0 {
			hash ^= uint32(i + 1)
		}
	}
	return hash
}

// calcK picks the embedding rate for a payload of size bytes: the
// largest k whose non-zero coefficient supply, discounted for
// expected shrinkage losses, still covers the bits to embed. Clamped
// to 1 so n = 2^k - 1 never degenerates.
func calcK(capacity Capacity, size uint64) uint8 {
	k := uint64(1)

	for k < maxK {
		supply := capacity.Full + capacity.Shrinkable/k*2

		knRate := float64(k) / float64(uint64(1)<<k-1)
		embedRate := float64(size*8) / float64(supply)

		if embedRate >= knRate {
			if k == 1 {
				return 1
			}
			return uint8(k - 1)
		}
		k++
	}

	return maxK
}

// catchUp finalizes every container strictly before local in order,
// so that their bytes and fingerprints are committed once the cursor
// can no longer reach back into them.
func (a *Archive) catchUp(cur *int, local int) error {
	for *cur != local {
		if err := a.containers[*cur].closeKeep(); err != nil {
			return err
		}
		*cur++
		a.used++
	}
	return nil
}

// Pack embeds data across the cover set. Each round consumes the next
// n = 2^K - 1 non-zero luminance coefficients (crossing container
// boundaries as needed) and realizes K payload bits with at most one
// ±1 modification toward zero; a coefficient collapsing to zero
// invalidates its slot and the round refills before retrying.
//
// On ErrCapacity the archive is in an indeterminate, partially
// rewritten state: containers opened so far stay active and the
// caller must Close the archive.
func (a *Archive) Pack(data []byte) error {
	if a.filled != len(a.containers) {
		return ErrNotComplete
	}

	a.used = 0
	if len(data) == 0 {
		return nil
	}
	if len(a.containers) == 0 {
		return ErrCapacity
	}

	if a.Capacity.Full+a.Capacity.Shrinkable == 0 {
		if err := a.Analyze(); err != nil {
			return err
		}
	}

	a.Meta.MsgSize = uint64(len(data))
	if a.Meta.K == 0 {
		a.Meta.K = calcK(a.Capacity, uint64(len(data)))
	}
	if a.Meta.K > maxK {
		return ErrWrongArgs
	}
	n := 1<<a.Meta.K - 1

	refs := make([]*int16, n)

	cur := 0
	if err := a.containers[cur].open(); err != nil {
		return err
	}

	msgShift := uint(0)
	msgI := 0

	for msgI < len(data) {
		// Assemble the next k-bit word, LSB of each byte first; the
		// final word is zero-padded past the payload end
		kword := uint32(0)
		for kShift := 0; kShift < int(a.Meta.K) && msgI < len(data); kShift++ {
			if data[msgI]&(1<<msgShift) != 0 {
				kword |= 1 << uint(kShift)
			}

			msgShift++
			if msgShift == 8 {
				msgShift = 0
				msgI++
			}
		}

		local := cur
		ai := 0

		for {
			// Refill: collect references to the next non-zero
			// coefficients, skipping zeros, crossing containers
			for ai < n {
				c := a.containers[local]
				if *c.coeff() != 0 {
					refs[ai] = c.coeff()
					ai++
				}

				if !c.next() {
					if local+1 == len(a.containers) {
						return ErrCapacity
					}
					local++
					if err := a.containers[local].open(); err != nil {
						return err
					}
				}
			}

			s := f5em(refs) ^ kword
			if s == 0 {
				break
			}

			// One modification toward zero realizes the syndrome
			v := *refs[s-1]
			if v > 0 {
				v--
			} else {
				v++
			}
			*refs[s-1] = v

			if v != 0 {
				break
			}

			// Shrinkage: the slot is now invisible to extraction;
			// drop it and refill one more reference
			copy(refs[s-1:], refs[s:])
			ai = n - 1
		}

		if err := a.catchUp(&cur, local); err != nil {
			return err
		}
	}

	a.used++
	return a.containers[cur].closeKeep()
}
