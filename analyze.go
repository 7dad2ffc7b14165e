package f5ar

import "github.com/LabunskyA/f5ar/jpeg"

// Analyze opens every container read-only and counts the usable
// luminance coefficients into a.Capacity: |c| == 1 is shrinkable,
// |c| > 1 is full, zeros are ignored. DC and AC terms count alike.
func (a *Archive) Analyze() error {
	if a.filled != len(a.containers) {
		return ErrNotComplete
	}

	a.Capacity = Capacity{}

	for _, c := range a.containers {
		if err := c.open(); err != nil {
			return err
		}

		comp := c.img.Component(0)
		for y := 0; y < comp.HeightInBlocks; y++ {
			row := comp.Row(y)
			for x := range row {
				for i := 0; i < jpeg.BlockSize; i++ {
					v := row[x][i]
					if v < 0 {
						v = -v
					}

					switch {
					case v == 1:
						a.Capacity.Shrinkable++
					case v > 1:
						a.Capacity.Full++
					}
				}
			}
		}

		c.closeDiscard()
	}

	return nil
}
