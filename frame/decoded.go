package frame

// Decoded is a typed, shaped sample array. Exactly one of U8, U16 or F32 is set,
// matching Type. Samples are stored row-major with channels interleaved.
type Decoded struct {
	Shape []int       `json:"shape"`
	Type  ElementType `json:"element_type"`
	U8    []uint8     `json:"-"`
	U16   []uint16    `json:"-"`
	F32   []float32   `json:"-"`
}

// Height returns the number of rows.
func (d *Decoded) Height() int { return d.Shape[0] }

// Width returns the number of columns.
func (d *Decoded) Width() int { return d.Shape[1] }

// Channels returns the trailing dimension, or 1 for a two-dimensional frame.
func (d *Decoded) Channels() int {
	if len(d.Shape) > 2 {
		return d.Shape[2]
	}
	return 1
}

// Size returns the total number of samples.
func (d *Decoded) Size() int {
	switch d.Type {
	case Uint8:
		return len(d.U8)
	case Uint16:
		return len(d.U16)
	case Float32:
		return len(d.F32)
	default:
		return 0
	}
}

// At returns sample i as a float64.
func (d *Decoded) At(i int) float64 {
	switch d.Type {
	case Uint8:
		return float64(d.U8[i])
	case Uint16:
		return float64(d.U16[i])
	case Float32:
		return float64(d.F32[i])
	default:
		return 0
	}
}

// Clone returns a deep copy.
func (d *Decoded) Clone() *Decoded {
	c := &Decoded{
		Shape: append([]int(nil), d.Shape...),
		Type:  d.Type,
	}
	switch d.Type {
	case Uint8:
		c.U8 = append([]uint8(nil), d.U8...)
	case Uint16:
		c.U16 = append([]uint16(nil), d.U16...)
	case Float32:
		c.F32 = append([]float32(nil), d.F32...)
	}
	return c
}
