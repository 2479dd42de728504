package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/framesync/errors"
)

// Decode converts a raw frame into a typed array. It fails with
// errors.ErrUnsupportedEncoding for unknown encodings and errors.ErrMalformedFrame
// when the geometry does not fit the payload. Both are classified invalid.
func Decode(raw *RawFrame) (*Decoded, error) {
	et, ok := ElementTypeOf(raw.Encoding)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnsupportedEncoding, raw.Encoding),
			"Decoder", "Decode", "resolve encoding")
	}

	// Geometry is checked in uint64: with 32-bit fields no product below can
	// overflow, and once the payload covers it every int conversion is in range.
	w, h, s := uint64(raw.Width), uint64(raw.Height), uint64(raw.Step)
	if w == 0 || h == 0 {
		return nil, malformed("empty geometry %dx%d", w, h)
	}

	esz := uint64(et.Size())
	ch := s / (w * esz)
	if ch < 1 {
		return nil, malformed("step %d shorter than one row of %d samples", s, w)
	}

	rb := w * ch * esz
	if need := (h-1)*s + rb; uint64(len(raw.Data)) < need {
		return nil, malformed("payload has %d bytes, geometry needs %d", len(raw.Data), need)
	}

	width, height, step := int(w), int(h), int(s)
	channels, rowBytes := int(ch), int(rb)

	var order binary.ByteOrder = binary.LittleEndian
	if raw.IsBigEndian {
		order = binary.BigEndian
	}

	d := &Decoded{Type: et, Shape: []int{height, width}}
	if channels > 1 {
		d.Shape = append(d.Shape, channels)
	}

	perRow := width * channels
	total := height * perRow
	switch et {
	case Uint8:
		d.U8 = make([]uint8, 0, total)
		for r := 0; r < height; r++ {
			d.U8 = append(d.U8, raw.Data[r*step:r*step+rowBytes]...)
		}
	case Uint16:
		d.U16 = make([]uint16, total)
		for r := 0; r < height; r++ {
			row := raw.Data[r*step:]
			for k := 0; k < perRow; k++ {
				d.U16[r*perRow+k] = order.Uint16(row[k*2:])
			}
		}
	case Float32:
		d.F32 = make([]float32, total)
		for r := 0; r < height; r++ {
			row := raw.Data[r*step:]
			for k := 0; k < perRow; k++ {
				d.F32[r*perRow+k] = math.Float32frombits(order.Uint32(row[k*4:]))
			}
		}
	}

	return d, nil
}

func malformed(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrMalformedFrame, fmt.Sprintf(format, args...)),
		"Decoder", "Decode", "check geometry")
}
