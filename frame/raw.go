package frame

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/framesync/errors"
)

// RawFrame is one encoded image as delivered by a transport. It is consumed once
// by Decode and not retained.
type RawFrame struct {
	Encoding    string    `msgpack:"encoding" json:"encoding"`
	Width       uint32    `msgpack:"width" json:"width"`
	Height      uint32    `msgpack:"height" json:"height"`
	Step        uint32    `msgpack:"step" json:"step"` // row stride in bytes
	IsBigEndian bool      `msgpack:"is_bigendian,omitempty" json:"is_bigendian,omitempty"`
	Data        []byte    `msgpack:"data" json:"-"`
	Stamp       time.Time `msgpack:"stamp,omitempty" json:"stamp,omitempty"`
	FrameID     string    `msgpack:"frame_id,omitempty" json:"frame_id,omitempty"`
}

// ReportedSize is the geometry a producer declared for a frame.
type ReportedSize struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Step   uint32 `json:"step"`
}

// Reported returns the declared width, height and stride.
func (r *RawFrame) Reported() ReportedSize {
	return ReportedSize{Width: r.Width, Height: r.Height, Step: r.Step}
}

// Marshal encodes a raw frame for the wire.
func Marshal(r *RawFrame) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Frame", "Marshal", "encode msgpack")
	}
	return data, nil
}

// Unmarshal decodes a raw frame received from the wire.
func Unmarshal(data []byte) (*RawFrame, error) {
	var r RawFrame
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err),
			"Frame", "Unmarshal", "decode msgpack")
	}
	return &r, nil
}
