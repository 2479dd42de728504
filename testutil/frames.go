package testutil

import (
	"fmt"

	"github.com/c360/framesync/frame"
)

// Camera topics used across tests.
const (
	DepthTopic   = "/camera/depth/image_rect_raw"
	ColorTopic   = "/camera/color/image_raw"
	AlignedTopic = "/camera/aligned_depth_to_color/image_raw"
)

// MustFrame panics when a fixture cannot be built; fixtures are programmer input.
func MustFrame(raw *frame.RawFrame, err error) *frame.RawFrame {
	if err != nil {
		panic(fmt.Sprintf("testutil: build frame: %v", err))
	}
	return raw
}

// Mono16Depth returns the 2x2 mono16 frame [[0, 10], [20, 30]].
func Mono16Depth() *frame.RawFrame {
	return MustFrame(frame.FromUint16("mono16", 2, 2, 1, []uint16{0, 10, 20, 30}))
}

// DepthFrame returns a w x h 16UC1 frame filled with value.
func DepthFrame(w, h int, value uint16) *frame.RawFrame {
	samples := make([]uint16, w*h)
	for i := range samples {
		samples[i] = value
	}
	return MustFrame(frame.FromUint16("16UC1", w, h, 1, samples))
}

// AlignedZeroFrame returns the 640x480 all-zero aligned depth frame.
func AlignedZeroFrame() *frame.RawFrame {
	return DepthFrame(640, 480, 0)
}

// ColorFrame returns a w x h bgr8 frame whose samples cycle through 1..255.
func ColorFrame(w, h int) *frame.RawFrame {
	samples := make([]uint8, w*h*3)
	for i := range samples {
		samples[i] = uint8(i%255) + 1
	}
	return MustFrame(frame.FromUint8("bgr8", w, h, 3, samples))
}

// UnsupportedFrame returns a frame whose encoding no decoder accepts.
func UnsupportedFrame() *frame.RawFrame {
	return &frame.RawFrame{
		Encoding: "yuv422",
		Width:    2,
		Height:   2,
		Step:     4,
		Data:     make([]byte, 8),
	}
}
