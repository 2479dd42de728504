package stats

import (
	"math"

	"github.com/c360/framesync/frame"
)

// Stream names and constants of the depth camera deployment.
const (
	DepthStream        = "depthStream"
	ColorStream        = "colorStream"
	AlignedDepthStream = "alignedDepthColor"

	// DefaultDepthClip is the upper bound applied to aligned depth samples.
	DefaultDepthClip = 1500
	// DefaultAlignedDepthSize is the sample count of a 640x480 aligned depth frame.
	DefaultAlignedDepthSize = 307200
)

// Policy controls sanitization and the size check for one stream.
type Policy struct {
	// ClipMax clips samples to this upper bound when positive.
	ClipMax float64 `json:"clip_max,omitempty" yaml:"clip_max,omitempty"`
	// ZeroAsBackground remaps exact zeros to ClipMax.
	ZeroAsBackground bool `json:"zero_as_background,omitempty" yaml:"zero_as_background,omitempty"`
	// ExpectedSize is the sample count a consistent frame must have; 0 disables the check.
	ExpectedSize int `json:"expected_size,omitempty" yaml:"expected_size,omitempty"`
}

// Sanitizes reports whether the policy rewrites samples.
func (p Policy) Sanitizes() bool {
	return p.ClipMax > 0
}

// DefaultPolicies returns the policies of the camera deployment: only the
// aligned depth stream is sanitized and size-checked.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		AlignedDepthStream: {
			ClipMax:          DefaultDepthClip,
			ZeroAsBackground: true,
			ExpectedSize:     DefaultAlignedDepthSize,
		},
	}
}

// Sanitize rewrites f in place according to p. Integer frames saturate the bound
// at the element type's maximum.
func Sanitize(f *frame.Decoded, p Policy) {
	if !p.Sanitizes() {
		return
	}

	switch f.Type {
	case frame.Uint8:
		bound := uint8(math.Min(p.ClipMax, math.MaxUint8))
		for i, v := range f.U8 {
			if v >= bound || (v == 0 && p.ZeroAsBackground) {
				f.U8[i] = bound
			}
		}
	case frame.Uint16:
		bound := uint16(math.Min(p.ClipMax, math.MaxUint16))
		for i, v := range f.U16 {
			if v >= bound || (v == 0 && p.ZeroAsBackground) {
				f.U16[i] = bound
			}
		}
	case frame.Float32:
		bound := float32(p.ClipMax)
		for i, v := range f.F32 {
			// NaN fails the comparison and is clipped too.
			if !(v < bound) || (v == 0 && p.ZeroAsBackground) {
				f.F32[i] = bound
			}
		}
	}
}
