package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FromUint8 builds a tightly packed raw frame from 8-bit samples.
func FromUint8(encoding string, width, height, channels int, samples []uint8) (*RawFrame, error) {
	if err := checkCount(width, height, channels, len(samples)); err != nil {
		return nil, err
	}
	return &RawFrame{
		Encoding: encoding,
		Width:    uint32(width),
		Height:   uint32(height),
		Step:     uint32(width * channels),
		Data:     append([]byte(nil), samples...),
	}, nil
}

// FromUint16 builds a tightly packed little-endian raw frame from 16-bit samples.
func FromUint16(encoding string, width, height, channels int, samples []uint16) (*RawFrame, error) {
	if err := checkCount(width, height, channels, len(samples)); err != nil {
		return nil, err
	}
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], s)
	}
	return &RawFrame{
		Encoding: encoding,
		Width:    uint32(width),
		Height:   uint32(height),
		Step:     uint32(width * channels * 2),
		Data:     data,
	}, nil
}

// FromFloat32 builds a tightly packed little-endian raw frame from float samples.
func FromFloat32(encoding string, width, height, channels int, samples []float32) (*RawFrame, error) {
	if err := checkCount(width, height, channels, len(samples)); err != nil {
		return nil, err
	}
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return &RawFrame{
		Encoding: encoding,
		Width:    uint32(width),
		Height:   uint32(height),
		Step:     uint32(width * channels * 4),
		Data:     data,
	}, nil
}

func checkCount(width, height, channels, n int) error {
	if width*height*channels != n {
		return fmt.Errorf("frame: %dx%dx%d needs %d samples, got %d", width, height, channels, width*height*channels, n)
	}
	return nil
}
