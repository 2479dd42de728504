package frame

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framesync/errors"
)

func TestMarshal_DecodesAfterTransit(t *testing.T) {
	raw, err := FromUint16(Encoding16UC1, 2, 2, 1, []uint16{10, 0, 20, 30})
	require.NoError(t, err)
	raw.FrameID = "camera_color_optical_frame"
	raw.Stamp = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	wire, err := Marshal(raw)
	require.NoError(t, err)

	got, err := Unmarshal(wire)
	require.NoError(t, err)
	assert.Equal(t, raw.Reported(), got.Reported())
	assert.Equal(t, raw.FrameID, got.FrameID)
	assert.True(t, raw.Stamp.Equal(got.Stamp))

	d, err := Decode(got)
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 0, 20, 30}, d.U16)
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xc1, 0x00, 0x01})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedFrame))
	assert.True(t, errors.IsInvalid(err))
}
