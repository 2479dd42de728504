package frame

// Image encodings recognized by the decoder. Names follow the sensor_msgs/Image
// convention used by depth cameras.
const (
	EncodingMono8  = "mono8"
	Encoding8UC1   = "8UC1"
	EncodingBGR8   = "bgr8"
	EncodingRGB8   = "rgb8"
	EncodingBGRA8  = "bgra8"
	EncodingRGBA8  = "rgba8"
	EncodingMono16 = "mono16"
	Encoding16UC1  = "16UC1"
	Encoding16SC1  = "16SC1"
	Encoding32FC1  = "32FC1"
)

// ElementType is the numeric type of one decoded sample.
type ElementType int

const (
	// Uint8 samples, one byte each
	Uint8 ElementType = iota
	// Uint16 samples, two bytes each
	Uint16
	// Float32 samples, four bytes each
	Float32
)

// String returns the string representation of ElementType
func (e ElementType) String() string {
	switch e {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// Size returns the size in bytes of one sample.
func (e ElementType) Size() int {
	switch e {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Float32:
		return 4
	default:
		return 0
	}
}

// 16SC1 is read as unsigned on purpose; depth producers never emit negative ranges.
var encodingTypes = map[string]ElementType{
	EncodingMono8:  Uint8,
	Encoding8UC1:   Uint8,
	EncodingBGR8:   Uint8,
	EncodingRGB8:   Uint8,
	EncodingBGRA8:  Uint8,
	EncodingRGBA8:  Uint8,
	EncodingMono16: Uint16,
	Encoding16UC1:  Uint16,
	Encoding16SC1:  Uint16,
	Encoding32FC1:  Float32,
}

// ElementTypeOf returns the element type for a recognized encoding.
func ElementTypeOf(encoding string) (ElementType, bool) {
	et, ok := encodingTypes[encoding]
	return et, ok
}

// SupportedEncodings lists every encoding Decode accepts.
func SupportedEncodings() []string {
	return []string{
		EncodingMono8, Encoding8UC1, EncodingBGR8, EncodingRGB8, EncodingBGRA8, EncodingRGBA8,
		EncodingMono16, Encoding16UC1, Encoding16SC1,
		Encoding32FC1,
	}
}
