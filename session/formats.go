package session

import "strings"

// VideoFormat is a bitmask of video formats a stream may use.
type VideoFormat uint32

const (
	VideoFormatH264       VideoFormat = 0x0001
	VideoFormatH265       VideoFormat = 0x0100
	VideoFormatH265Main10 VideoFormat = 0x0200
	VideoFormatAV1Main8   VideoFormat = 0x1000
	VideoFormatAV1Main10  VideoFormat = 0x2000

	videoFormatMaskAV1 = VideoFormatAV1Main8 | VideoFormatAV1Main10
)

// AudioConfigurationSurround51 is the 5.1 channel layout requested for every
// stream.
const AudioConfigurationSurround51 int32 = 0x3F06CA

var formatNames = []struct {
	format VideoFormat
	name   string
}{
	{VideoFormatH264, "H264"},
	{VideoFormatH265, "HEVC"},
	{VideoFormatH265Main10, "HEVC_MAIN10"},
	{VideoFormatAV1Main8, "AV1_MAIN8"},
	{VideoFormatAV1Main10, "AV1_MAIN10"},
}

// Has reports whether every bit of other is set in f.
func (f VideoFormat) Has(other VideoFormat) bool {
	return f&other == other
}

// String lists the set formats joined by "|".
func (f VideoFormat) String() string {
	var names []string
	for _, entry := range formatNames {
		if f.Has(entry.format) {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// MarshalYAML renders the mask by name.
func (f VideoFormat) MarshalYAML() (any, error) {
	return f.String(), nil
}

// Capabilities answers local hardware queries.
type Capabilities interface {
	// HardwareDecode reports hardware decode support for one format.
	HardwareDecode(format VideoFormat) bool
	// HDR10Display reports whether the display can present HDR10.
	HDR10Display() bool
}

// StaticCapabilities is a fixed capability set, for configuration driven
// clients and tests.
type StaticCapabilities struct {
	HEVC  bool `yaml:"hevc"`
	AV1   bool `yaml:"av1"`
	HDR10 bool `yaml:"hdr10"`
}

func (c StaticCapabilities) HardwareDecode(format VideoFormat) bool {
	switch format {
	case VideoFormatH264:
		return true
	case VideoFormatH265, VideoFormatH265Main10:
		return c.HEVC
	case VideoFormatAV1Main8, VideoFormatAV1Main10:
		return c.AV1
	default:
		return false
	}
}

func (c StaticCapabilities) HDR10Display() bool {
	return c.HDR10
}
