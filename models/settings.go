package models

// PreferredCodec is the user's video codec preference.
type PreferredCodec int

const (
	PreferredCodecAuto PreferredCodec = iota
	PreferredCodecH264
	PreferredCodecHEVC
	PreferredCodecAV1
)

// String implements fmt.Stringer.
func (c PreferredCodec) String() string {
	switch c {
	case PreferredCodecH264:
		return "h264"
	case PreferredCodecHEVC:
		return "hevc"
	case PreferredCodecAV1:
		return "av1"
	default:
		return "auto"
	}
}

// MarshalYAML renders the codec by name.
func (c PreferredCodec) MarshalYAML() (any, error) {
	return c.String(), nil
}

// ParsePreferredCodec maps a codec name to a PreferredCodec.
func ParsePreferredCodec(name string) (PreferredCodec, bool) {
	switch name {
	case "auto", "":
		return PreferredCodecAuto, true
	case "h264", "H.264", "avc":
		return PreferredCodecH264, true
	case "hevc", "h265", "HEVC":
		return PreferredCodecHEVC, true
	case "av1", "AV1":
		return PreferredCodecAV1, true
	default:
		return PreferredCodecAuto, false
	}
}

// StreamSettings are the persisted user streaming preferences.
type StreamSettings struct {
	Bitrate           int32          `json:"bitrate" yaml:"bitrate"`
	Framerate         int32          `json:"framerate" yaml:"framerate"`
	Width             int32          `json:"width" yaml:"width"`
	Height            int32          `json:"height" yaml:"height"`
	AudioConfig       int32          `json:"audio_config" yaml:"audio_config"`
	OnscreenControls  int32          `json:"onscreen_controls" yaml:"onscreen_controls"`
	UniqueID          string         `json:"unique_id" yaml:"unique_id"`
	PreferredCodec    PreferredCodec `json:"preferred_codec" yaml:"preferred_codec"`
	UseFramePacing    bool           `json:"use_frame_pacing" yaml:"use_frame_pacing"`
	MultiController   bool           `json:"multi_controller" yaml:"multi_controller"`
	SwapABXYButtons   bool           `json:"swap_abxy_buttons" yaml:"swap_abxy_buttons"`
	PlayAudioOnPC     bool           `json:"play_audio_on_pc" yaml:"play_audio_on_pc"`
	OptimizeGames     bool           `json:"optimize_games" yaml:"optimize_games"`
	EnableHDR         bool           `json:"enable_hdr" yaml:"enable_hdr"`
	BTMouseSupport    bool           `json:"bt_mouse_support" yaml:"bt_mouse_support"`
	AbsoluteTouchMode bool           `json:"absolute_touch_mode" yaml:"absolute_touch_mode"`
	StatsOverlay      bool           `json:"stats_overlay" yaml:"stats_overlay"`
}

// DefaultStreamSettings returns the settings used when nothing is stored.
func DefaultStreamSettings() StreamSettings {
	return StreamSettings{
		Bitrate:          20000,
		Framerate:        60,
		Width:            1920,
		Height:           1080,
		OnscreenControls: 0,
		PreferredCodec:   PreferredCodecAuto,
		MultiController:  true,
		UseFramePacing:   false,
		OptimizeGames:    true,
	}
}
