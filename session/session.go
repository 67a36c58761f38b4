// Package session assembles the immutable descriptor used to start a stream.
package session

import (
	"bytes"
	"errors"
	"net"
	"strconv"

	"streamlink/models"
)

const maxStandardDimension = 4096

var (
	// ErrNoAddress is returned for a host without any known address.
	ErrNoAddress = errors.New("host has no address")
	// ErrNoApp is returned when no app was chosen.
	ErrNoApp = errors.New("no app selected")
)

// Descriptor is everything the streaming engine needs to start playback.
// It is built once per launch and never modified.
type Descriptor struct {
	HostUUID  string `yaml:"host_uuid"`
	HostName  string `yaml:"host_name"`
	Address   string `yaml:"address"`
	HTTPPort  int    `yaml:"http_port"`
	HTTPSPort int    `yaml:"https_port"`

	AppID   string `yaml:"app_id"`
	AppName string `yaml:"app_name"`

	ServerCert             []byte `yaml:"-"`
	ServerCodecModeSupport int32  `yaml:"server_codec_mode_support"`
	UniqueID               string `yaml:"unique_id"`

	Width     int32 `yaml:"width"`
	Height    int32 `yaml:"height"`
	Framerate int32 `yaml:"framerate"`
	Bitrate   int32 `yaml:"bitrate"`

	SupportedVideoFormats VideoFormat `yaml:"supported_video_formats"`
	AudioConfiguration    int32       `yaml:"audio_configuration"`

	EnableHDR         bool `yaml:"enable_hdr"`
	UseFramePacing    bool `yaml:"use_frame_pacing"`
	MultiController   bool `yaml:"multi_controller"`
	PlayAudioOnPC     bool `yaml:"play_audio_on_pc"`
	OptimizeGames     bool `yaml:"optimize_games"`
	SwapABXYButtons   bool `yaml:"swap_abxy_buttons"`
	AbsoluteTouchMode bool `yaml:"absolute_touch_mode"`
	BTMouseSupport    bool `yaml:"bt_mouse_support"`
	StatsOverlay      bool `yaml:"stats_overlay"`
}

// Build combines a host, one of its apps, the user settings and the local
// capabilities into a Descriptor. It performs no I/O and does not modify its
// arguments.
func Build(host models.Host, app models.App, settings models.StreamSettings, caps Capabilities) (Descriptor, error) {
	host.RefreshActiveAddress()
	if host.ActiveAddress == "" {
		return Descriptor{}, ErrNoAddress
	}
	if app.ID == "" {
		return Descriptor{}, ErrNoApp
	}

	addr, httpPort := models.SplitAddress(host.ActiveAddress, models.DefaultHTTPPort)
	httpsPort := int(host.HTTPSPort)
	if httpsPort == 0 {
		httpsPort = models.DefaultHTTPSPort
	}

	return Descriptor{
		HostUUID:               host.UUID,
		HostName:               host.Name,
		Address:                addr,
		HTTPPort:               httpPort,
		HTTPSPort:              httpsPort,
		AppID:                  app.ID,
		AppName:                app.Name,
		ServerCert:             bytes.Clone(host.ServerCert),
		ServerCodecModeSupport: host.ServerCodecModeSupport,
		UniqueID:               settings.UniqueID,
		Width:                  settings.Width,
		Height:                 settings.Height,
		Framerate:              settings.Framerate,
		Bitrate:                settings.Bitrate,
		SupportedVideoFormats:  NegotiateVideoFormats(settings, caps),
		AudioConfiguration:     AudioConfigurationSurround51,
		EnableHDR:              settings.EnableHDR,
		UseFramePacing:         settings.UseFramePacing,
		MultiController:        settings.MultiController,
		PlayAudioOnPC:          settings.PlayAudioOnPC,
		OptimizeGames:          settings.OptimizeGames,
		SwapABXYButtons:        settings.SwapABXYButtons,
		AbsoluteTouchMode:      settings.AbsoluteTouchMode,
		BTMouseSupport:         settings.BTMouseSupport,
		StatsOverlay:           settings.StatsOverlay,
	}, nil
}

// NegotiateVideoFormats computes the formats offered to the host. Formats
// only ever accumulate: each rule may add bits, none removes them.
func NegotiateVideoFormats(settings models.StreamSettings, caps Capabilities) VideoFormat {
	formats := VideoFormatH264

	switch codec := settings.PreferredCodec; {
	case codec == models.PreferredCodecAV1 && caps.HardwareDecode(VideoFormatAV1Main8):
		formats |= VideoFormatAV1Main8
	case (codec == models.PreferredCodecAuto || codec == models.PreferredCodecHEVC) && caps.HardwareDecode(VideoFormatH265):
		formats |= VideoFormatH265
	case codec == models.PreferredCodecH264:
		formats |= VideoFormatH264
	}

	if settings.Width > maxStandardDimension || settings.Height > maxStandardDimension || settings.EnableHDR {
		if caps.HardwareDecode(VideoFormatH265) {
			formats |= VideoFormatH265
		}
		if settings.EnableHDR && caps.HDR10Display() {
			formats |= VideoFormatH265Main10
		}
		if formats&videoFormatMaskAV1 != 0 && settings.EnableHDR &&
			caps.HardwareDecode(VideoFormatAV1Main8) && caps.HDR10Display() {
			formats |= VideoFormatAV1Main10
		}
	}

	return formats
}

// HostPort returns the address of the plain HTTP endpoint.
func (d Descriptor) HostPort() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.HTTPPort))
}
