// Package config loads the process-wide AppConfig via viper (env vars with
// a TURNRTC_ prefix, optionally overlaid by a YAML file).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Modality is the set of media kinds a deployment negotiates.
type Modality string

const (
	ModalityAudio      Modality = "audio"
	ModalityVideo      Modality = "video"
	ModalityAudioVideo Modality = "audio-video"
)

// Mode is the direction of a negotiated transceiver.
type Mode string

const (
	ModeSendReceive Mode = "send-receive"
	ModeSend        Mode = "send"
	ModeReceive     Mode = "receive"
)

// ICEServer mirrors the WebRTC ICEServer shape used in rtc_configuration.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// RTCConfiguration is the §6 rtc_configuration block.
type RTCConfiguration struct {
	ICEServers         []ICEServer `mapstructure:"ice_servers"`
	ICETransportPolicy string      `mapstructure:"ice_transport_policy"` // "all" or "relay"
}

// TrackConstraints are client-side capture hints surfaced to the browser;
// the server does not enforce them, only relays them at negotiation time.
type TrackConstraints struct {
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
	SampleRate       int  `mapstructure:"sample_rate"`
	ChannelCount     int  `mapstructure:"channel_count"`
}

// RTPParams is the §6 rtp_params block.
type RTPParams struct {
	DegradationPreference string `mapstructure:"degradation_preference"`
}

// AppConfig is the full set of enumerated configuration from spec §6 plus
// the ambient serving concerns (listen address, log level).
type AppConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	RoutePrefix string `mapstructure:"route_prefix"`

	Modality Modality `mapstructure:"modality"`
	Mode     Mode     `mapstructure:"mode"`

	// ConcurrencyLimit <= 0 means unbounded.
	ConcurrencyLimit int `mapstructure:"concurrency_limit"`
	// TimeLimit == 0 means no hard time limit.
	TimeLimit time.Duration `mapstructure:"time_limit"`

	RTCConfiguration RTCConfiguration `mapstructure:"rtc_configuration"`
	TrackConstraints TrackConstraints `mapstructure:"track_constraints"`
	RTPParams        RTPParams        `mapstructure:"rtp_params"`

	// OutputQueueCapacity bounds each session's AdditionalOutputs queue (§3).
	OutputQueueCapacity int `mapstructure:"output_queue_capacity"`

	// SignalAdmissionTimeout is the §5 5s ICE/signalling deadline.
	SignalAdmissionTimeout time.Duration `mapstructure:"signal_admission_timeout"`
	// InboundStallWarning is the §5 30s no-inbound-frame warning threshold.
	InboundStallWarning time.Duration `mapstructure:"inbound_stall_warning"`
}

// Default returns the spec-documented defaults (§6, §4.2, §5).
func Default() AppConfig {
	return AppConfig{
		ListenAddr:  ":8080",
		LogLevel:    "info",
		RoutePrefix: "/",

		Modality: ModalityAudio,
		Mode:     ModeSendReceive,

		ConcurrencyLimit: 0,
		TimeLimit:        0,

		RTCConfiguration: RTCConfiguration{
			ICEServers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
			ICETransportPolicy: "all",
		},
		TrackConstraints: TrackConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			SampleRate:       48000,
			ChannelCount:     1,
		},
		RTPParams: RTPParams{DegradationPreference: "balanced"},

		OutputQueueCapacity: 128,

		SignalAdmissionTimeout: 5 * time.Second,
		InboundStallWarning:    30 * time.Second,
	}
}

// Load reads AppConfig from environment variables prefixed TURNRTC_ (e.g.
// TURNRTC_CONCURRENCY_LIMIT), optionally overlaid by a YAML file at path
// (empty path skips the file). Unset values keep the Default().
func Load(path string) (AppConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("TURNRTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	bindDefaults(v, cfg)

	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg AppConfig) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("route_prefix", cfg.RoutePrefix)
	v.SetDefault("modality", cfg.Modality)
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("concurrency_limit", cfg.ConcurrencyLimit)
	v.SetDefault("time_limit", cfg.TimeLimit)
	v.SetDefault("output_queue_capacity", cfg.OutputQueueCapacity)
	v.SetDefault("signal_admission_timeout", cfg.SignalAdmissionTimeout)
	v.SetDefault("inbound_stall_warning", cfg.InboundStallWarning)
	v.SetDefault("rtc_configuration.ice_transport_policy", cfg.RTCConfiguration.ICETransportPolicy)
	iceServers := make([]map[string]any, len(cfg.RTCConfiguration.ICEServers))
	for i, s := range cfg.RTCConfiguration.ICEServers {
		iceServers[i] = map[string]any{"urls": s.URLs, "username": s.Username, "credential": s.Credential}
	}
	v.SetDefault("rtc_configuration.ice_servers", iceServers)
	v.SetDefault("track_constraints.echo_cancellation", cfg.TrackConstraints.EchoCancellation)
	v.SetDefault("track_constraints.noise_suppression", cfg.TrackConstraints.NoiseSuppression)
	v.SetDefault("track_constraints.sample_rate", cfg.TrackConstraints.SampleRate)
	v.SetDefault("track_constraints.channel_count", cfg.TrackConstraints.ChannelCount)
	v.SetDefault("rtp_params.degradation_preference", cfg.RTPParams.DegradationPreference)
}
