// Package config loads and validates the on-disk KVM agent configuration
// via viper, the same library and Load/Save/Validate shape the teacher
// agent uses for its own settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/onekvm-go/core/internal/logging"
)

var log = logging.L("config")

// Config is the full set of settings a running kvmcore instance needs:
// device identity, capture/video/audio format, HID backend selection,
// and per-transport enable flags and addresses.
type Config struct {
	DeviceID string `mapstructure:"device_id"`
	Password string `mapstructure:"password"`
	Hostname string `mapstructure:"hostname"`

	CaptureDevice string `mapstructure:"capture_device"`
	VideoWidth    int    `mapstructure:"video_width"`
	VideoHeight   int    `mapstructure:"video_height"`
	VideoFPS      int    `mapstructure:"video_fps"`
	VideoCodec    string `mapstructure:"video_codec"`  // h264, h265, vp8, vp9
	VideoPreset   string `mapstructure:"video_preset"` // speed, balanced, quality

	AudioEnabled     bool   `mapstructure:"audio_enabled"`
	AudioDevice      string `mapstructure:"audio_device"`
	AudioBitrateKbps int    `mapstructure:"audio_bitrate_kbps"`

	HIDBackend         string `mapstructure:"hid_backend"` // otg, ch9329
	HIDOTGKeyboard     string `mapstructure:"hid_otg_keyboard_device"`
	HIDOTGMouseRel     string `mapstructure:"hid_otg_mouse_rel_device"`
	HIDOTGMouseAbs     string `mapstructure:"hid_otg_mouse_abs_device"`
	HIDSerialPort      string `mapstructure:"hid_serial_port"`
	HIDSerialBaudRate  int    `mapstructure:"hid_serial_baud_rate"`

	WebRTCEnabled bool     `mapstructure:"webrtc_enabled"`
	ICEServers    []string `mapstructure:"ice_servers"`

	RTSPEnabled       bool   `mapstructure:"rtsp_enabled"`
	RTSPBindAddr      string `mapstructure:"rtsp_bind_addr"`
	RTSPMountPoint    string `mapstructure:"rtsp_mount_point"`
	RTSPUsername      string `mapstructure:"rtsp_username"`
	RTSPPassword      string `mapstructure:"rtsp_password"`
	RTSPOneClientOnly bool   `mapstructure:"rtsp_one_client_only"`

	RustDeskEnabled        bool   `mapstructure:"rustdesk_enabled"`
	RustDeskRendezvousAddr string `mapstructure:"rustdesk_rendezvous_addr"`
	RustDeskRelayKey       string `mapstructure:"rustdesk_relay_key"`
	RustDeskListenPort     int    `mapstructure:"rustdesk_listen_port"`

	MJPEGEnabled  bool   `mapstructure:"mjpeg_enabled"`
	MJPEGBindAddr string `mapstructure:"mjpeg_bind_addr"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Health/throttle tuning, shared across the audio and HID monitors.
	HealthMaxRetries      int `mapstructure:"health_max_retries"`
	HealthCooldownSeconds int `mapstructure:"health_cooldown_seconds"`
	ThrottleIntervalSecs  int `mapstructure:"throttle_interval_seconds"`
}

func Default() *Config {
	return &Config{
		CaptureDevice: "/dev/video0",
		VideoWidth:    1920,
		VideoHeight:   1080,
		VideoFPS:      30,
		VideoCodec:    "h264",
		VideoPreset:   "balanced",

		AudioEnabled:     true,
		AudioDevice:      "default",
		AudioBitrateKbps: 64,

		HIDBackend:        "otg",
		HIDOTGKeyboard:    "/dev/hidg0",
		HIDOTGMouseRel:    "/dev/hidg1",
		HIDOTGMouseAbs:    "/dev/hidg2",
		HIDSerialBaudRate: 9600,

		WebRTCEnabled: true,

		RTSPEnabled:       false,
		RTSPBindAddr:      "0.0.0.0:8554",
		RTSPMountPoint:    "/stream",
		RTSPOneClientOnly: true,

		RustDeskEnabled:        false,
		RustDeskRendezvousAddr: "rs-ny.rustdesk.com:21116",
		RustDeskListenPort:     21118,

		MJPEGEnabled:  true,
		MJPEGBindAddr: "0.0.0.0:8080",

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		HealthMaxRetries:      5,
		HealthCooldownSeconds: 30,
		ThrottleIntervalSecs:  10,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kvmcore")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ONEKVM")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("device_id", cfg.DeviceID)
	viper.Set("password", cfg.Password)
	viper.Set("hostname", cfg.Hostname)
	viper.Set("capture_device", cfg.CaptureDevice)
	viper.Set("video_width", cfg.VideoWidth)
	viper.Set("video_height", cfg.VideoHeight)
	viper.Set("video_fps", cfg.VideoFPS)
	viper.Set("video_codec", cfg.VideoCodec)
	viper.Set("video_preset", cfg.VideoPreset)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "kvmcore.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// Restrict config file to owner-only access (contains the access password)
	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for kvmcore.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "OneKVM", "data")
	case "darwin":
		return "/Library/Application Support/OneKVM/data"
	default:
		return "/var/lib/onekvm"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "OneKVM")
	case "darwin":
		return "/Library/Application Support/OneKVM"
	default:
		return "/etc/onekvm"
	}
}
