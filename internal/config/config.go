// Package config loads posecapture settings from an optional YAML file and
// POSECAPTURE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ayusman/posecapture/internal/app"
	"github.com/ayusman/posecapture/internal/capture"
	"github.com/ayusman/posecapture/internal/detector"
	"github.com/ayusman/posecapture/internal/pose"
)

// EnvPrefix is prepended to every environment override, e.g.
// POSECAPTURE_CAPTURE_COOLDOWN_MS.
const EnvPrefix = "POSECAPTURE"

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete application configuration.
type Config struct {
	Capture  CaptureConfig  `mapstructure:"capture"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Detector DetectorConfig `mapstructure:"detector"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Hooks    HooksConfig    `mapstructure:"hooks"`
}

// CaptureConfig controls the session itself.
type CaptureConfig struct {
	Poses               []string `mapstructure:"poses" validate:"required,min=1"`
	DetectionThreshold  float64  `mapstructure:"detection_threshold" validate:"gte=0,lte=1"`
	CooldownMs          int      `mapstructure:"cooldown_ms" validate:"gt=0"`
	FPS                 int      `mapstructure:"fps" validate:"gt=0,lte=120"`
	MaxDetectorFailures int      `mapstructure:"max_detector_failures" validate:"gt=0"`
	MaxSourceFailures   int      `mapstructure:"max_source_failures" validate:"gt=0"`
	MotionThreshold     float64  `mapstructure:"motion_threshold" validate:"gte=0,lte=100"`
}

type CameraConfig struct {
	DeviceID int `mapstructure:"device_id" validate:"gte=0"`
	Width    int `mapstructure:"width" validate:"gte=0"`
	Height   int `mapstructure:"height" validate:"gte=0"`
}

// Device returns the capture device settings.
func (c CameraConfig) Device() capture.DeviceConfig {
	return capture.DeviceConfig{ID: c.DeviceID, Width: c.Width, Height: c.Height}
}

type DetectorConfig struct {
	Backend    string `mapstructure:"backend" validate:"oneof=yunet service mock"`
	ModelPath  string `mapstructure:"model_path"`
	ScriptPath string `mapstructure:"script_path"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	StaticDir string `mapstructure:"static_dir"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// MQTTConfig configures the progress publisher. Broker and port are only
// checked when Enabled is set.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker" validate:"required_if=Enabled true"`
	Port        int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix" validate:"required_if=Enabled true"`
	QoS         byte   `mapstructure:"qos" validate:"lte=2"`
}

type HooksConfig struct {
	Dir       string `mapstructure:"dir"`
	TimeoutMs int    `mapstructure:"timeout_ms" validate:"gt=0"`
}

// Load reads configPath (optional; empty or missing means defaults only),
// overlays environment variables and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.poses", pose.DefaultNames())
	v.SetDefault("capture.detection_threshold", detector.DefaultThreshold)
	v.SetDefault("capture.cooldown_ms", int(app.DefaultCooldown/time.Millisecond))
	v.SetDefault("capture.fps", capture.DefaultFPS)
	v.SetDefault("capture.max_detector_failures", app.DefaultMaxDetectorFailures)
	v.SetDefault("capture.max_source_failures", app.DefaultMaxSourceFailures)
	v.SetDefault("capture.motion_threshold", 0.0)

	v.SetDefault("camera.device_id", 0)
	v.SetDefault("camera.width", capture.DefaultWidth)
	v.SetDefault("camera.height", capture.DefaultHeight)

	v.SetDefault("detector.backend", detector.BackendYuNet)
	v.SetDefault("detector.model_path", "models/face_detection_yunet.onnx")
	v.SetDefault("detector.script_path", "scripts/face_service.py")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_dir", "web")

	v.SetDefault("store.path", "data/posecapture.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "posecapture")
	v.SetDefault("mqtt.topic_prefix", "posecapture")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("hooks.dir", "")
	v.SetDefault("hooks.timeout_ms", 10000)
}

var validate = validator.New()

// Validate checks field ranges and that the pose list forms a valid sequence.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if _, err := pose.ParseSequence(c.Capture.Poses); err != nil {
		return fmt.Errorf("%w: capture.poses: %v", ErrInvalid, err)
	}
	return nil
}

// Session converts the capture section into the controller's session defaults.
// Call it only on a validated Config.
func (c *Config) Session() app.SessionConfig {
	sc := app.DefaultSessionConfig()
	if seq, err := pose.ParseSequence(c.Capture.Poses); err == nil {
		sc.Poses = seq.Poses()
	}
	sc.Threshold = c.Capture.DetectionThreshold
	sc.Cooldown = time.Duration(c.Capture.CooldownMs) * time.Millisecond
	return sc
}

// DetectorOptions returns the detector section as backend options.
func (c *Config) DetectorOptions() detector.Config {
	opts := detector.DefaultConfig()
	opts.ModelPath = c.Detector.ModelPath
	opts.ScriptPath = c.Detector.ScriptPath
	return opts
}

// HookTimeout returns hooks.timeout_ms as a duration.
func (c *Config) HookTimeout() time.Duration {
	return time.Duration(c.Hooks.TimeoutMs) * time.Millisecond
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
