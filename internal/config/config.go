package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// Environment variables holding secrets. They never live in the YAML file.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
)

// CameraConfig selects and tunes the capture backend.
type CameraConfig struct {
	Type             string `yaml:"type" validate:"required,oneof=opencv v4l2 synthetic"`
	Device           string `yaml:"device"`                                // /dev/video0 or an OpenCV index
	WidthPx          int    `yaml:"width_px" validate:"min=1,max=640"`     // hardware max 640
	HeightPx         int    `yaml:"height_px" validate:"min=1,max=480"`    // hardware max 480
	CaptureTimeoutMs int    `yaml:"capture_timeout_ms" validate:"min=0"`   // v4l2 only
	JPEGQuality      int    `yaml:"jpeg_quality" validate:"min=1,max=100"` // opencv only
	FrameIntervalMs  int    `yaml:"frame_interval_ms" validate:"min=0"`    // synthetic only
}

// CascadeConfig points at the OpenCV Haar cascade models.
type CascadeConfig struct {
	FaceModel      string `yaml:"face_model"`
	SmileModel     string `yaml:"smile_model"`
	NeighborLevels []int  `yaml:"neighbor_levels" validate:"dive,min=1"`
	MinFacePx      int    `yaml:"min_face_px" validate:"min=0"`
}

// GeminiConfig tunes the remote oracle. The API key comes from GEMINI_API_KEY.
type GeminiConfig struct {
	Model     string  `yaml:"model"`
	MaxRPS    float64 `yaml:"max_rps" validate:"min=0"`
	TimeoutMs int     `yaml:"timeout_ms" validate:"min=0"`
	APIKey    string  `yaml:"-"`
}

// ScriptedConfig replays fixed probabilities, one list per frame (dev mode).
type ScriptedConfig struct {
	Probabilities [][]float64 `yaml:"probabilities" validate:"dive,dive,min=0,max=1"`
}

// SmileConfig holds the counting policy and the oracle choice.
type SmileConfig struct {
	Oracle     string         `yaml:"oracle" validate:"required,oneof=cascade gemini scripted"`
	Threshold  float64        `yaml:"threshold" validate:"gt=0,lte=1"`
	DebounceMs int            `yaml:"debounce_ms" validate:"min=0"`
	Cascade    CascadeConfig  `yaml:"cascade"`
	Gemini     GeminiConfig   `yaml:"gemini"`
	Scripted   ScriptedConfig `yaml:"scripted"`
}

// RGBLEDPins are the BCM pins of the HAT's red, green and blue LEDs.
type RGBLEDPins struct {
	Red   int `yaml:"red" validate:"min=0,max=27"`
	Green int `yaml:"green" validate:"min=0,max=27"`
	Blue  int `yaml:"blue" validate:"min=0,max=27"`
}

// HatConfig describes the Rainbow HAT. Enabled=false logs feedback instead.
type HatConfig struct {
	Enabled           bool       `yaml:"enabled"`
	I2CBus            string     `yaml:"i2c_bus"`
	DisplayAddr       int        `yaml:"display_addr" validate:"min=3,max=119"`
	DisplayBrightness int        `yaml:"display_brightness" validate:"min=0,max=15"`
	StripLength       int        `yaml:"strip_length" validate:"min=1,max=64"`
	StripBrightness   int        `yaml:"strip_brightness" validate:"min=0,max=31"`
	SPISpeedHz        int        `yaml:"spi_speed_hz" validate:"min=0"`
	FeedbackQueue     int        `yaml:"feedback_queue" validate:"min=0"`
	RGBLEDPins        RGBLEDPins `yaml:"rgb_led_pins"`
}

// MQTTConfig is the optional event broker. Credentials come from the environment.
type MQTTConfig struct {
	Broker   string `yaml:"broker" validate:"omitempty,url"` // empty = disabled
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos" validate:"min=0,max=2"`
	Encoding string `yaml:"encoding" validate:"omitempty,oneof=json msgpack"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// EventsConfig configures event fan-out.
type EventsConfig struct {
	Buffer int        `yaml:"buffer" validate:"min=0"`
	MQTT   MQTTConfig `yaml:"mqtt"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level" validate:"min=0,max=4"` // 0=off, 1=info, 2=live, 3=verbose, 4=trace
	MockGPIO   bool   `yaml:"mock_gpio"`                          // true=dev/test, false=real Raspberry Pi
	LogFile    string `yaml:"log_file"`                           // rotated, empty = stdout only
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Smile    SmileConfig    `yaml:"smile"`
	Hat      HatConfig      `yaml:"hat"`
	Events   EventsConfig   `yaml:"events"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

var validate = validator.New()

// ValidateConfigPath accepts only *.yaml files directly under a configs/
// directory, with no ".." element.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be in a configs/ directory", path)
	}
	return nil
}

// LoadEnv reads KEY=VALUE files into the environment. Missing files are
// skipped, variables already set win.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.fromEnv()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) fromEnv() {
	c.Smile.Gemini.APIKey = os.Getenv(EnvGeminiAPIKey)
	c.Events.MQTT.Username = os.Getenv(EnvMQTTUsername)
	c.Events.MQTT.Password = os.Getenv(EnvMQTTPassword)
}

func (c *Config) setDefaults() {
	if c.Camera.Device == "" && c.Camera.Type != "synthetic" {
		c.Camera.Device = "/dev/video0"
	}
	if c.Camera.WidthPx == 0 {
		c.Camera.WidthPx = 320
	}
	if c.Camera.HeightPx == 0 {
		c.Camera.HeightPx = 240
	}
	if c.Camera.CaptureTimeoutMs == 0 {
		c.Camera.CaptureTimeoutMs = 2000
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = 90
	}
	if c.Camera.FrameIntervalMs == 0 {
		c.Camera.FrameIntervalMs = 100
	}

	if c.Smile.Oracle == "" {
		c.Smile.Oracle = "cascade"
	}
	if c.Smile.Threshold == 0 {
		c.Smile.Threshold = 0.90
	}
	if c.Smile.DebounceMs == 0 {
		c.Smile.DebounceMs = 500
	}
	if c.Smile.Cascade.FaceModel == "" {
		c.Smile.Cascade.FaceModel = "models/haarcascade_frontalface_default.xml"
	}
	if c.Smile.Cascade.SmileModel == "" {
		c.Smile.Cascade.SmileModel = "models/haarcascade_smile.xml"
	}
	if c.Smile.Gemini.Model == "" {
		c.Smile.Gemini.Model = "gemini-1.5-flash"
	}
	if c.Smile.Gemini.MaxRPS == 0 {
		c.Smile.Gemini.MaxRPS = 1
	}
	if c.Smile.Gemini.TimeoutMs == 0 {
		c.Smile.Gemini.TimeoutMs = 10000
	}

	if c.Hat.I2CBus == "" {
		c.Hat.I2CBus = "/dev/i2c-1"
	}
	if c.Hat.DisplayAddr == 0 {
		c.Hat.DisplayAddr = 0x70
	}
	if c.Hat.DisplayBrightness == 0 {
		c.Hat.DisplayBrightness = 15 // full brightness
	}
	if c.Hat.StripLength == 0 {
		c.Hat.StripLength = 7
	}
	if c.Hat.StripBrightness == 0 {
		c.Hat.StripBrightness = 1
	}
	if c.Hat.SPISpeedHz == 0 {
		c.Hat.SPISpeedHz = 1000000
	}
	if c.Hat.FeedbackQueue == 0 {
		c.Hat.FeedbackQueue = 8
	}
	if c.Hat.RGBLEDPins == (RGBLEDPins{}) {
		c.Hat.RGBLEDPins = RGBLEDPins{Red: 6, Green: 19, Blue: 26}
	}

	if c.Events.Buffer == 0 {
		c.Events.Buffer = 64
	}
	if c.Events.MQTT.Topic == "" {
		c.Events.MQTT.Topic = "smilego"
	}
	if c.Events.MQTT.ClientID == "" {
		c.Events.MQTT.ClientID = "smilego"
	}
	if c.Events.MQTT.Encoding == "" {
		c.Events.MQTT.Encoding = "json"
	}
}

// Validate checks field ranges and the settings the chosen oracle needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}

	switch c.Smile.Oracle {
	case "gemini":
		if c.Smile.Gemini.APIKey == "" {
			return fmt.Errorf("smile.oracle gemini needs %s", EnvGeminiAPIKey)
		}
	case "scripted":
		if len(c.Smile.Scripted.Probabilities) == 0 {
			return errors.New("smile.oracle scripted needs smile.scripted.probabilities")
		}
	}
	if c.Camera.Type != "synthetic" && c.Camera.Device == "" {
		return fmt.Errorf("camera.device is required for %s", c.Camera.Type)
	}
	return nil
}

// Overrides are CLI (or web) adjustments. Zero means "use config".
type Overrides struct {
	Threshold  float64
	DebounceMs int
	WidthPx    int
	HeightPx   int
}

// ValidateOverrides checks that non-zero overrides are within valid ranges.
func ValidateOverrides(o Overrides) error {
	if o.Threshold != 0 {
		if math.IsNaN(o.Threshold) || math.IsInf(o.Threshold, 0) || o.Threshold <= 0 || o.Threshold > 1 {
			return fmt.Errorf("threshold must be in (0, 1], got %g", o.Threshold)
		}
	}
	if o.DebounceMs < 0 || o.DebounceMs > 60000 {
		return fmt.Errorf("debounce_ms must be between 0 and 60000, got %d", o.DebounceMs)
	}
	if o.WidthPx < 0 || o.WidthPx > 640 {
		return fmt.Errorf("width_px must be between 1 and 640, got %d", o.WidthPx)
	}
	if o.HeightPx < 0 || o.HeightPx > 480 {
		return fmt.Errorf("height_px must be between 1 and 480, got %d", o.HeightPx)
	}
	return nil
}

// Apply returns a copy of c with the non-zero overrides applied.
func (c *Config) Apply(o Overrides) *Config {
	cfg := *c
	if o.Threshold > 0 {
		cfg.Smile.Threshold = o.Threshold
	}
	if o.DebounceMs > 0 {
		cfg.Smile.DebounceMs = o.DebounceMs
	}
	if o.WidthPx > 0 {
		cfg.Camera.WidthPx = o.WidthPx
	}
	if o.HeightPx > 0 {
		cfg.Camera.HeightPx = o.HeightPx
	}
	return &cfg
}

// Debounce returns the pause after a counted smile.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Smile.DebounceMs) * time.Millisecond
}

// CaptureTimeout returns how long a capture may wait for a frame.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// FrameInterval returns the synthetic camera's frame period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Camera.FrameIntervalMs) * time.Millisecond
}

// GeminiTimeout returns the per-request timeout of the remote oracle.
func (c *Config) GeminiTimeout() time.Duration {
	return time.Duration(c.Smile.Gemini.TimeoutMs) * time.Millisecond
}
