package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cjeanneret/SmileGo/internal/config"
	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/events"
	"github.com/cjeanneret/SmileGo/internal/hw/camera"
	"github.com/cjeanneret/SmileGo/internal/hw/display"
	"github.com/cjeanneret/SmileGo/internal/hw/gpio"
	"github.com/cjeanneret/SmileGo/internal/logic/capture"
	"github.com/cjeanneret/SmileGo/internal/logic/device"
	"github.com/cjeanneret/SmileGo/internal/logic/feedback"
	"github.com/cjeanneret/SmileGo/internal/logic/smile"
	"github.com/cjeanneret/SmileGo/internal/web"
	"github.com/spf13/cobra"
)

type runOptions struct {
	web       *webPortFlag
	threshold float64
	debounce  time.Duration
	width     int
	height    int
}

var runOpts = runOptions{web: &webPortFlag{defaultPort: 8080}}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the smile counter until interrupted or stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := runOpts.overrides()
		if err := config.ValidateOverrides(overrides); err != nil {
			return fmt.Errorf("invalid CLI override: %w", err)
		}
		return runCounter(cmd.Context(), cfg.Apply(overrides), runOpts.web.port())
	},
}

func init() {
	f := runCmd.Flags()
	f.Var(runOpts.web, "web", "start the status server; --web for port 8080, --web=8980 for a custom port")
	f.Lookup("web").NoOptDefVal = strconv.Itoa(runOpts.web.defaultPort)
	f.Float64Var(&runOpts.threshold, "threshold", 0, "override smiling probability threshold (0-1]")
	f.DurationVar(&runOpts.debounce, "debounce", 0, "override pause after a counted smile, e.g. 750ms")
	f.IntVar(&runOpts.width, "width", 0, "override capture width in pixels (max 640)")
	f.IntVar(&runOpts.height, "height", 0, "override capture height in pixels (max 480)")
	rootCmd.AddCommand(runCmd)
}

// overrides converts the flags. Zero means "use config".
func (o runOptions) overrides() config.Overrides {
	return config.Overrides{
		Threshold:  o.threshold,
		DebounceMs: int(o.debounce / time.Millisecond),
		WidthPx:    o.width,
		HeightPx:   o.height,
	}
}

// runCounter wires the hardware and blocks until the counter ends. A fatal
// device error is returned so the process exits non-zero.
func runCounter(ctx context.Context, cfg *config.Config, webPort int) error {
	debug.Step(1, "Initializing camera")
	src, err := newSource(cfg)
	if err != nil {
		return fmt.Errorf("init camera failed: %w", err)
	}
	res := camera.Resolution{Width: cfg.Camera.WidthPx, Height: cfg.Camera.HeightPx}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Camera device", cfg.Camera.Device)
	debug.Value("Resolution", res)
	debug.PrintStruct("Camera config", cfg.Camera)
	dev := device.New(src, res)

	debug.Step(2, "Initializing smile oracle")
	oracle, err := newOracle(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init oracle failed: %w", err)
	}
	if c, ok := oracle.(smile.Closer); ok {
		defer c.Close()
	}
	debug.Value("Oracle", cfg.Smile.Oracle)
	debug.Value("Threshold", cfg.Smile.Threshold)
	debug.Value("Debounce", cfg.Debounce())
	if cfg.Smile.Oracle == "cascade" {
		debug.PrintStruct("Cascade config", cfg.Smile.Cascade)
	}

	debug.Step(3, "Initializing feedback")
	sink, closeHW, err := newSink(cfg)
	if err != nil {
		return fmt.Errorf("init feedback failed: %w", err)
	}
	defer closeHW()
	debug.PrintStruct("HAT config", cfg.Hat)
	disp := feedback.NewDispatcher(sink, cfg.Hat.StripLength, uint8(cfg.Hat.StripBrightness), cfg.Hat.FeedbackQueue)

	debug.Step(4, "Initializing events")
	bus := events.NewBus(cfg.Events.Buffer)
	defer func() {
		if err := bus.Close(); err != nil {
			debug.ErrorMsg("Error closing event publishers", err)
		}
	}()
	if cfg.Events.MQTT.Broker != "" {
		pub, err := newMQTT(cfg)
		if err != nil {
			// Counting works without the broker.
			debug.ErrorMsg("MQTT disabled", err)
		} else {
			bus.Add(pub)
		}
	}

	ctrl := capture.NewController(dev, oracle, disp, bus, capture.Config{
		Threshold: cfg.Smile.Threshold,
		Debounce:  cfg.Debounce(),
	})
	debug.Value("Session", ctrl.Session())

	webDone := make(chan struct{})
	webCtx, stopWeb := context.WithCancel(context.Background())
	defer func() {
		stopWeb()
		<-webDone
	}()
	if webPort > 0 {
		broadcaster := web.NewStatusBroadcaster()
		bus.Add(broadcaster)
		debug.SetOutput(web.BroadcastWriter(broadcaster))
		defer debug.SetOutput(nil)

		srv, err := web.NewServer(fmt.Sprintf(":%d", webPort), broadcaster, ctrl, web.Settings{
			Camera:     cfg.Camera.Type,
			Oracle:     cfg.Smile.Oracle,
			WidthPx:    cfg.Camera.WidthPx,
			HeightPx:   cfg.Camera.HeightPx,
			Threshold:  cfg.Smile.Threshold,
			DebounceMs: cfg.Smile.DebounceMs,
		})
		if err != nil {
			return err
		}
		go func() {
			defer close(webDone)
			if err := srv.Run(webCtx); err != nil {
				debug.ErrorMsg("Web server", err)
			}
		}()
	} else {
		close(webDone)
	}

	debug.Section("Counting smiles")
	ctrl.Start(ctx)
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		ctrl.Stop()
		<-ctrl.Done()
	}
	<-disp.Done()

	debug.Summary("Smile counter finished")
	snap := ctrl.Snapshot()
	debug.InfoFields(debug.Fields{
		"session":  snap.Session,
		"count":    snap.Count,
		"cycles":   snap.Cycles,
		"failures": snap.Failures,
	}, "Session ended")
	if err := ctrl.Err(); err != nil {
		return fmt.Errorf("smile counter halted: %w", err)
	}
	return nil
}

// newSource selects a capture backend based on configuration.
func newSource(cfg *config.Config) (camera.Source, error) {
	switch cfg.Camera.Type {
	case "opencv":
		return camera.NewOpenCV(cfg.Camera.Device, cfg.Camera.JPEGQuality)
	case "v4l2":
		return camera.NewV4L2(cfg.Camera.Device, cfg.CaptureTimeout())
	case "synthetic":
		return camera.NewSynthetic(cfg.FrameInterval()), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// newOracle selects the smile oracle based on configuration.
func newOracle(ctx context.Context, cfg *config.Config) (smile.Oracle, error) {
	switch cfg.Smile.Oracle {
	case "cascade":
		return smile.NewCascade(smile.CascadeConfig{
			FaceModel:      cfg.Smile.Cascade.FaceModel,
			SmileModel:     cfg.Smile.Cascade.SmileModel,
			NeighborLevels: cfg.Smile.Cascade.NeighborLevels,
			MinFace:        cfg.Smile.Cascade.MinFacePx,
		})
	case "gemini":
		return smile.NewGemini(ctx, smile.GeminiConfig{
			APIKey:  cfg.Smile.Gemini.APIKey,
			Model:   cfg.Smile.Gemini.Model,
			MaxRPS:  cfg.Smile.Gemini.MaxRPS,
			Timeout: cfg.GeminiTimeout(),
		})
	case "scripted":
		return smile.NewScripted(cfg.Smile.Scripted.Probabilities)
	default:
		return nil, fmt.Errorf("unsupported oracle: %s", cfg.Smile.Oracle)
	}
}

// newSink brings up the Rainbow HAT, or a logging sink when it is disabled.
// The returned func releases the hardware.
func newSink(cfg *config.Config) (feedback.Sink, func(), error) {
	if !cfg.Hat.Enabled {
		debug.Info("Rainbow HAT disabled, feedback goes to the log")
		return feedback.LogSink{}, func() {}, nil
	}

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	drv, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, nil, fmt.Errorf("init GPIO: %w", err)
	}

	var bus display.Bus
	if cfg.Defaults.MockGPIO {
		bus = display.MockBus()
	} else {
		bus, err = display.OpenI2C(cfg.Hat.I2CBus, cfg.Hat.DisplayAddr)
		if err != nil {
			drv.Close()
			return nil, nil, fmt.Errorf("open display: %w", err)
		}
	}

	hat, err := feedback.NewHat(feedback.HatConfig{
		DisplayBrightness: cfg.Hat.DisplayBrightness,
		StripLength:       cfg.Hat.StripLength,
		SPISpeedHz:        cfg.Hat.SPISpeedHz,
		RGB: gpio.RGBLEDs{
			Red:   cfg.Hat.RGBLEDPins.Red,
			Green: cfg.Hat.RGBLEDPins.Green,
			Blue:  cfg.Hat.RGBLEDPins.Blue,
		},
	}, drv, bus)
	if err != nil {
		drv.Close()
		return nil, nil, err
	}

	closeHW := func() {
		if err := hat.Close(); err != nil {
			debug.ErrorMsg("Error closing Rainbow HAT", err)
		}
		if err := drv.Close(); err != nil {
			debug.ErrorMsg("Error closing GPIO driver", err)
		}
	}
	return hat, closeHW, nil
}

// newMQTT dials the configured broker.
func newMQTT(cfg *config.Config) (*events.MQTT, error) {
	codec, err := events.CodecFor(cfg.Events.MQTT.Encoding)
	if err != nil {
		return nil, err
	}
	return events.DialMQTT(events.MQTTConfig{
		Broker:   cfg.Events.MQTT.Broker,
		ClientID: cfg.Events.MQTT.ClientID,
		Username: cfg.Events.MQTT.Username,
		Password: cfg.Events.MQTT.Password,
		Topic:    cfg.Events.MQTT.Topic,
		QoS:      byte(cfg.Events.MQTT.QoS),
		Codec:    codec,
	})
}

// webPortFlag implements pflag.Value for --web: 0 = disabled, --web → 8080, --web=8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int { return w.val }
