package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/SmileGo/internal/config"
	"github.com/cjeanneret/SmileGo/internal/hw/camera"
	"github.com/cjeanneret/SmileGo/internal/logic/feedback"
	"github.com/cjeanneret/SmileGo/internal/logic/smile"
)

// loadTestConfig writes content to a temporary configs/test.yaml and loads it.
func loadTestConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	cfgDir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

const devYAML = `
camera:
  type: synthetic
  frame_interval_ms: 5
smile:
  oracle: scripted
  debounce_ms: 10
  scripted:
    probabilities: [[0.95], [0.2], []]
hat:
  enabled: true
defaults:
  mock_gpio: true
`

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
	if w.Type() != "port" {
		t.Errorf("Type() = %q", w.Type())
	}
}

func TestRunCmd_WebFlagWithoutValue(t *testing.T) {
	f := runCmd.Flags().Lookup("web")
	if f == nil {
		t.Fatal("run has no --web flag")
	}
	if f.NoOptDefVal != "8080" {
		t.Errorf("NoOptDefVal = %q, want 8080", f.NoOptDefVal)
	}
}

// ---------- overrides ----------

func TestRunOptions_Overrides(t *testing.T) {
	o := runOptions{threshold: 0.8, debounce: 750 * time.Millisecond, width: 640}
	got := o.overrides()
	want := config.Overrides{Threshold: 0.8, DebounceMs: 750, WidthPx: 640}
	if got != want {
		t.Errorf("overrides() = %+v, want %+v", got, want)
	}
	if (runOptions{}).overrides() != (config.Overrides{}) {
		t.Error("unset flags should produce zero overrides")
	}
}

// ---------- factories ----------

func TestNewSource(t *testing.T) {
	cfg := loadTestConfig(t, devYAML)
	cases := map[string]string{
		"synthetic": "*camera.Synthetic",
		"v4l2":      "*camera.V4L2",
		"opencv":    "*camera.OpenCV",
	}
	for typ, want := range cases {
		c := *cfg
		c.Camera.Type = typ
		src, err := newSource(&c)
		if errors.Is(err, camera.ErrUnsupported) {
			t.Logf("newSource(%s): %v", typ, err)
			continue
		}
		if err != nil {
			t.Fatalf("newSource(%s): %v", typ, err)
		}
		if got := fmt.Sprintf("%T", src); got != want {
			t.Errorf("newSource(%s) = %s, want %s", typ, got, want)
		}
	}

	c := *cfg
	c.Camera.Type = "nikon_d90_gpio"
	if _, err := newSource(&c); err == nil {
		t.Error("expected error for unsupported camera type")
	}
}

func TestNewOracle(t *testing.T) {
	cfg := loadTestConfig(t, devYAML)
	o, err := newOracle(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newOracle: %v", err)
	}
	if _, ok := o.(*smile.Scripted); !ok {
		t.Errorf("got %T, want *smile.Scripted", o)
	}

	c := *cfg
	c.Smile.Oracle = "cascade"
	c.Smile.Cascade.FaceModel = filepath.Join(t.TempDir(), "missing.xml")
	if _, err := newOracle(context.Background(), &c); err == nil {
		t.Error("expected error for missing cascade model")
	}

	c.Smile.Oracle = "vision"
	if _, err := newOracle(context.Background(), &c); err == nil {
		t.Error("expected error for unsupported oracle")
	}
}

func TestNewSink(t *testing.T) {
	cfg := loadTestConfig(t, devYAML)

	sink, closeHW, err := newSink(cfg)
	if err != nil {
		t.Fatalf("newSink: %v", err)
	}
	if _, ok := sink.(*feedback.Hat); !ok {
		t.Errorf("mock HAT: got %T, want *feedback.Hat", sink)
	}
	if err := sink.SetDisplayText("1"); err != nil {
		t.Errorf("SetDisplayText on mock HAT: %v", err)
	}
	closeHW()

	c := *cfg
	c.Hat.Enabled = false
	sink, closeHW, err = newSink(&c)
	if err != nil {
		t.Fatalf("newSink: %v", err)
	}
	if _, ok := sink.(feedback.LogSink); !ok {
		t.Errorf("disabled HAT: got %T, want feedback.LogSink", sink)
	}
	closeHW()
}

// ---------- commands ----------

func TestRunFlash_MockHAT(t *testing.T) {
	cfg := loadTestConfig(t, devYAML)
	if err := runFlash(cfg, "TEST"); err != nil {
		t.Fatalf("runFlash: %v", err)
	}
}

func TestRunCounter_StopsCleanlyOnCancel(t *testing.T) {
	cfg := loadTestConfig(t, devYAML)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runCounter(ctx, cfg, 0) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runCounter returned %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runCounter did not return after cancel")
	}
}

func TestRunCounter_FatalDeviceErrorIsReturned(t *testing.T) {
	cfg := loadTestConfig(t, devYAML)
	c := *cfg
	c.Camera.Type = "v4l2"
	c.Camera.Device = "/dev/video-smilego-missing"
	if _, err := newSource(&c); errors.Is(err, camera.ErrUnsupported) {
		t.Skipf("v4l2 not built in: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- runCounter(context.Background(), &c, 0) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for a missing camera")
		}
		if !errors.Is(err, camera.ErrNoDevice) {
			t.Errorf("err = %v, want camera.ErrNoDevice", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runCounter did not return on a fatal open error")
	}
}

func TestVersionCmd(t *testing.T) {
	if versionCmd.PersistentPreRunE(versionCmd, nil) != nil {
		t.Error("version should not need a config")
	}
}
