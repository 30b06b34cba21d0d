package smile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/hw/camera"
	"github.com/google/generative-ai-go/genai"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const geminiPrompt = `Detect every human face in this image.
For each face return its bounding box in pixels and the probability (0.0 to 1.0) that the person is smiling.
Answer only with JSON of the form {"faces":[{"smiling_probability":0.0,"box":{"x":0,"y":0,"w":0,"h":0}}]}.
Answer {"faces":[]} if there is no face.`

// GeminiConfig configures the remote oracle.
type GeminiConfig struct {
	APIKey  string
	Model   string
	MaxRPS  float64       // request budget, 0 = unlimited
	Timeout time.Duration // per evaluation
}

// generator is the subset of *genai.GenerativeModel used here.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini is a remote Oracle backed by a Gemini vision model.
// Each call is a single attempt; failures are reported, never retried.
type Gemini struct {
	client  *genai.Client
	model   generator
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGemini connects to the Gemini API.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	g := newGemini(model, cfg.MaxRPS, cfg.Timeout)
	g.client = client
	debug.Verbose("Smile: gemini oracle using %s (max %.1f req/s)", cfg.Model, cfg.MaxRPS)
	return g, nil
}

func newGemini(model generator, maxRPS float64, timeout time.Duration) *Gemini {
	limit := rate.Inf
	if maxRPS > 0 {
		limit = rate.Limit(maxRPS)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gemini{
		model:   model,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
}

func (g *Gemini) Evaluate(ctx context.Context, frame camera.Frame) ([]FaceObservation, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.model.GenerateContent(ctx, genai.Text(geminiPrompt), genai.ImageData("jpeg", frame.Data))
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	debug.Verbose("Smile: gemini answered frame %d in %v", frame.Seq, time.Since(start).Round(time.Millisecond))

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	text, ok := res.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected part %T", ErrInvalidResponse, res.Candidates[0].Content.Parts[0])
	}
	return parseFaces(string(text))
}

func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

type geminiAnswer struct {
	Faces []FaceObservation `json:"faces"`
}

// parseFaces decodes the model answer. Models sometimes wrap JSON in a
// markdown fence even when asked not to.
func parseFaces(text string) ([]FaceObservation, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var ans geminiAnswer
	if err := json.Unmarshal([]byte(text), &ans); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	for _, f := range ans.Faces {
		if err := checkProbability(f.SmilingProbability); err != nil {
			return nil, err
		}
	}
	if ans.Faces == nil {
		ans.Faces = []FaceObservation{}
	}
	return ans.Faces, nil
}
