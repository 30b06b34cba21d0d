//go:build opencv

package smile

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/hw/camera"
	"gocv.io/x/gocv"
)

// Cascade is an on-device Oracle using OpenCV Haar cascades.
//
// A Haar cascade only answers yes/no, so the smile detector is run with an
// increasing minNeighbors requirement over the lower half of each face. The
// probability is the fraction of levels that still detect a smile.
type Cascade struct {
	mu      sync.Mutex // cascades aren't safe for concurrent use
	faces   gocv.CascadeClassifier
	smiles  gocv.CascadeClassifier
	levels  []int
	minFace int
}

func newCascade(cfg CascadeConfig) (Oracle, error) {
	faces := gocv.NewCascadeClassifier()
	if !faces.Load(cfg.FaceModel) {
		faces.Close()
		return nil, fmt.Errorf("load face cascade %s", cfg.FaceModel)
	}
	smiles := gocv.NewCascadeClassifier()
	if !smiles.Load(cfg.SmileModel) {
		faces.Close()
		smiles.Close()
		return nil, fmt.Errorf("load smile cascade %s", cfg.SmileModel)
	}

	debug.Verbose("Smile: cascade oracle ready (%d levels)", len(cfg.NeighborLevels))
	return &Cascade{faces: faces, smiles: smiles, levels: cfg.NeighborLevels, minFace: cfg.MinFace}, nil
}

func (c *Cascade) Evaluate(ctx context.Context, frame camera.Frame) ([]FaceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", frame.Seq, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decode frame %d: empty image", frame.Seq)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	rects := c.faces.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(c.minFace, c.minFace), image.Point{})

	out := make([]FaceObservation, 0, len(rects))
	for _, r := range rects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Mouth sits in the lower half of the face.
		mouth := image.Rect(r.Min.X, r.Min.Y+r.Dy()/2, r.Max.X, r.Max.Y)
		roi := gray.Region(mouth)
		p := sweep(c.levels, func(n int) bool {
			return len(c.smiles.DetectMultiScaleWithParams(roi, 1.7, n, 0, image.Pt(r.Dx()/5, r.Dy()/10), image.Point{})) > 0
		})
		roi.Close()

		out = append(out, FaceObservation{
			SmilingProbability: p,
			Box:                Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
		})
	}
	return out, nil
}

func (c *Cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faces.Close()
	c.smiles.Close()
	return nil
}
