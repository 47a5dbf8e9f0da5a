// Package detect runs object detection on frames of the active view.
package detect

import (
	"context"
	"time"

	"github.com/dkeye/Vision/internal/domain"
)

// Frame is one assembled video frame from a remote member.
type Frame struct {
	Remote    domain.MemberID
	Timestamp uint32
	Data      []byte
	// Received is when the first packet of the frame arrived.
	Received time.Time
}

type Detection struct {
	Label string    `json:"label"`
	Score float64   `json:"score"`
	Box   [4]uint16 `json:"box"`
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]Detection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, f Frame) ([]Detection, error)

func (fn DetectorFunc) Detect(ctx context.Context, f Frame) ([]Detection, error) {
	return fn(ctx, f)
}

// Nop reports nothing. It keeps the frame path running without a model.
type Nop struct{}

func (Nop) Detect(context.Context, Frame) ([]Detection, error) { return nil, nil }
