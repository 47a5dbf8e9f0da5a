// Package media acquires the local outbound stream.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
)

const vp8FourCC = "VP80"

// LocalStream is the outbound stream offered to every peer. A stream with no
// tracks only receives.
type LocalStream struct {
	id     string
	path   string
	track  *webrtc.TrackLocalStaticSample
	header *ivfreader.IVFFileHeader
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) LocalTracks() []webrtc.TrackLocal {
	if s.track == nil {
		return nil
	}
	return []webrtc.TrackLocal{s.track}
}

// Acquire opens the IVF video source at path. An empty path yields a
// receive-only stream. A source that cannot be read is reported as
// domain.ErrMediaAccessDenied.
func Acquire(path string) (*LocalStream, error) {
	id := "vision-" + uuid.NewString()
	if path == "" {
		log.Info().Str("module", "media").Msg("no video source, receive only")
		return &LocalStream{id: id}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAccessDenied, err)
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAccessDenied, err)
	}
	if header.FourCC != vp8FourCC {
		return nil, fmt.Errorf("%w: unsupported codec %q", domain.ErrMediaAccessDenied, header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
	if err != nil {
		return nil, err
	}

	log.Info().Str("module", "media").Str("source", path).
		Uint16("width", header.Width).Uint16("height", header.Height).Msg("video source ready")
	return &LocalStream{id: id, path: path, track: track, header: header}, nil
}

// Play writes the source into the track until ctx is done, looping at EOF.
func (s *LocalStream) Play(ctx context.Context) error {
	if s.track == nil {
		<-ctx.Done()
		return nil
	}
	for {
		err := s.playOnce(ctx)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *LocalStream) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaAccessDenied, err)
	}
	defer f.Close()

	reader, _, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.frameDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := s.track.WriteSample(pionmedia.Sample{Data: frame, Duration: s.frameDuration()}); err != nil {
			return err
		}
	}
}

const defaultFrameDuration = 33 * time.Millisecond

// frameDuration is one timebase tick, never zero.
func (s *LocalStream) frameDuration() time.Duration {
	if s.header == nil || s.header.TimebaseDenominator == 0 {
		return defaultFrameDuration
	}
	d := time.Duration(float64(time.Second) * float64(s.header.TimebaseNumerator) / float64(s.header.TimebaseDenominator))
	if d <= 0 {
		return defaultFrameDuration
	}
	return d
}
