package capture

import (
	"context"

	"go.uber.org/zap"

	"github.com/netprobe/ipcounterd/internal/store"
)

// Loop reads frames from a FrameSource and updates whichever store is
// currently active in pair. It never touches the retired store and never
// blocks on anything but the source itself, so a slow sink or timer can
// never stall packet processing.
type Loop struct {
	classifier *Classifier
	pair       *store.Pair
	log        *zap.SugaredLogger

	dropped uint64
}

// NewLoop builds a capture loop over pair.
func NewLoop(pair *store.Pair, log *zap.SugaredLogger) *Loop {
	return &Loop{
		classifier: NewClassifier(),
		pair:       pair,
		log:        log,
	}
}

// Run consumes src until it closes or ctx is canceled.
func (l *Loop) Run(ctx context.Context, src FrameSource) error {
	frames, err := src.Frames(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			l.process(frame)
		}
	}
}

func (l *Loop) process(frame Frame) {
	src, dst, vlan, frameLen, ok := l.classifier.Classify(frame.Data)
	if !ok {
		l.dropped++
		return
	}

	l.pair.Active().Add(src, dst, vlan, frameLen)
}

// Dropped returns the number of frames classified as not worth counting
// (non-IPv4, malformed, or a VLAN tag hiding a non-IPv4 payload).
func (l *Loop) Dropped() uint64 {
	return l.dropped
}
