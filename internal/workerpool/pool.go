// Package workerpool presents two operations, segment and transcribe,
// each gated by a ledger allocation held for the duration of the call
// (or, for segment, for the duration of the session).
package workerpool

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/speechgw/internal/ledger"
	"github.com/rapidaai/speechgw/internal/logging"
	"github.com/rapidaai/speechgw/internal/segment"
)

const (
	maxSegmentDuration = 30.0
	windowDuration     = 5.0
	invalidationPeriod = 5 * time.Second
	workerChannelCap   = 32
)

// Pool presents the two worker-pool facade operations over a Ledger and
// the external segmenter/transcriber workers.
type Pool struct {
	logger           logging.Logger
	ledger           *ledger.Ledger
	transcriberBase  string
	segmenterBase    string
	httpClient       *resty.Client
}

// New wires a Pool. transcriberBaseURL/segmenterBaseURL name the base
// addresses of the external segmenter and transcriber workers.
func New(logger logging.Logger, led *ledger.Ledger, segmenterBaseURL, transcriberBaseURL string) *Pool {
	return &Pool{
		logger:          logger,
		ledger:          led,
		segmenterBase:   segmenterBaseURL,
		transcriberBase: transcriberBaseURL,
		httpClient:      resty.New().SetBaseURL(transcriberBaseURL),
	}
}

// SegmentHandle bundles the session's PCM-in/item-out channels with its
// own goroutine lifecycle.
type SegmentHandle struct {
	PCM   chan<- []byte
	Items <-chan segment.Item
	Run   func(ctx context.Context) error
	alloc *ledger.Allocation
}

// Release drops the segmenter allocation. Callers must only call this
// once Run has returned, so the allocation stays live for the whole
// session rather than just the call that set it up.
func (h *SegmentHandle) Release() { h.alloc.Release() }

// Segment allocates a segmenter via the ledger and opens the streaming
// link.
func (p *Pool) Segment(ctx context.Context, userID uint64, tariff string, terminator []byte) (*SegmentHandle, error) {
	alloc, err := p.ledger.Allocate(ctx, userID, ledger.TaskTypeSegmenter, tariff)
	if err != nil {
		return nil, fmt.Errorf("workerpool: segmenter allocation failed: %w", err)
	}

	pcmCh := make(chan []byte, workerChannelCap)
	itemCh := make(chan segment.Item, workerChannelCap)

	params := segment.Params{
		Address:            p.segmenterBase + "/" + alloc.Address,
		MaxSegmentDuration: maxSegmentDuration,
		WindowDuration:     windowDuration,
		SampleRate:         16000,
		CapabilityHeader:   joinCapabilities(alloc.CapabilityTags),
		Terminator:         terminator,
		InvalidationPeriod: invalidationPeriod,
	}

	sess, err := segment.Dial(ctx, p.logger, params, alloc, pcmCh, itemCh)
	if err != nil {
		alloc.Release()
		return nil, fmt.Errorf("workerpool: failed to dial segmenter: %w", err)
	}

	handle := &SegmentHandle{
		PCM:   pcmCh,
		Items: itemCh,
		alloc: alloc,
		Run: func(ctx context.Context) error {
			defer close(itemCh)
			return sess.Run(ctx)
		},
	}
	return handle, nil
}

// Transcribe allocates a transcriber via the ledger, posts the clip plus
// metadata as a multi-part request, and awaits the transcribed text.
func (p *Pool) Transcribe(ctx context.Context, userID uint64, tariff string, clip []byte, language, prompt string) (string, error) {
	alloc, err := p.ledger.Allocate(ctx, userID, ledger.TaskTypeTranscriber, tariff)
	if err != nil {
		return "", fmt.Errorf("workerpool: transcriber allocation failed: %w", err)
	}
	defer alloc.Release()

	req := p.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Blobfish-Capabilities", joinCapabilities(alloc.CapabilityTags)).
		SetFileReader("file", "clip.wav", bytes.NewReader(clip))

	if language != "" {
		req.SetFormData(map[string]string{"language": language})
	}
	if prompt != "" {
		req.SetFormData(map[string]string{"prompt": prompt})
	}

	var out struct {
		Text string `json:"text"`
	}
	resp, err := req.SetResult(&out).Post(p.transcriberBase + "/" + alloc.Address + "/transcribe")
	if err != nil {
		return "", fmt.Errorf("workerpool: transcribe request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("workerpool: transcribe request returned status %d", resp.StatusCode())
	}
	return out.Text, nil
}

func joinCapabilities(tags []string) string {
	return strings.Join(tags, ",")
}
