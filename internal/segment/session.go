package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/speechgw/internal/logging"
)

// InvalidationChecker reports whether the allocation backing a session
// has been invalidated. Satisfied by *ledger.Allocation.
type InvalidationChecker interface {
	CheckInvalidated(ctx context.Context) (bool, error)
}

// Params parameterizes the connection to the segmenter worker: the
// msd/nc/sr/st/wd query parameters and capability/terminator headers.
type Params struct {
	Address            string
	MaxSegmentDuration  float64
	WindowDuration      float64
	SampleRate          int
	CapabilityHeader    string
	Terminator          []byte
	InvalidationPeriod  time.Duration
}

// Session is a persistent segmenter worker link. Uplink forwards PCM
// from the audio processor; downlink parses Segment items and forwards
// them to the dispatcher.
type Session struct {
	logger logging.Logger
	conn   *websocket.Conn
	alloc  InvalidationChecker
	params Params

	pcmIn   <-chan []byte
	itemOut chan<- Item
}

// ErrSessionInvalidated is returned by Run when the uplink's periodic
// check finds the allocation invalidated mid-session.
var ErrSessionInvalidated = fmt.Errorf("segment: allocation invalidated")

// Dial opens the worker socket, setting the query parameters and
// capability/terminator headers the segmenter worker expects.
func Dial(ctx context.Context, logger logging.Logger, params Params, alloc InvalidationChecker, pcmIn <-chan []byte, itemOut chan<- Item) (*Session, error) {
	u, err := url.Parse(params.Address)
	if err != nil {
		return nil, fmt.Errorf("segment: invalid worker address: %w", err)
	}
	q := u.Query()
	q.Set("msd", strconv.FormatFloat(params.MaxSegmentDuration-params.WindowDuration, 'f', -1, 64))
	q.Set("nc", "1")
	q.Set("sr", strconv.Itoa(params.SampleRate))
	q.Set("st", "i16")
	q.Set("wd", strconv.FormatFloat(params.WindowDuration, 'f', -1, 64))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("X-Blobfish-Capabilities", params.CapabilityHeader)
	header.Set("Content-Type", "audio/lpcm")
	if len(params.Terminator) > 0 {
		header.Set("X-Blobfish-Terminator", string(params.Terminator))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("segment: failed to connect to segmenter worker: %w", err)
	}

	return &Session{
		logger:  logger,
		conn:    conn,
		alloc:   alloc,
		params:  params,
		pcmIn:   pcmIn,
		itemOut: itemOut,
	}, nil
}

// Run drives the uplink and downlink tasks until either terminates, the
// context is canceled, or the allocation invalidates.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.uplink(ctx) })
	g.Go(func() error { return s.downlink(ctx) })
	// The downlink blocks in ReadMessage, which does not observe ctx;
	// closing the socket once ctx is done unblocks it.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	return g.Wait()
}

// uplink forwards PCM messages to the worker, closes the worker side when
// pcmIn closes, and polls allocation validity on a 5-second timer.
func (s *Session) uplink(ctx context.Context) error {
	ticker := time.NewTicker(s.params.InvalidationPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			invalid, err := s.alloc.CheckInvalidated(ctx)
			if err != nil {
				s.logger.Errorf("segment: invalidation check failed: %v", err)
				continue
			}
			if invalid {
				s.logger.Infof("segment: allocation invalidated, closing session")
				return ErrSessionInvalidated
			}
		case chunk, ok := <-s.pcmIn:
			if !ok {
				return s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return fmt.Errorf("segment: uplink write failed: %w", err)
			}
		}
	}
}

// downlink reads text frames, parses each as a tagged Item, and forwards
// it to the dispatcher. Parse failure terminates the downlink.
func (s *Session) downlink(ctx context.Context) error {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("segment: downlink read failed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("segment: failed to parse segment item: %w", err)
		}

		select {
		case s.itemOut <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
