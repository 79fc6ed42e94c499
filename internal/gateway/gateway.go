// Package gateway wires the client-facing HTTP surface: the
// /v1/transcribe upgrade plus health/readiness routes.
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/speechgw/internal/audio"
	"github.com/rapidaai/speechgw/internal/auth"
	"github.com/rapidaai/speechgw/internal/dispatcher"
	"github.com/rapidaai/speechgw/internal/logging"
	"github.com/rapidaai/speechgw/internal/workerpool"
)

const expectedContentType = "audio/ogg; codecs=vorbis"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway holds the dependencies every session needs; Register attaches
// its routes to a gin engine.
type Gateway struct {
	logger   logging.Logger
	auth     *auth.Resolver
	pool     *workerpool.Pool
	isReady  func() bool
}

// New creates a Gateway; call Register to attach its routes.
func New(logger logging.Logger, resolver *auth.Resolver, pool *workerpool.Pool, isReady func() bool) *Gateway {
	return &Gateway{logger: logger, auth: resolver, pool: pool, isReady: isReady}
}

// Register attaches this gateway's routes to engine.
func (g *Gateway) Register(engine *gin.Engine) {
	engine.GET("/healthz", g.healthz)
	engine.GET("/readiness", g.readiness)
	engine.GET("/v1/transcribe", g.transcribe)
}

func (g *Gateway) healthz(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (g *Gateway) readiness(c *gin.Context) {
	if g.isReady != nil && !g.isReady() {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	c.Status(http.StatusOK)
}

// transcribe validates content-type/tariff at establishment (no
// allocation is created on rejection), upgrades the connection, then
// drives the session.
func (g *Gateway) transcribe(c *gin.Context) {
	if c.GetHeader("Content-Type") != expectedContentType {
		c.String(http.StatusBadRequest, "unsupported content type")
		return
	}
	tariff := c.Query("tariff")
	if tariff == "" {
		c.String(http.StatusBadRequest, "missing tariff")
		return
	}
	language := c.Query("lang")

	principal, err := g.auth.Resolve(c.GetHeader("Authorization"))
	if err != nil {
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	var terminator []byte
	if t := c.GetHeader("X-Blobfish-Terminator"); t != "" {
		terminator = []byte(t)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debugf("gateway: websocket upgrade failed: %v", err)
		return
	}

	sess := newClientSession(g.logger, g.pool, conn, principal.UserID, tariff, language, terminator)
	ctx := c.Request.Context()
	if err := sess.run(ctx); err != nil && !isNormalClose(err) {
		g.logger.Debugf("gateway: transcribe session ended: %v", err)
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "use of closed network connection")
}

// clientSession binds one upgraded socket to the processor/dispatcher
// pipeline.
type clientSession struct {
	logger     logging.Logger
	pool       *workerpool.Pool
	conn       *websocket.Conn
	userID     uint64
	tariff     string
	language   string
	terminator []byte
}

func newClientSession(logger logging.Logger, pool *workerpool.Pool, conn *websocket.Conn, userID uint64, tariff, language string, terminator []byte) *clientSession {
	return &clientSession{
		logger:     logger,
		pool:       pool,
		conn:       conn,
		userID:     userID,
		tariff:     tariff,
		language:   language,
		terminator: terminator,
	}
}

// ReadMessage implements audio.ClientSource.
func (s *clientSession) ReadMessage() (audio.ClientMessage, error) {
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		return audio.ClientMessage{}, err
	}
	if msgType != websocket.BinaryMessage {
		return audio.ClientMessage{Kind: audio.ClientOther}, nil
	}
	return audio.ClientMessage{Kind: audio.ClientBinary, Data: data}, nil
}

// WriteText implements dispatcher.ClientSink.
func (s *clientSession) WriteText(ctx context.Context, line []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, line)
}

// segmenterSink adapts a SegmentHandle's PCM channel to audio.SegmenterSink.
type segmenterSink struct {
	pcm chan<- []byte
}

func (s *segmenterSink) Send(ctx context.Context, data []byte) error {
	select {
	case s.pcm <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transcriberAdapter adapts Pool.Transcribe to dispatcher.Transcriber.
type transcriberAdapter struct {
	pool   *workerpool.Pool
	userID uint64
	tariff string
}

func (t *transcriberAdapter) Transcribe(ctx context.Context, clip []byte, language, prompt string) (string, error) {
	return t.pool.Transcribe(ctx, t.userID, t.tariff, clip, language, prompt)
}

func (s *clientSession) run(ctx context.Context) error {
	defer s.conn.Close()

	handle, err := s.pool.Segment(ctx, s.userID, s.tariff, s.terminator)
	if err != nil {
		return err
	}

	sessCtx, cancelSess := context.WithCancel(ctx)
	defer cancelSess()

	// The segmenter allocation is only released once handle.Run itself
	// returns, so node load and the user's allocated fee keep reflecting
	// the allocation for as long as the uplink/downlink are actually
	// live, per the worker-pool facade's contract.
	sessDone := make(chan error, 1)
	go func() {
		defer handle.Release()
		sessDone <- handle.Run(sessCtx)
	}()

	ring := audio.NewRing(audio.RingCapacitySamples)
	meter := audio.NewMeter()

	procDone := make(chan error, 1)
	go func() {
		proc := audio.NewProcessor(s.logger, s.terminator)
		err := proc.Run(sessCtx, s, &segmenterSink{pcm: handle.PCM}, ring, meter)
		close(handle.PCM)
		procDone <- err
	}()

	disp := dispatcher.New(s.logger, ring, meter, &transcriberAdapter{pool: s.pool, userID: s.userID, tariff: s.tariff}, s, s.language)
	dispErr := disp.Run(sessCtx, handle.Items)

	// The dispatcher has stopped, normally or fatally. Close the client
	// sink and cancel the session context so the processor and the
	// segmenter link wind down, then wait for both to actually finish
	// before returning.
	s.conn.Close()
	cancelSess()

	procErr := <-procDone
	sessErr := <-sessDone

	if dispErr != nil {
		return dispErr
	}
	if procErr != nil {
		return procErr
	}
	return sessErr
}
