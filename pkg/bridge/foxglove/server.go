// Package foxglove serves received orientation readings to Foxglove Studio over
// the foxglove.websocket.v1 protocol.
package foxglove

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quatstream/pkg/engine"
	"quatstream/pkg/protocol"
)

type Server struct {
	cfg          Config
	hub          *engine.Hub
	sessionID    string
	errorHandler func(error)
	clients      map[*client]struct{}
	mu           sync.RWMutex
}

type Option func(*Server)

func WithErrorHandler(fn func(error)) Option {
	return func(s *Server) {
		if fn != nil {
			s.errorHandler = fn
		}
	}
}

func NewServer(cfg Config, hub *engine.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg.withDefaults(),
		hub:       hub,
		sessionID: uuid.NewString(),
		clients:   make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves websocket clients on cfg.WSAddr and forwards hub readings to
// them until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.WSAddr,
		Handler: s.Handler(),
	}

	go s.Broadcast(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeClients()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("foxglove listen %s: %w", s.cfg.WSAddr, err)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// Broadcast forwards hub readings to subscribed clients until ctx is done or
// the hub stops.
func (s *Server) Broadcast(ctx context.Context) {
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-sub:
			if !ok {
				return
			}
			s.publishReading(reading)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.handleError(fmt.Errorf("websocket upgrade: %w", err))
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	defer func() {
		c.close()
		s.removeClient(c)
	}()

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		return
	}

	go c.writeLoop()
	c.readLoop(s.supportedChannels())
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	return map[uint64]struct{}{
		s.cfg.ChannelID:          {},
		s.cfg.TransformChannelID: {},
	}
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		SessionID:          s.sessionID,
	}
}

func (s *Server) advertise() AdvertiseMsg {
	return AdvertiseMsg{Op: OpAdvertise, Channels: []Channel{
		{
			ID:             s.cfg.ChannelID,
			Topic:          s.cfg.Topic,
			Encoding:       s.cfg.Encoding,
			SchemaName:     s.cfg.SchemaName,
			SchemaEncoding: s.cfg.SchemaEncoding,
			Schema:         s.cfg.Schema,
		},
		{
			ID:             s.cfg.TransformChannelID,
			Topic:          s.cfg.TransformTopic,
			Encoding:       "json",
			SchemaName:     TransformSchemaName,
			SchemaEncoding: "jsonschema",
			Schema:         s.cfg.TransformSchema,
		},
	}}
}

func (s *Server) publishReading(reading protocol.Reading) {
	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.publishJSONToChannel(s.cfg.ChannelID, ts, readingMessage(reading, ts))
	s.publishJSONToChannel(s.cfg.TransformChannelID, ts, s.transformFromReading(reading, ts))
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		// NaN and infinite components have no JSON form.
		s.handleError(fmt.Errorf("encode channel %d: %w", channelID, err))
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func readingMessage(reading protocol.Reading, ts time.Time) ReadingMessage {
	return ReadingMessage{
		TS:     ts.UTC().Format(time.RFC3339Nano),
		Remote: reading.Remote,
		W:      reading.Sample.W,
		X:      reading.Sample.X,
		Y:      reading.Sample.Y,
		Z:      reading.Sample.Z,
		RawHex: hex.EncodeToString(reading.Raw[:]),
	}
}

func (s *Server) transformFromReading(reading protocol.Reading, ts time.Time) FrameTransformsMessage {
	q := reading.Sample
	return FrameTransformsMessage{Transforms: []FrameTransformMessage{{
		Timestamp:     FrameTime{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())},
		ParentFrameID: s.cfg.ParentFrameID,
		ChildFrameID:  s.cfg.FrameID,
		Rotation:      Quaternion{X: q.X, Y: q.Y, Z: q.Z, W: q.W},
	}}}
}

func (s *Server) handleError(err error) {
	if s.errorHandler != nil {
		s.errorHandler(err)
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}
