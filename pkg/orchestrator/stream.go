package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shepherdhq/console/pkg/event"
	"github.com/shepherdhq/console/pkg/utils"
)

// Flow channel names pushed by the orchestrator.
const (
	FlowChannelCommunication = "communication"
	FlowChannelMemory        = "memory"
)

// FlowSubscriber consumes the orchestrator's communication-flow and
// memory-flow WebSocket channels and republishes their messages on the local
// event emitter for display surfaces. The session core never depends on
// these channels; a missing upstream only costs the GUI its live panels.
type FlowSubscriber struct {
	baseURL string
	emitter *event.Emitter
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// NewFlowSubscriber creates a subscriber for the orchestrator at baseURL
// (http/https; converted to ws/wss internally).
func NewFlowSubscriber(baseURL string, emitter *event.Emitter) *FlowSubscriber {
	if emitter == nil {
		emitter = event.Global()
	}
	return &FlowSubscriber{
		baseURL: baseURL,
		emitter: emitter,
		logger:  utils.GetLogger(),
	}
}

// Start launches one reconnecting reader per channel. It returns immediately.
func (s *FlowSubscriber) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, channel := range []string{FlowChannelCommunication, FlowChannelMemory} {
		go s.readLoop(ctx, channel)
	}
}

// Stop tears down all channel readers.
func (s *FlowSubscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *FlowSubscriber) wsURL(channel string) string {
	url := s.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/api/ws/" + channel + "-flow"
}

func (s *FlowSubscriber) readLoop(ctx context.Context, channel string) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL(channel), nil)
		if err != nil {
			s.logger.Debug("Flow channel unavailable", "channel", channel, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		s.logger.Info("Flow channel connected", "channel", channel)
		backoff = time.Second

		// Close the socket when the context ends so ReadMessage unblocks.
		connDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-connDone:
			}
		}()

		s.drain(conn, channel)
		close(connDone)
		_ = conn.Close()
	}
}

func (s *FlowSubscriber) drain(conn *websocket.Conn, channel string) {
	conn.SetReadLimit(1 << 20)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			s.logger.Debug("Discarding malformed flow message", "channel", channel, "error", err)
			continue
		}
		s.emitter.Emit(event.FlowMessage{Channel: channel, Payload: payload})
	}
}
