package api

import (
	"encoding/json"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/victornm/trivia/internal/errors"
)

const (
	MessageGame         = "game"
	MessageAnswer       = "answer"
	MessageAnswerResult = "answer_result"
	MessageError        = "error"

	sendBuffer = 16
)

type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type OutboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// LiveGame streams game snapshots over a websocket. With ?player=<initials> the connection may also send
// answer frames: {"type":"answer","payload":{"option_index":0,"response_time_ms":1200}}.
func (a *API) LiveGame(c *gin.Context) {
	ctx := c.Request.Context()
	gameID := c.Param("id")
	player := c.Query("player")

	updates, cancel, err := a.gs.Subscribe(ctx, gameID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer cancel()

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "ws: upgrade failed", "game_id", gameID, "error", err)
		return
	}
	defer conn.Close()

	send := make(chan OutboundMessage, sendBuffer)
	closing := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only this goroutine writes to conn. After a failed write it keeps draining send.
	go func() {
		defer close(writerDone)
		failed := false
		for m := range send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(m); err != nil {
				slog.WarnContext(ctx, "ws: write failed", "game_id", gameID, "error", err)
				failed = true
				_ = conn.Close()
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					// Game evicted.
					_ = conn.Close()
					return
				}
				select {
				case send <- OutboundMessage{Type: MessageGame, Payload: snap}:
				case <-closing:
					return
				}
			case <-closing:
				return
			}
		}
	}()

	for {
		var in InboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			break
		}

		send <- a.handleInbound(c, gameID, player, in)
	}

	close(closing)
	<-updatesDone
	close(send)
	<-writerDone
}

func (a *API) handleInbound(c *gin.Context, gameID, player string, in InboundMessage) OutboundMessage {
	if in.Type != MessageAnswer {
		return errorMessage(errors.InvalidArgument("ws: unsupported message type %q", in.Type))
	}

	if player == "" {
		return errorMessage(errors.InvalidArgument("ws: connect with ?player=<initials> to answer"))
	}

	var req SubmitAnswerRequest
	if err := json.Unmarshal(in.Payload, &req); err != nil {
		return errorMessage(errors.InvalidArgument("ws: malformed answer: %v", err))
	}
	req.Player = player

	gr, err := req.toGame(gameID)
	if err != nil {
		return errorMessage(err)
	}

	resp, err := a.gs.SubmitAnswer(c.Request.Context(), gr)
	if err != nil {
		return errorMessage(err)
	}

	return OutboundMessage{Type: MessageAnswerResult, Payload: resp}
}

func errorMessage(err error) OutboundMessage {
	return OutboundMessage{Type: MessageError, Payload: errors.Convert(err)}
}
