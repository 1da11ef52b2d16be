package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// EndMarker is the text frame that ends a streamed upload.
const EndMarker = "end"

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  DefaultChunkSize,
	WriteBufferSize: 4096,
}

type streamReply struct {
	Message string `json:"message"`
	ImageID string `json:"image_id,omitempty"`
}

// Stream accepts an upload over a WebSocket. Binary frames are chunks and a
// text frame carrying EndMarker completes the upload. Closing the socket
// before that aborts it.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	claim, rej := h.authorize(r)
	if rej != nil {
		h.reject(w, "", rej)
		return
	}

	conn, upgradeErr := upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		h.logger.Debug("WebSocket upgrade failed", "error", upgradeErr)
		return
	}
	defer func() {
		_ = conn.Close()
	}()
	conn.SetReadLimit(h.maxBytes)

	session := h.newSession(claim.Subject, time.Now())
	for {
		messageType, data, readErr := conn.ReadMessage()
		if readErr != nil {
			if errors.Is(readErr, websocket.ErrReadLimit) {
				session.fail(Reject(ReasonTooLarge, fmt.Errorf("frame exceeds %d bytes", h.maxBytes)))
				h.closeWithRejection(conn, session.Rejection())
				return
			}
			session.Abort(readErr)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if writeErr := session.Write(data); writeErr != nil {
				h.closeWithRejection(conn, asRejected(writeErr))
				return
			}
		case websocket.TextMessage:
			if string(data) != EndMarker {
				continue
			}
			result, finishErr := session.Finish(r.Context(), h.pipeline)
			if finishErr != nil {
				h.closeWithRejection(conn, asRejected(finishErr))
				return
			}
			h.closeWithSuccess(conn, result)
			return
		}
	}
}

func (h *Handler) closeWithRejection(conn *websocket.Conn, rej *RejectedError) {
	if rej == nil {
		return
	}
	body, err := replyMarshaler.Marshal(StatusOf(rej).Proto())
	if err == nil {
		h.writeFrame(conn, websocket.TextMessage, body)
	}
	code := websocket.ClosePolicyViolation
	switch rej.Reason {
	case ReasonTooLarge:
		code = websocket.CloseMessageTooBig
	case ReasonBadFormat:
		code = websocket.CloseUnsupportedData
	case ReasonStorageError, ReasonEncodeError:
		code = websocket.CloseInternalServerErr
	}
	h.writeFrame(conn, websocket.CloseMessage, websocket.FormatCloseMessage(code, string(rej.Reason)))
}

func (h *Handler) closeWithSuccess(conn *websocket.Conn, result *Result) {
	reply := streamReply{Message: SuccessMessage}
	if result != nil && result.Metadata != nil {
		reply.ImageID = result.Metadata.ImageID
	}
	if body, err := json.Marshal(reply); err == nil {
		h.writeFrame(conn, websocket.TextMessage, body)
	}
	h.writeFrame(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Handler) writeFrame(conn *websocket.Conn, messageType int, data []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(messageType, data); err != nil {
		h.logger.Debug("Failed to write WebSocket frame", "error", err)
	}
}
