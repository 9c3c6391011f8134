package transport

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/agentmesh/agentmesh/internal/hub/msgcodec"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

const maxFrameBytes = 1 << 20 // 1 MiB after decompression

// RPC serves POST /api/rpc?sessionId=...: one upstream frame per
// request. Most operations answer synchronously in the response body;
// wait_for_mentions answers with an ack and resolves over the push
// channel.
func (h *Handler) RPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeErrorFrame(w, http.StatusBadRequest, "", wire.Errorf(wire.ErrProtocol, "sessionId is required"))
		return
	}

	_, sess, _, ok := h.reg.Lookup(sessionID)
	if !ok {
		writeErrorFrame(w, http.StatusNotFound, "", wire.Errorf(wire.ErrTransport, "session not found"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		writeErrorFrame(w, http.StatusBadRequest, "", wire.Errorf(wire.ErrProtocol, "read body: %v", err))
		return
	}
	if r.Header.Get("Content-Encoding") == msgcodec.ContentEncoding {
		body, err = msgcodec.Decompress(body)
		if err != nil {
			writeErrorFrame(w, http.StatusBadRequest, "", wire.Errorf(wire.ErrProtocol, "decompress body: %v", err))
			return
		}
	}

	frame, err := wire.Decode(body)
	if err != nil {
		// A frame without the kind discriminator is a protocol error
		// and terminates the session.
		slog.Warn("malformed frame, terminating session", "session", sessionID, "error", err)
		sess.Close(wire.ReasonProtocolError)
		writeErrorFrame(w, http.StatusBadRequest, "", err)
		return
	}

	resp := h.svc.Handle(sess, frame)
	writeFrame(w, http.StatusOK, resp)
}

func writeFrame(w http.ResponseWriter, status int, f *wire.Frame) {
	data, err := f.Encode()
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeErrorFrame(w http.ResponseWriter, status int, corrID string, err error) {
	we, ok := err.(*wire.Error)
	if !ok {
		we = wire.Errorf(wire.ErrProtocol, "%v", err)
	}
	f, ferr := wire.New(wire.KindError, corrID, we)
	if ferr != nil {
		http.Error(w, we.Error(), status)
		return
	}
	writeFrame(w, status, f)
}
