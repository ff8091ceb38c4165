package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	wsProtocol   = "posehub.v1"
	wsAuthPrefix = "posehub.auth."
)

// wsAccessToken pulls the access token out of the handshake. Browsers cannot
// set an Authorization header on WebSocket upgrades, so clients smuggle the
// token in a Sec-WebSocket-Protocol entry of the form "posehub.auth.<token>".
// The ?access_token query form is deprecated: tokens in URLs end up in proxy
// and server logs.
func wsAccessToken(r *http.Request) (string, bool) {
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, proto := range strings.Split(header, ",") {
			proto = strings.TrimSpace(proto)
			if strings.HasPrefix(proto, wsAuthPrefix) {
				return proto[len(wsAuthPrefix):], true
			}
		}
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// handleWS upgrades to WebSocket after verifying the access token carried in
// the handshake. The connection delivers server-side session events, starting
// with a hello frame; the read loop exists only to notice the peer going away.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	token, ok := wsAccessToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}
	principalID, err := a.sessions.VerifyAccess(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsProtocol},
	})
	if err != nil {
		a.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	ctx := r.Context()
	hello := map[string]any{
		"type":         "hello",
		"principal_id": principalID,
		"server_time":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		return
	}

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
