package modules

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/emberproxy/ember/internal/httpcore"
)

// upgrader mirrors gorilla/websocket's standard zero-config Upgrader;
// buffer sizes match its documented defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeContent implements the `Upgrade:` handshake content handler:
// once the handshake completes, the HTTP engine stops
// owning the connection's byte stream, the same way nginx treats
// post-upgrade bytes as an opaque relayed stream. w and req are the
// net/http values the connection layer hands in alongside the Request it
// built; WSConn stashes the resulting *websocket.Conn for the proxy layer
// to relay frames from/to the matched upstream.
func UpgradeContent(w http.ResponseWriter, req *http.Request) httpcore.Handler {
	return func(r *httpcore.Request) (httpcore.Result, int) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.Finalize(http.StatusBadRequest)
			return httpcore.ResultDone, 0
		}
		r.SetVar("upgrade", "websocket")
		r.Upstream = &wsConnHolder{conn: conn}
		r.Finalize(http.StatusSwitchingProtocols)
		return httpcore.ResultDone, 0
	}
}

// wsConnHolder is the minimal r.Upstream payload an upgraded request
// carries; the proxy layer type-asserts it to relay frames.
type wsConnHolder struct {
	conn *websocket.Conn
}

func (h *wsConnHolder) Conn() *websocket.Conn { return h.conn }

func (h *wsConnHolder) VarAddr() string {
	if h.conn == nil {
		return ""
	}
	return h.conn.RemoteAddr().String()
}

func (h *wsConnHolder) VarStatus() string { return "101" }
