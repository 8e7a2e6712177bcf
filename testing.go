package signaling

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// TestEchoHandler provides a sample signaling endpoint that writes every
// frame it receives back to the client, keeping the frame type.
//
// If an error occurs while upgrading the websocket, it will panic.
func TestEchoHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		panic(err)
	}

	go func() {
		defer c.Close()
		for {
			mt, p, rerr := c.ReadMessage()
			if rerr != nil {
				return
			}
			if werr := c.WriteMessage(mt, p); werr != nil {
				return
			}
		}
	}()
}

// TestGreetingHandler provides a sample signaling endpoint that sends a
// text frame followed by a binary frame as soon as the socket opens, then
// echoes like TestEchoHandler.
//
// If an error occurs while upgrading the websocket, it will panic.
func TestGreetingHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		panic(err)
	}

	go func() {
		defer c.Close()
		if werr := c.WriteMessage(websocket.TextMessage, []byte("WELCOME")); werr != nil {
			return
		}
		if werr := c.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); werr != nil {
			return
		}
		for {
			mt, p, rerr := c.ReadMessage()
			if rerr != nil {
				return
			}
			if werr := c.WriteMessage(mt, p); werr != nil {
				return
			}
		}
	}()
}

// TestCloseHandler provides a sample signaling endpoint that closes the
// socket normally right after the upgrade.
//
// If an error occurs while upgrading the websocket, it will panic.
func TestCloseHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		panic(err)
	}

	go func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

		// Wait for the client to answer the close frame before hanging up.
		for {
			if _, _, rerr := c.ReadMessage(); rerr != nil {
				break
			}
		}
		_ = c.Close()
	}()
}

// TestAbortHandler provides a sample signaling endpoint that drops the TCP
// connection right after the upgrade, without a close handshake.
//
// If an error occurs while upgrading the websocket, it will panic.
func TestAbortHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		panic(err)
	}

	_ = c.UnderlyingConn().Close()
}
