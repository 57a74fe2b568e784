package gateway

import (
	"fmt"
	"time"

	"github.com/gofiber/contrib/v3/websocket"
)

// writeWait is the time allowed to write a single message to the peer.
const writeWait = 10 * time.Second

// runEgress is C8's dedicated egress task: the sole writer of conn's write half once
// the session enters Running. It drains q in FIFO order until q is closed or a write
// fails, in which case it returns the error — the caller treats any egress failure as
// "the peer is gone" and tears the session down.
func runEgress(conn *websocket.Conn, q *sendQueue) error {
	for {
		msg, ok := q.Pop()
		if !ok {
			return nil
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return fmt.Errorf("egress: set write deadline: %w", err)
		}
		if err := conn.WriteMessage(msg.messageType, msg.data); err != nil {
			return fmt.Errorf("egress: write message: %w", err)
		}
	}
}
