package server

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/threadchat/internal/models"
)

const writeWait = 10 * time.Second

// wsUI renders session output as JSON frames on one connection.
type wsUI struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

func newWSUI(conn *websocket.Conn, logger *slog.Logger) *wsUI {
	return &wsUI{conn: conn, logger: logger}
}

func (u *wsUI) write(f models.ServerFrame) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_ = u.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := u.conn.WriteJSON(f); err != nil {
		u.logger.Debug("websocket write failed", "frame", f.Type, "error", err)
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (u *wsUI) sendError(err error) {
	_ = u.write(models.ServerFrame{Type: models.FrameError, Error: err.Error(), Code: errorCode(err)})
}

func (u *wsUI) ShowThreads(threads []models.Thread, active string) {
	_ = u.write(models.ServerFrame{Type: models.FrameThreads, Threads: threads, Active: active})
}

func (u *wsUI) ShowTranscript(thread models.Thread, msgs []models.Message) {
	_ = u.write(models.ServerFrame{Type: models.FrameTranscript, Thread: &thread, Messages: msgs})
}

func (u *wsUI) ShowMessage(msg models.Message) {
	_ = u.write(models.ServerFrame{Type: models.FrameMessage, Message: &msg})
}

// StreamReply sends each fragment as its own frame. A failed write stops
// generation: the client is gone.
func (u *wsUI) StreamReply(fragments iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range fragments {
		if err != nil {
			return "", err
		}
		if err := u.write(models.ServerFrame{Type: models.FrameFragment, Content: frag}); err != nil {
			return "", err
		}
		b.WriteString(frag)
	}
	return b.String(), nil
}
