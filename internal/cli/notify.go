package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/roach88/clocksync/internal/clocksync"
)

// writerNotifier prints synchronizer notifications as single lines.
type writerNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

var _ clocksync.Notifier = (*writerNotifier)(nil)

func newWriterNotifier(w io.Writer) *writerNotifier {
	return &writerNotifier{w: w}
}

func (n *writerNotifier) Info(msg string) {
	n.println("..", msg)
}

func (n *writerNotifier) Success(msg string) {
	n.println("ok", msg)
}

func (n *writerNotifier) Error(msg string, err error) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	n.println("!!", msg)
}

func (n *writerNotifier) println(tag, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "[%s] %s\n", tag, msg)
}
