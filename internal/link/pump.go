package link

import (
	"bytes"
	"strings"

	"github.com/grantcarthew/linkctl/internal/transport"
)

// inboundPump drains a poll-style transport one bounded read at a time.
type inboundPump struct {
	maxRead int
}

// poll reads at most maxRead pending bytes and decodes them as text.
// It returns false when nothing usable was read.
func (p inboundPump) poll(t transport.Poller) (text string, n int, ok bool) {
	if t.State() != transport.StateConnected {
		return "", 0, false
	}
	pending, ok := t.Pending()
	if !ok || pending <= 0 {
		return "", 0, false
	}

	data, err := t.Receive(min(pending, p.maxRead))
	if err != nil || len(data) == 0 {
		return "", 0, false
	}

	text = decodeText(data)
	if text == "" {
		return "", len(data), false
	}
	return text, len(data), true
}

// decodeText treats data as a NUL-terminated UTF-8 buffer.
func decodeText(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return strings.ToValidUTF8(string(data), "�")
}
