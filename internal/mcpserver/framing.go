package mcpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// readMessage reads one JSON-RPC message. Clients either send
// Content-Length framed messages or bare JSON terminated by a newline; the
// second return value reports the latter.
func readMessage(r *bufio.Reader) ([]byte, bool, error) {
	next, err := peekNonBlank(r)
	if err != nil {
		return nil, false, err
	}
	if next == '{' || next == '[' {
		payload, err := readJSONLine(r)
		return payload, true, err
	}

	header, err := textproto.NewReader(r).ReadMIMEHeader()
	if err != nil && !(errors.Is(err, io.EOF) && len(header) > 0) {
		return nil, false, fmt.Errorf("read message header: %w", err)
	}

	raw := strings.TrimSpace(header.Get("Content-Length"))
	if raw == "" {
		return nil, false, errors.New("missing Content-Length header")
	}
	length, err := strconv.Atoi(raw)
	if err != nil || length < 0 {
		return nil, false, fmt.Errorf("invalid Content-Length %q", raw)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, err
	}
	return payload, false, nil
}

func peekNonBlank(r *bufio.Reader) (byte, error) {
	for {
		next, err := r.Peek(1)
		if err != nil {
			return 0, err
		}
		switch next[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = r.ReadByte()
		default:
			return next[0], nil
		}
	}
}

// readJSONLine accumulates lines until they form a complete JSON value, so
// pretty-printed requests spanning several lines are accepted.
func readJSONLine(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := r.ReadBytes('\n')
		buf.Write(line)
		if trimmed := bytes.TrimSpace(buf.Bytes()); json.Valid(trimmed) {
			return trimmed, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func writeFramedMessage(w *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeJSONLineMessage(w *bufio.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
