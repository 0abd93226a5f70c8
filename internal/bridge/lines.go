package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"codebox-relay/internal/types"
)

const (
	readBufferSize = 4096
	writeTimeout   = 10 * time.Second
)

var ErrNotConnected = errors.New("bridge: not connected")

// readLines decodes newline-delimited messages from r and hands each one to
// fn in arrival order. A trailing partial line is dropped when the reader
// fails. A malformed line ends the loop.
func readLines(r io.Reader, fn func(*types.Message)) error {
	reader := bufio.NewReaderSize(r, readBufferSize)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msg, err := types.DecodeLine(line)
		if err != nil {
			return err
		}
		fn(msg)
	}
}

func writeLine(conn net.Conn, msg *types.Message) error {
	b, err := types.EncodeLine(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("bridge: write: %w", err)
	}
	return nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
