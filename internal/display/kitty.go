package display

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG data using the kitty graphics protocol.
type KittyEncoder struct {
	out io.Writer
	// Columns scales the image to this many terminal cells when > 0.
	Columns int
}

func NewKittyEncoder(out io.Writer) *KittyEncoder {
	return &KittyEncoder{out: out}
}

// Encode transmits and displays data as a new anonymous image.
func (e *KittyEncoder) Encode(data []byte) error {
	return e.transmit(data, 0)
}

// Replace transmits data under a fixed image id, so the terminal swaps the
// previous image with that id for the new one. Live previews use it.
func (e *KittyEncoder) Replace(id uint32, data []byte) error {
	return e.transmit(data, id)
}

// Delete removes every placement of the image with the given id.
func (e *KittyEncoder) Delete(id uint32) error {
	_, err := fmt.Fprintf(e.out, "%sa=d,d=I,i=%d,q=2%s", escapeStart, id, escapeEnd)
	return err
}

func (e *KittyEncoder) transmit(data []byte, id uint32) error {
	if len(data) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	chunks := splitIntoChunks(encoded, chunkSize)
	first := e.controlKeys(id)

	for i, chunk := range chunks {
		more := 0
		if i < len(chunks)-1 {
			more = 1
		}

		var params string
		switch {
		case len(chunks) == 1:
			params = first
		case i == 0:
			params = fmt.Sprintf("%s,m=%d", first, more)
		default:
			params = fmt.Sprintf("m=%d", more)
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

func (e *KittyEncoder) controlKeys(id uint32) string {
	keys := []string{"a=T", "f=100", "q=2"}
	if id > 0 {
		keys = append(keys, fmt.Sprintf("i=%d", id))
	}
	if e.Columns > 0 {
		keys = append(keys, fmt.Sprintf("c=%d", e.Columns))
	}
	return strings.Join(keys, ",")
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n := size
		if len(s) < n {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
