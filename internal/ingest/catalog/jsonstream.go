package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"biowatch/internal/apperr"
)

// nanSep/nullSep implement spec §4.F/§9's sanitizing transform: some COCO-
// style catalogs embed the bare (non-JSON) token NaN wherever a numeric
// field could not be computed upstream. ":NaN" only ever appears immediately
// after a JSON key, so a literal substring replace is sufficient and never
// touches a legitimate string value (a real string containing "NaN" would be
// quoted, producing `:"NaN"`, not `:NaN`).
const (
	nanSep  = ":NaN"
	nullSep = ":null"
)

// nanSanitizingReader wraps a byte stream, rewriting ":NaN" to ":null" as
// data flows through it, the same way the teacher's progressTrackingReader
// wraps an io.Reader to observe (there: count; here: alter) a stream without
// buffering the whole thing in memory. It holds back the last len(nanSep)-1
// bytes of every chunk so a split occurrence straddling a chunk boundary is
// still caught on the next Read.
type nanSanitizingReader struct {
	src     io.Reader
	buf     []byte
	pending []byte
	err     error
}

func newNaNSanitizingReader(src io.Reader) *nanSanitizingReader {
	return &nanSanitizingReader{src: src}
}

func (r *nanSanitizingReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}

		chunk := make([]byte, 64*1024)
		n, err := r.src.Read(chunk)
		if n > 0 {
			data := append(r.pending, chunk[:n]...)
			r.pending = nil
			data = bytes.ReplaceAll(data, []byte(nanSep), []byte(nullSep))

			holdBack := len(nanSep) - 1
			if holdBack > len(data) {
				holdBack = len(data)
			}
			if err != nil {
				holdBack = 0
			}
			r.buf = data[:len(data)-holdBack]
			r.pending = append([]byte(nil), data[len(data)-holdBack:]...)
		}

		if err != nil {
			if err == io.EOF && len(r.pending) > 0 {
				r.buf = append(r.buf, r.pending...)
				r.pending = nil
			}
			r.err = err
			if len(r.buf) == 0 {
				return 0, r.err
			}
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// countingReader tracks how many bytes have been pulled through it so far,
// so a streaming pass can report progress by bytes read rather than by
// record count (spec §4.F step 4: total record count isn't known until the
// pass completes, but total byte size is known up front).
type countingReader struct {
	src    io.Reader
	n      int64
	onRead func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.onRead != nil {
			c.onRead(c.n)
		}
	}
	return n, err
}

// streamTopLevelArray scans a top-level JSON object for a named array key,
// wherever it appears among the object's members, and invokes onElement
// once per array element with the decoder positioned to decode exactly that
// element. Any other member's value (object, array, or scalar) is skipped
// generically via a raw-message decode, without walking its tokens by hand.
// This is the mechanism spec §9 sanctions in place of a named-array-aware
// streaming JSON library (none exists anywhere in the retrieved pack).
func streamTopLevelArray(r io.Reader, key string, onElement func(dec *json.Decoder) error) (found bool, err error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return false, apperr.Wrap(apperr.KindParse, err, "read opening token")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return false, apperr.New(apperr.KindParse, "catalog document does not start with an object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return found, apperr.Wrap(apperr.KindParse, err, "read member key")
		}
		k, ok := tok.(string)
		if !ok {
			return found, apperr.New(apperr.KindParse, "expected a string key, got %v", tok)
		}

		if k != key {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return found, apperr.Wrap(apperr.KindParse, err, "skip member %q", k)
			}
			continue
		}

		found = true
		tok, err = dec.Token()
		if err != nil {
			return found, apperr.Wrap(apperr.KindParse, err, "read %q array start", key)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return found, apperr.New(apperr.KindParse, "member %q is not an array", key)
		}
		for dec.More() {
			if err := onElement(dec); err != nil {
				return found, err
			}
		}
		if _, err := dec.Token(); err != nil { // closing ']'
			return found, apperr.Wrap(apperr.KindParse, err, "read %q array end", key)
		}
	}

	if _, err := dec.Token(); err != nil { // closing '}'
		return found, apperr.Wrap(apperr.KindParse, err, "read closing token")
	}
	return found, nil
}

// idString normalizes a JSON id field (decoded with UseNumber, so numbers
// arrive as json.Number) to a stable string form, used to key both the
// scratch file's records and the in-memory bounds maps.
func idString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
