// Package contentcoding implements the decode/mutate/re-encode bracket
// used to inspect and rewrite compressed HTTP bodies.
package contentcoding

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
)

// Name identifies a supported Content-Encoding codec.
type Name string

const (
	Identity Name = "identity"
	Gzip     Name = "gzip"
	Deflate  Name = "deflate"
	Brotli   Name = "br"
)

// Supported reports whether name is a codec this package can decode
// and re-encode.
func Supported(name string) bool {
	switch Name(name) {
	case Identity, Gzip, Deflate, Brotli, "":
		return true
	default:
		return false
	}
}

// Decode decodes body according to the named codec. Identity and the
// empty name are a no-op. A corrupt payload returns the original body
// unchanged, ok=false, so callers treat decode failure as a no-op
// rather than a hard error.
func Decode(name string, body []byte) (decoded []byte, ok bool) {
	switch Name(name) {
	case "", Identity:
		return body, true
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body, false
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return body, false
		}
		return out, true
	case Deflate:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return body, false
		}
		return out, true
	case Brotli:
		r := brotli.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return body, false
		}
		return out, true
	default:
		return body, false
	}
}

// Encode re-encodes body with the named codec.
func Encode(name string, body []byte) ([]byte, error) {
	switch Name(name) {
	case "", Identity:
		return body, nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Deflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return body, nil
	}
}

// Bracket holds the state needed to re-encode a body after it was
// decoded for inspection.
type Bracket struct {
	codec   string
	decoded bool
}

// Enter reads encoding off headerValue and decodes body if the codec
// is supported. It returns the (possibly decoded) body and a Bracket
// to pass to Exit. If the codec is unsupported or decode fails, the
// original body is returned unchanged and Exit becomes a no-op.
func Enter(headerValue string, body []byte) ([]byte, *Bracket, []byte) {
	if !Supported(headerValue) {
		return body, &Bracket{codec: headerValue, decoded: false}, body
	}
	out, ok := Decode(headerValue, body)
	return out, &Bracket{codec: headerValue, decoded: ok}, body
}

// Exit re-encodes body with the codec observed at Enter, regardless of
// how the caller's scope was left (success, mutation, or panic
// recovery is the caller's responsibility via defer).
func (b *Bracket) Exit(body []byte) ([]byte, error) {
	if !b.decoded {
		return body, nil
	}
	return Encode(b.codec, body)
}

// Decoded runs fn with body decoded according to headerValue, then
// re-encodes the (possibly mutated) result fn returns, even if fn
// panics. It mirrors a decode-mutate-re-encode scoped block.
func Decoded(headerValue string, body []byte, fn func(decodedBody []byte) []byte) (result []byte, err error) {
	decodedBody, br, _ := Enter(headerValue, body)
	defer func() {
		result, err = br.Exit(decodedBody)
	}()
	decodedBody = fn(decodedBody)
	return decodedBody, nil
}
