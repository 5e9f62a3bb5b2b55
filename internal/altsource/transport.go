package altsource

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Pooled decompression readers. Probes come in bursts of up to four at a
// time, so reusing readers keeps allocation churn down.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
)

// emptyReader resets pooled readers without holding the previous body alive.
var emptyReader = strings.NewReader("")

// decompressingTransport negotiates brotli/gzip on outgoing probe requests
// and transparently decompresses response bodies, so callers always read
// plain HTML.
type decompressingTransport struct {
	base http.RoundTripper
}

func newDecompressingTransport(base http.RoundTripper) *decompressingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decompressingTransport{base: base}
}

func (t *decompressingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := decompressBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decompressing probe response: %w", err)
	}
	return resp, nil
}

// decompressBody wraps resp.Body with the decoder the Content-Encoding
// header calls for. On error the body may be partially consumed and the
// caller must discard the response.
func decompressBody(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	var wrapped io.ReadCloser
	var release func()

	switch encoding {
	case "", "identity":
		return nil

	case "gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(resp.Body); err != nil {
			gzipReaderPool.Put(zr)
			return fmt.Errorf("gzip init: %w", err)
		}
		wrapped = zr
		release = func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		}

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(resp.Body); err != nil {
			brotliReaderPool.Put(br)
			return fmt.Errorf("brotli init: %w", err)
		}
		// brotli.Reader has no Close.
		wrapped = io.NopCloser(br)
		release = func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		}

	default:
		return fmt.Errorf("unsupported Content-Encoding: %s", encoding)
	}

	resp.Body = &pooledBody{ReadCloser: wrapped, original: resp.Body, release: release}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// pooledBody closes the decoder and the network body, returning the pooled
// reader on the way out.
type pooledBody struct {
	io.ReadCloser
	original io.ReadCloser
	release  func()
}

func (b *pooledBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.original.Close())
}
