package logging

import (
	"bytes"
	"io"
)

// noisePatterns identifies per-request and retry chatter that must not reach
// the unified log. Matching is case-insensitive over the rendered line.
var noisePatterns = [][]byte{
	[]byte("get /"),
	[]byte("post /"),
	[]byte("http request"),
	[]byte("retry "),
	[]byte("rate limit wait"),
	[]byte("cache hit"),
	[]byte(`"noise":true`),
	[]byte(`"verbose":true`),
}

// noiseFilter drops log lines matching any noise pattern before they reach
// the wrapped writer. Everything else passes through unchanged.
type noiseFilter struct {
	w io.Writer
}

func newNoiseFilter(w io.Writer) *noiseFilter {
	return &noiseFilter{w: w}
}

func (f *noiseFilter) Write(p []byte) (int, error) {
	lower := bytes.ToLower(p)
	for _, pat := range noisePatterns {
		if bytes.Contains(lower, pat) {
			return len(p), nil
		}
	}
	return f.w.Write(p)
}
