// Package tts fetches spoken audio from a Google Translate style text to
// speech endpoint.
package tts

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://translate.google.com"
	// maxChunk is the longest text the endpoint accepts per request, in runes.
	maxChunk = 100
)

// Client turns text into MP3 audio.
type Client interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default endpoint base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a TTS client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Synthesize requests each chunk of text in order and concatenates the MP3
// frames.
func (c *httpClient) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	chunks := Split(text, maxChunk)
	if len(chunks) == 0 {
		return nil, eris.New("tts: empty text")
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		q := url.Values{}
		q.Set("ie", "UTF-8")
		q.Set("q", chunk)
		q.Set("tl", lang)
		q.Set("client", "tw-ob")
		q.Set("total", strconv.Itoa(len(chunks)))
		q.Set("idx", strconv.Itoa(i))
		q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/translate_tts?"+q.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "tts: create request")
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "tts: send request")
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "tts: read response")
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resilience.StatusError("tts", resp.StatusCode, body)
		}
		audio.Write(body)
	}
	return audio.Bytes(), nil
}

// Split breaks text into pieces of at most limit runes, preferring to cut
// at whitespace. Words longer than limit are cut mid-word.
func Split(text string, limit int) []string {
	var out []string
	var cur []rune
	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			out = append(out, s)
		}
		cur = cur[:0]
	}
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > limit {
			flush()
			out = append(out, string(w[:limit]))
			w = w[limit:]
		}
		if len(cur) > 0 && len(cur)+1+len(w) > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	flush()
	return out
}
