// Package voice speaks advice aloud by saving synthesized audio to disk.
package voice

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/pkg/tts"
)

// Speaker writes synthesized speech to a fixed output file.
type Speaker struct {
	client     tts.Client
	language   string
	outputPath string
}

// NewSpeaker returns a Speaker for language (e.g. "te") writing to
// outputPath.
func NewSpeaker(client tts.Client, language, outputPath string) *Speaker {
	return &Speaker{client: client, language: language, outputPath: outputPath}
}

// Speak synthesizes text and replaces the output file with it. It returns
// the file path.
func (s *Speaker) Speak(ctx context.Context, text string) (string, error) {
	audio, err := s.client.Synthesize(ctx, text, s.language)
	if err != nil {
		return "", eris.Wrap(err, "voice: synthesize")
	}

	dir := filepath.Dir(s.outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "voice: create dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.outputPath)+".*")
	if err != nil {
		return "", eris.Wrap(err, "voice: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(audio); err != nil {
		_ = tmp.Close()
		return "", eris.Wrap(err, "voice: write audio")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "voice: close audio")
	}
	if err := os.Rename(tmp.Name(), s.outputPath); err != nil {
		return "", eris.Wrap(err, "voice: replace output")
	}
	return s.outputPath, nil
}
