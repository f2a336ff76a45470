package audio

import (
	"fmt"
	"os"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// ProbeDurationMs decodes the file in-process and derives its duration
// from the sample count.
func ProbeDurationMs(path string) (int, error) {
	streamer, format, err := decodeMedia(path)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()

	d := format.SampleRate.D(streamer.Len())
	return int(d / time.Millisecond), nil
}

func decodeMedia(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	// Try MP3 first
	streamer, format, err := mp3.Decode(f)
	if err == nil {
		return streamer, format, nil
	}

	// Reopen for the WAV attempt; a failed MP3 decode leaves the reader
	// position uncertain.
	f.Close()
	f, err = os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	streamer, format, err = wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("failed to decode audio file %s: %w", path, err)
	}

	return streamer, format, nil
}
