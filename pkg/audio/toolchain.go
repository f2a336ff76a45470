// Package audio adapts the external ffmpeg toolchain for take
// post-processing: duration measurement, trailing silence, and
// concatenation for combined exports.
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Toolchain is the audio post-processing boundary.
type Toolchain interface {
	// DurationMs measures the playable length of an audio file.
	DurationMs(ctx context.Context, path string) (int, error)

	// AppendSilence bakes ms of trailing silence into the file and
	// returns the resulting path.
	AppendSilence(ctx context.Context, path string, ms int) (string, error)

	// Concatenate joins the files into a single output file, in order.
	Concatenate(ctx context.Context, paths []string, out string) error
}

// FFmpeg implements Toolchain by shelling out to ffmpeg/ffprobe.
type FFmpeg struct {
	ffmpegPath string
}

// NewFFmpeg creates an FFmpeg toolchain. An empty path resolves
// "ffmpeg" via PATH.
func NewFFmpeg(ffmpegPath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath}
}

func (f *FFmpeg) ffprobePath() string {
	return strings.Replace(f.ffmpegPath, "ffmpeg", "ffprobe", 1)
}

// ffprobeOutput mirrors the -show_entries format=duration JSON shape.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// DurationMs measures duration via ffprobe, falling back to decoding
// the file in-process when ffprobe is unavailable.
func (f *FFmpeg) DurationMs(ctx context.Context, path string) (int, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath(), args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Debug("ffprobe unavailable, decoding in-process", "path", path, "error", err)
		return ProbeDurationMs(path)
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s: %s", path, stderr.String())
	}

	seconds, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q for %s: %w", probeData.Format.Duration, path, err)
	}

	return int(seconds * 1000), nil
}

// AppendSilence pads the file with ms of trailing silence, replacing
// it in place.
func (f *FFmpeg) AppendSilence(ctx context.Context, path string, ms int) (string, error) {
	if ms <= 0 {
		return path, nil
	}

	ext := filepath.Ext(path)
	padded := strings.TrimSuffix(path, ext) + ".pad" + ext

	args := []string{
		"-y",
		"-i", path,
		"-af", fmt.Sprintf("apad=pad_dur=%s", secondsArg(ms)),
		padded,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(padded)
		return "", fmt.Errorf("ffmpeg apad failed for %s: %w: %s", path, err, stderr.String())
	}

	if err := os.Rename(padded, path); err != nil {
		os.Remove(padded)
		return "", fmt.Errorf("failed to replace padded file: %w", err)
	}
	return path, nil
}

// Concatenate joins the files via the concat demuxer. Inputs that all
// share the output extension are stream-copied; mixed inputs are
// re-encoded.
func (f *FFmpeg) Concatenate(ctx context.Context, paths []string, out string) error {
	if len(paths) == 0 {
		return fmt.Errorf("nothing to concatenate")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	listFile, err := writeConcatList(paths)
	if err != nil {
		return err
	}
	defer os.Remove(listFile)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
	}
	if uniformExt(paths, filepath.Ext(out)) {
		args = append(args, "-c", "copy")
	}
	args = append(args, out)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w: %s", err, stderr.String())
	}
	return nil
}

// writeConcatList writes the concat demuxer input list to a temp file.
func writeConcatList(paths []string) (string, error) {
	tmp, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}
	defer tmp.Close()

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
		// Single quotes in the path are escaped for the demuxer.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(tmp, "file '%s'\n", escaped); err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
	}
	return tmp.Name(), nil
}

func uniformExt(paths []string, ext string) bool {
	for _, p := range paths {
		if filepath.Ext(p) != ext {
			return false
		}
	}
	return true
}

// secondsArg renders milliseconds as a fractional seconds argument.
func secondsArg(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000.0, 'f', -1, 64)
}
