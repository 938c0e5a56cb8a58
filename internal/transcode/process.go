package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
)

// runFFmpeg invokes ffmpegPath with args, cancellable via ctx, streaming
// both stdout and stderr to logger line by line. Grounded on the teacher's
// startFFmpeg/logWriter pair in cmd/transcoder/main.go.
func runFFmpeg(ctx context.Context, ffmpegPath string, args []string, label string, logger *slog.Logger) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	cmd.Stdout = &logWriter{logger: logger, label: label, stream: "stdout"}
	cmd.Stderr = &logWriter{logger: logger, label: label, stream: "stderr"}
	return cmd.Run()
}

// logWriter streams a subprocess's output to slog a line at a time, instead
// of buffering the whole stream.
type logWriter struct {
	logger *slog.Logger
	label  string
	stream string
	buf    bytes.Buffer
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line; push it back for the next Write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if trimmed := trimNewline(line); trimmed != "" {
			w.logger.Debug("ffmpeg output", "variant", w.label, "stream", w.stream, "line", trimmed)
		}
	}
	return total, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// probedMetadata is the subset of ffprobe's output the orchestrator needs.
type probedMetadata struct {
	DurationSeconds float64
	Width           int
	Height          int
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeMetadata shells out to ffprobe to recover duration, width, and
// height from the downloaded source file.
func probeMetadata(ctx context.Context, ffprobePath, inputPath string) (probedMetadata, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, ffprobePath, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return probedMetadata{}, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return probedMetadata{}, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	var result probedMetadata
	for _, s := range parsed.Streams {
		if s.CodecType == "video" && result.Width == 0 {
			result.Width = s.Width
			result.Height = s.Height
		}
	}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			result.DurationSeconds = d
		}
	}
	if result.Width == 0 || result.Height == 0 {
		return probedMetadata{}, fmt.Errorf("no video stream found in source")
	}
	return result, nil
}
