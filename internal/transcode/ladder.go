package transcode

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// rendition is one rung of the HLS ladder, grounded on the teacher's
// rendition struct from cmd/transcoder/main.go.
type rendition struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate int // kbps
	AudioBitrate int // kbps
	VideoProfile string
}

// fullLadder is the spec's requested rendition set before filtering to the
// source's actual height.
var fullLadder = []rendition{
	{Name: "360p", Width: 640, Height: 360},
	{Name: "480p", Width: 854, Height: 480},
	{Name: "720p", Width: 1280, Height: 720},
	{Name: "1080p", Width: 1920, Height: 1080},
}

// buildLadder returns the renditions whose target height does not exceed
// sourceHeight, with bitrate and profile resolved per rendition.
func buildLadder(sourceHeight int) []rendition {
	out := make([]rendition, 0, len(fullLadder))
	for _, r := range fullLadder {
		if r.Height > sourceHeight {
			continue
		}
		r.Width = ensureEven(r.Width)
		r.Height = ensureEven(r.Height)
		r.VideoBitrate = defaultVideoBitrate(r.Height)
		r.AudioBitrate = defaultAudioBitrate(r.VideoBitrate)
		r.VideoProfile = videoProfileForHeight(r.Height)
		out = append(out, r)
	}
	return out
}

func ensureEven(v int) int {
	if v%2 != 0 {
		return v + 1
	}
	if v <= 0 {
		return 2
	}
	return v
}

func defaultVideoBitrate(height int) int {
	switch {
	case height >= 1080:
		return 6000
	case height >= 720:
		return 4000
	case height >= 540:
		return 3000
	case height >= 480:
		return 2200
	case height >= 360:
		return 1200
	case height >= 240:
		return 700
	default:
		return 500
	}
}

func defaultAudioBitrate(videoBitrate int) int {
	switch {
	case videoBitrate >= 5000:
		return 192
	case videoBitrate >= 3000:
		return 160
	case videoBitrate >= 1500:
		return 128
	case videoBitrate >= 800:
		return 96
	case videoBitrate > 0:
		return 64
	default:
		return 0
	}
}

func videoProfileForHeight(height int) string {
	switch {
	case height >= 720:
		return "high"
	case height >= 480:
		return "main"
	default:
		return "baseline"
	}
}

func buildScaleFilter(width, height int) string {
	width, height = ensureEven(width), ensureEven(height)
	return fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease,setsar=1,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height, width, height)
}

// renderedVariant is one completed rendition, ready for upload.
type renderedVariant struct {
	rendition
	dir          string // absolute path to the variant's segment directory
	playlistPath string // absolute path to the variant's index.m3u8
}

// renderVariant runs one ffmpeg invocation producing a single HLS rendition
// in its own subdirectory of tempDir; the process is killed when ctx is
// cancelled.
func (o *Orchestrator) renderVariant(ctx context.Context, inputPath, tempDir string, r rendition) (renderedVariant, error) {
	dir := filepath.Join(tempDir, sanitizeVariantName(r.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return renderedVariant{}, apperror.Storage(fmt.Errorf("create variant dir: %w", err))
	}

	playlist := filepath.Join(dir, "index.m3u8")
	segmentPattern := filepath.Join(dir, "segment_%06d.ts")
	maxRate := int(math.Round(float64(r.VideoBitrate) * 1.08))
	if maxRate <= r.VideoBitrate {
		maxRate = r.VideoBitrate + 1
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", buildScaleFilter(r.Width, r.Height),
		"-c:v", o.cfg.Encoder,
		"-profile:v", r.VideoProfile,
		"-b:v", fmt.Sprintf("%dk", r.VideoBitrate),
		"-maxrate", fmt.Sprintf("%dk", maxRate),
		"-bufsize", fmt.Sprintf("%dk", r.VideoBitrate*2),
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", r.AudioBitrate),
		"-ac", "2",
		"-ar", "48000",
		"-preset", "veryfast",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", o.cfg.SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", segmentPattern,
		playlist,
	}

	if err := runFFmpeg(ctx, o.cfg.FFmpegPath, args, r.Name, o.logger); err != nil {
		return renderedVariant{}, apperror.Internal(fmt.Errorf("encode variant %s: %w", r.Name, err))
	}

	return renderedVariant{rendition: r, dir: dir, playlistPath: playlist}, nil
}

func sanitizeVariantName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "variant"
	}
	return b.String()
}

// writeMasterPlaylist writes an HLS master playlist referencing every
// variant's playlist, returning its path.
func writeMasterPlaylist(tempDir string, variants []renderedVariant) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for _, v := range variants {
		bandwidth := (v.VideoBitrate + v.AudioBitrate) * 1000
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", bandwidth, v.Width, v.Height)
		fmt.Fprintf(&b, "%s/index.m3u8\n", sanitizeVariantName(v.Name))
	}

	path := filepath.Join(tempDir, "master.m3u8")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// uploadedOutputs is the set of object keys produced by uploadOutputs.
type uploadedOutputs struct {
	masterKey string
	variants  []models.VideoVariant
}

// uploadOutputs pushes the master playlist, every variant playlist, and
// every segment file to object storage under uploads/{media_id}/..., with
// content types matching the spec's HLS MIME requirements.
func (o *Orchestrator) uploadOutputs(ctx context.Context, mediaID, tempDir, masterPath string, variants []renderedVariant) (uploadedOutputs, error) {
	base := fmt.Sprintf("%s/%s", o.cfg.UploadPrefix, mediaID)

	masterKey := base + "/master.m3u8"
	if err := o.uploadFile(ctx, masterPath, masterKey, mimeHLSPlaylist); err != nil {
		return uploadedOutputs{}, err
	}

	descriptors := make([]models.VideoVariant, 0, len(variants))
	for _, v := range variants {
		variantDir := base + "/" + sanitizeVariantName(v.Name)
		playlistKey := variantDir + "/index.m3u8"
		if err := o.uploadFile(ctx, v.playlistPath, playlistKey, mimeHLSPlaylist); err != nil {
			return uploadedOutputs{}, err
		}

		entries, err := os.ReadDir(v.dir)
		if err != nil {
			return uploadedOutputs{}, apperror.Storage(fmt.Errorf("reading variant dir: %w", err))
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".ts") {
				continue
			}
			segKey := variantDir + "/" + e.Name()
			if err := o.uploadFile(ctx, filepath.Join(v.dir, e.Name()), segKey, mimeHLSSegment); err != nil {
				return uploadedOutputs{}, err
			}
		}

		descriptors = append(descriptors, models.VideoVariant{
			Name:         v.Name,
			Height:       v.Height,
			Width:        v.Width,
			BitrateKbps:  v.VideoBitrate + v.AudioBitrate,
			PlaylistPath: playlistKey,
		})
	}

	return uploadedOutputs{masterKey: masterKey, variants: descriptors}, nil
}

const (
	mimeHLSPlaylist = "application/vnd.apple.mpegurl"
	mimeHLSSegment  = "video/mp2t"
)

func (o *Orchestrator) uploadFile(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperror.Storage(fmt.Errorf("open %s for upload: %w", path, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperror.Storage(err)
	}
	_, err = o.storage.UploadStream(ctx, key, contentType, f, info.Size())
	return err
}
