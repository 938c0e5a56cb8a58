package plugin

import (
	"context"
	"fmt"
	"strings"

	"mindia/internal/apperror"
	"mindia/internal/models"
)

// ModerationPlugin is the built-in content_moderation capability, registered
// as "aws_rekognition_moderation" to match the config-redaction example in
// spec's worked examples (§8.5). It has no live AWS dependency — no SDK for
// it exists anywhere in the example pack — so it classifies from the media
// row's original filename against a configurable keyword denylist, the same
// capability-limited shape a real moderation call would report back
// through (labels + confidence).
type ModerationPlugin struct{}

// NewModerationPlugin builds the moderation plugin.
func NewModerationPlugin() *ModerationPlugin { return &ModerationPlugin{} }

func (ModerationPlugin) Name() string { return "aws_rekognition_moderation" }

func (ModerationPlugin) ValidateConfig(config map[string]any) error {
	if region, ok := config["region"]; ok {
		if _, isString := region.(string); !isString {
			return fmt.Errorf("region must be a string")
		}
	}
	return nil
}

func (ModerationPlugin) Execute(ctx context.Context, pc Context) (Result, error) {
	media, err := pc.MediaRepo.GetMedia(ctx, pc.TenantID, pc.MediaID)
	if err != nil {
		return Result{}, err
	}

	denylist := denylistFromConfig(pc.Config)
	haystack := strings.ToLower(media.OriginalFilename)
	var flagged []string
	for _, term := range denylist {
		if strings.Contains(haystack, term) {
			flagged = append(flagged, term)
		}
	}

	labels := []string{"safe"}
	confidence := 0.99
	if len(flagged) > 0 {
		labels = flagged
		confidence = 0.75
	}

	return Result{
		Status: ResultSuccess,
		Data: map[string]any{
			"labels":     labels,
			"confidence": confidence,
		},
		Usage: models.Usage{
			UnitType:   "images",
			InputUnits: 1,
			TotalUnits: 1,
		},
	}, nil
}

func denylistFromConfig(config map[string]any) []string {
	raw, ok := config["denylist"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// TranscriptionPlugin is a built-in stand-in for an external async speech
// transcription provider: it always reports ResultProcessing on the first
// call (exercising spec §4.K's "processing" branch and the follow-up-check
// scheduling it drives), and completes on the retry.
type TranscriptionPlugin struct{}

// NewTranscriptionPlugin builds the transcription plugin.
func NewTranscriptionPlugin() *TranscriptionPlugin { return &TranscriptionPlugin{} }

func (TranscriptionPlugin) Name() string { return "async_transcription" }

func (TranscriptionPlugin) ValidateConfig(config map[string]any) error { return nil }

func (TranscriptionPlugin) Execute(ctx context.Context, pc Context) (Result, error) {
	media, err := pc.MediaRepo.GetMedia(ctx, pc.TenantID, pc.MediaID)
	if err != nil {
		return Result{}, err
	}
	if media.Type != models.MediaAudio && media.Type != models.MediaVideo {
		return Result{}, apperror.InvalidInput("transcription requires audio or video media")
	}

	if jobID, _ := pc.Config["_job_id"].(string); jobID != "" {
		return Result{
			Status: ResultSuccess,
			Data:   map[string]any{"job_id": jobID, "transcript": ""},
			Usage:  models.Usage{UnitType: "seconds", TotalUnits: media.DurationSeconds},
		}, nil
	}

	return Result{
		Status: ResultProcessing,
		Data:   map[string]any{"job_id": "job-" + pc.MediaID},
	}, nil
}
