package stage

import (
	"encoding/json"
	"fmt"

	"montage/internal/jobs"
	"montage/internal/services"
)

// ResearchData is the output of the researching stage.
type ResearchData struct {
	Facts     []string `json:"facts"`
	Sources   []string `json:"sources"`
	KeyPoints []string `json:"key_points"`
}

// Scene is one segment of a generated script.
type Scene struct {
	Number             int      `json:"scene_number"`
	Description        string   `json:"description"`
	VisualRequirements []string `json:"visual_requirements,omitempty"`
	Dialogue           string   `json:"dialogue"`
	DurationSeconds    float64  `json:"duration_seconds"`
	AssetIDs           []string `json:"asset_ids,omitempty"`
}

// Script is the output of the scripting stage.
type Script struct {
	Title                string  `json:"title"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	Scenes               []Scene `json:"scenes"`
}

// Asset is one sourced visual element.
type Asset struct {
	ID          string `json:"asset_id"`
	Type        string `json:"asset_type"`
	SourceURL   string `json:"source_url"`
	LocalPath   string `json:"local_path,omitempty"`
	UsageRights string `json:"usage_rights,omitempty"`
}

// AssetCollection is the output of the asset_sourcing stage.
type AssetCollection struct {
	Images []Asset `json:"images"`
	Videos []Asset `json:"videos"`
}

// AudioAssets is the output of the audio_generation stage.
type AudioAssets struct {
	VoiceFiles           []string `json:"voice_files"`
	TotalDurationSeconds float64  `json:"total_duration_seconds"`
}

// AssemblyResult is the output of the video_assembly stage.
type AssemblyResult struct {
	VideoFile       string  `json:"video_file"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// FinalResult is the output of the finalizing stage.
type FinalResult struct {
	VideoFile       string  `json:"video_file"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
}

// DecodeResult unmarshals a prior stage's stored payload into out. A
// missing payload is a fatal pipeline error: stages run in a fixed
// order, so an absent predecessor result means corrupted state.
func DecodeResult(job *jobs.Job, from jobs.Stage, out any) error {
	raw, ok := job.StageResults[string(from)]
	if !ok || len(raw) == 0 {
		return services.Wrap(services.ErrFatal, string(from), "decode",
			fmt.Sprintf("missing %s result for job %s", from, job.ID), nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return services.Wrap(services.ErrFatal, string(from), "decode",
			fmt.Sprintf("corrupt %s result for job %s", from, job.ID), err)
	}
	return nil
}

// EncodeResult marshals a stage payload and records it on the job.
func EncodeResult(job *jobs.Job, at jobs.Stage, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrFatal, string(at), "encode",
			fmt.Sprintf("marshal %s result for job %s", at, job.ID), err)
	}
	job.SetResult(at, data)
	return nil
}
