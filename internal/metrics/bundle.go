package metrics

import "encoding/json"

// BundleName and BundleVersion key persisted metric results. Changing any
// metric's definition requires bumping BundleVersion, never overwriting rows
// stored under the old version.
const (
	BundleName    = "MetricBundleV1"
	BundleVersion = "1"
)

// BundleV1 is the complete set of quality signals computed for one canonical
// artifact. All metrics run against the normalized video and canonical audio.
type BundleV1 struct {
	// Tier 0: container and pixel statistics.
	DecodeOK            bool    `json:"decode_ok"`
	VideoDurationMs     int64   `json:"video_duration_ms"`
	AudioDurationMs     int64   `json:"audio_duration_ms"`
	AVDurationDeltaMs   int64   `json:"av_duration_delta_ms"`
	FPS                 float64 `json:"fps"`
	FrameCount          int     `json:"frame_count"`
	SceneCutCount       int     `json:"scene_cut_count"`
	FreezeFrameRatio    float64 `json:"freeze_frame_ratio"`
	FlickerScore        float64 `json:"flicker_score"`
	BlurScore           float64 `json:"blur_score"`
	FrameDiffSpikeCount int     `json:"frame_diff_spike_count"`

	// Tier 1: face and landmark statistics.
	FacePresentRatio float64  `json:"face_present_ratio"`
	FaceBBoxJitter   float64  `json:"face_bbox_jitter"`
	LandmarkJitter   float64  `json:"landmark_jitter"`
	MouthOpenEnergy  float64  `json:"mouth_open_energy"`
	MouthAudioCorr   float64  `json:"mouth_audio_corr"`
	BlinkCount       *int     `json:"blink_count"`
	BlinkRateHz      *float64 `json:"blink_rate_hz"`

	// Tier 2: lip-sync inference, nil when the sub-engine is unavailable.
	LSED *float64 `json:"lse_d"`
	LSEC *float64 `json:"lse_c"`
}

// DecodeBundle parses a stored bundle JSON into out.
func DecodeBundle(raw string, out *BundleV1) error {
	return json.Unmarshal([]byte(raw), out)
}
