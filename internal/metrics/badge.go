package metrics

import "fmt"

// Badge classifies a run's metric bundle for display and triage.
type Badge string

const (
	BadgePass    Badge = "pass"
	BadgeFlagged Badge = "flagged"
	BadgeReject  Badge = "reject"
)

// Reject thresholds: hard failures.
const (
	RejectFacePresentFloor = 0.2
	RejectAVDeltaCeilingMs = 500
)

// Flag thresholds: review signals. Demo-tuned; surfaced to consumers as
// review signals, not verdicts.
const (
	FlagFlickerCeiling     = 10.0
	FlagFreezeCeiling      = 0.3
	FlagBlurFloor          = 20.0
	FlagMouthAudioCorFloor = -0.1
	FlagLSECFloor          = 3.0
)

// DeriveBadge maps a metric bundle to a badge with the reasons that fired.
// Reject conditions dominate flag conditions for the badge value, but every
// matching reason from both tiers is collected so consumers can display the
// full picture regardless of the final badge.
func DeriveBadge(b BundleV1) (Badge, []string) {
	var reasons []string
	hasReject := false
	hasFlag := false

	if !b.DecodeOK {
		reasons = append(reasons, "decode_ok=false")
		hasReject = true
	}
	if b.FacePresentRatio < RejectFacePresentFloor {
		reasons = append(reasons, fmt.Sprintf("face_present_ratio=%.2f < %.2f", b.FacePresentRatio, RejectFacePresentFloor))
		hasReject = true
	}
	if b.AVDurationDeltaMs > RejectAVDeltaCeilingMs {
		reasons = append(reasons, fmt.Sprintf("av_duration_delta_ms=%d > %d", b.AVDurationDeltaMs, int64(RejectAVDeltaCeilingMs)))
		hasReject = true
	}

	if b.FlickerScore > FlagFlickerCeiling {
		reasons = append(reasons, fmt.Sprintf("flicker_score=%.2f > %.2f", b.FlickerScore, FlagFlickerCeiling))
		hasFlag = true
	}
	if b.FreezeFrameRatio > FlagFreezeCeiling {
		reasons = append(reasons, fmt.Sprintf("freeze_frame_ratio=%.2f > %.2f", b.FreezeFrameRatio, FlagFreezeCeiling))
		hasFlag = true
	}
	if b.BlurScore < FlagBlurFloor {
		reasons = append(reasons, fmt.Sprintf("blur_score=%.2f < %.2f", b.BlurScore, FlagBlurFloor))
		hasFlag = true
	}
	if b.MouthAudioCorr < FlagMouthAudioCorFloor {
		reasons = append(reasons, fmt.Sprintf("mouth_audio_corr=%.2f < %.2f", b.MouthAudioCorr, FlagMouthAudioCorFloor))
		hasFlag = true
	}
	if b.LSEC != nil && *b.LSEC < FlagLSECFloor {
		reasons = append(reasons, fmt.Sprintf("lse_c=%.2f < %.2f", *b.LSEC, FlagLSECFloor))
		hasFlag = true
	}

	switch {
	case hasReject:
		return BadgeReject, reasons
	case hasFlag:
		return BadgeFlagged, reasons
	default:
		return BadgePass, reasons
	}
}
