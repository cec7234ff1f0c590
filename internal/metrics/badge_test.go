package metrics_test

import (
	"strings"
	"testing"

	"mirage/internal/metrics"
)

func healthyBundle() metrics.BundleV1 {
	return metrics.BundleV1{
		DecodeOK:          true,
		VideoDurationMs:   5000,
		AudioDurationMs:   5000,
		AVDurationDeltaMs: 0,
		FPS:               25,
		FrameCount:        125,
		FreezeFrameRatio:  0.05,
		FlickerScore:      2.0,
		BlurScore:         80.0,
		FacePresentRatio:  0.95,
		MouthAudioCorr:    0.4,
	}
}

func TestDeriveBadgePass(t *testing.T) {
	badge, reasons := metrics.DeriveBadge(healthyBundle())
	if badge != metrics.BadgePass {
		t.Fatalf("expected pass, got %s (reasons %v)", badge, reasons)
	}
	if len(reasons) != 0 {
		t.Fatalf("pass badge should carry no reasons, got %v", reasons)
	}
}

func TestDecodeFailureAlwaysRejects(t *testing.T) {
	// Even a bundle that is otherwise perfect must reject on decode failure.
	b := healthyBundle()
	b.DecodeOK = false
	badge, reasons := metrics.DeriveBadge(b)
	if badge != metrics.BadgeReject {
		t.Fatalf("expected reject, got %s", badge)
	}
	found := false
	for _, r := range reasons {
		if strings.Contains(r, "decode_ok=false") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected decode failure reason, got %v", reasons)
	}
}

func TestRejectConditions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*metrics.BundleV1)
		reason string
	}{
		{"face floor", func(b *metrics.BundleV1) { b.FacePresentRatio = 0.1 }, "face_present_ratio"},
		{"av delta ceiling", func(b *metrics.BundleV1) { b.AVDurationDeltaMs = 900 }, "av_duration_delta_ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := healthyBundle()
			tc.mutate(&b)
			badge, reasons := metrics.DeriveBadge(b)
			if badge != metrics.BadgeReject {
				t.Fatalf("expected reject, got %s", badge)
			}
			if !containsSubstring(reasons, tc.reason) {
				t.Fatalf("missing reason %q in %v", tc.reason, reasons)
			}
		})
	}
}

func TestFlagConditions(t *testing.T) {
	lowLSEC := 1.5
	cases := []struct {
		name   string
		mutate func(*metrics.BundleV1)
		reason string
	}{
		{"flicker", func(b *metrics.BundleV1) { b.FlickerScore = 15 }, "flicker_score"},
		{"freeze", func(b *metrics.BundleV1) { b.FreezeFrameRatio = 0.5 }, "freeze_frame_ratio"},
		{"blur", func(b *metrics.BundleV1) { b.BlurScore = 5 }, "blur_score"},
		{"mouth corr", func(b *metrics.BundleV1) { b.MouthAudioCorr = -0.5 }, "mouth_audio_corr"},
		{"lse_c", func(b *metrics.BundleV1) { b.LSEC = &lowLSEC }, "lse_c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := healthyBundle()
			tc.mutate(&b)
			badge, reasons := metrics.DeriveBadge(b)
			if badge != metrics.BadgeFlagged {
				t.Fatalf("expected flagged, got %s (reasons %v)", badge, reasons)
			}
			if !containsSubstring(reasons, tc.reason) {
				t.Fatalf("missing reason %q in %v", tc.reason, reasons)
			}
		})
	}
}

func TestRejectDominatesButFlagReasonsCollected(t *testing.T) {
	b := healthyBundle()
	b.FacePresentRatio = 0.0 // reject
	b.BlurScore = 1.0        // flag
	badge, reasons := metrics.DeriveBadge(b)
	if badge != metrics.BadgeReject {
		t.Fatalf("expected reject, got %s", badge)
	}
	if !containsSubstring(reasons, "face_present_ratio") || !containsSubstring(reasons, "blur_score") {
		t.Fatalf("expected both reject and flag reasons, got %v", reasons)
	}
}

func TestNilLSECDoesNotFlag(t *testing.T) {
	b := healthyBundle()
	b.LSEC = nil
	badge, _ := metrics.DeriveBadge(b)
	if badge != metrics.BadgePass {
		t.Fatalf("nil lse_c must not flag, got %s", badge)
	}
}

func containsSubstring(values []string, substr string) bool {
	for _, v := range values {
		if strings.Contains(v, substr) {
			return true
		}
	}
	return false
}
