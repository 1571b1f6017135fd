package sync

import (
	"testing"
	"time"
)

func TestDecideCatalogSync(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * 24 * time.Hour)
	stale := now.Add(-31 * 24 * time.Hour)

	tests := []struct {
		name            string
		fingerprint     string
		lastFingerprint string
		lastFullSync    *time.Time
		force           bool
		wantFull        bool
		wantReason      string
	}{
		{
			name:            "フィンガープリント一致かつ1ヶ月以内はスキップ",
			fingerprint:     "etag:abc",
			lastFingerprint: "etag:abc",
			lastFullSync:    &recent,
			wantFull:        false,
			wantReason:      "unchanged",
		},
		{
			name:            "フィンガープリント変化時はフルスキャン",
			fingerprint:     "etag:def",
			lastFingerprint: "etag:abc",
			lastFullSync:    &recent,
			wantFull:        true,
			wantReason:      "fingerprint_changed",
		},
		{
			name:            "一致していても1ヶ月超過でフルスキャン",
			fingerprint:     "etag:abc",
			lastFingerprint: "etag:abc",
			lastFullSync:    &stale,
			wantFull:        true,
			wantReason:      "full_sync_stale",
		},
		{
			name:            "強制実行は常にフルスキャン",
			fingerprint:     "etag:abc",
			lastFingerprint: "etag:abc",
			lastFullSync:    &recent,
			force:           true,
			wantFull:        true,
			wantReason:      "forced",
		},
		{
			name:            "プローブ失敗（空フィンガープリント）はフルスキャン",
			fingerprint:     "",
			lastFingerprint: "etag:abc",
			lastFullSync:    &recent,
			wantFull:        true,
			wantReason:      "fingerprint_unavailable",
		},
		{
			name:            "前回フィンガープリント未保存はフルスキャン",
			fingerprint:     "etag:abc",
			lastFingerprint: "",
			lastFullSync:    &recent,
			wantFull:        true,
			wantReason:      "fingerprint_unavailable",
		},
		{
			name:            "フルスキャン実績なしはフルスキャン",
			fingerprint:     "etag:abc",
			lastFingerprint: "etag:abc",
			lastFullSync:    nil,
			wantFull:        true,
			wantReason:      "never_synced",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideCatalogSync(tt.fingerprint, tt.lastFingerprint, tt.lastFullSync, tt.force, now)
			if got.FullSync != tt.wantFull {
				t.Errorf("FullSync = %v, want %v", got.FullSync, tt.wantFull)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestReportsSince(t *testing.T) {
	t.Run("成功実績なしはnil（全件取得）", func(t *testing.T) {
		if got := ReportsSince(nil); got != nil {
			t.Errorf("ReportsSince(nil) = %v, want nil", got)
		}
	})

	t.Run("成功実績ありは重複マージン付きの起点", func(t *testing.T) {
		last := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
		got := ReportsSince(&last)
		if got == nil {
			t.Fatal("ReportsSinceはnilを返すべきではありません")
		}
		want := last.Add(-5 * time.Minute)
		if !got.Equal(want) {
			t.Errorf("ReportsSince = %v, want %v", got, want)
		}
	})
}
