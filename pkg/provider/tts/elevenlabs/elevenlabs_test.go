package elevenlabs

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildURLForVoice(t *testing.T) {
	t.Parallel()

	url := buildURLForVoice("voice-123", "eleven_flash_v2_5")
	if !strings.Contains(url, "/voice-123/") || !strings.Contains(url, "model_id=eleven_flash_v2_5") {
		t.Errorf("unexpected URL: %s", url)
	}
}

func TestFormatSampleRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   int
	}{
		{"pcm_16000", 16000},
		{"pcm_24000", 24000},
		{"mp3_44100_128", 16000},
		{"", 16000},
	}
	for _, tt := range tests {
		if got := formatSampleRate(tt.format); got != tt.want {
			t.Errorf("formatSampleRate(%q) = %d, want %d", tt.format, got, tt.want)
		}
	}
}

func TestToProfiles(t *testing.T) {
	t.Parallel()

	raw := `{"voices":[{"voice_id":"v1","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`
	var vr voicesResponse
	if err := json.Unmarshal([]byte(raw), &vr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p := &Provider{outputFormat: "pcm_24000"}
	profiles := p.toProfiles(vr)
	if len(profiles) != 1 {
		t.Fatalf("profile count: got %d, want 1", len(profiles))
	}
	got := profiles[0]
	if got.ID != "v1" || got.Name != "Rachel" || got.Provider != "elevenlabs" {
		t.Errorf("profile: %+v", got)
	}
	if got.SampleRate != 24000 {
		t.Errorf("sample rate: got %d, want 24000", got.SampleRate)
	}
	if got.Metadata["category"] != "premade" || got.Metadata["accent"] != "american" {
		t.Errorf("metadata: %v", got.Metadata)
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("New(\"\") should fail")
	}
}
