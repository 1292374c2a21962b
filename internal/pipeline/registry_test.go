package pipeline

import "testing"

func TestBuiltinKindsRegistered(t *testing.T) {
	want := []string{
		"text_transform", "filter", "template", "command", "rate_limit",
		"schedule", "conditional", "attachment", "image_description",
		"url_tracking", "youtube_shorts_filter", "youtube_video_filter",
		"youtube_caption", "script",
	}

	registered := map[string]bool{}
	for _, k := range RegisteredKinds() {
		registered[k] = true
	}

	for _, k := range want {
		if !registered[k] {
			t.Errorf("stage kind %q not registered", k)
		}
	}
}

func TestBuildUnknownKind(t *testing.T) {
	if _, err := Build("nonexistent", nil); err == nil {
		t.Fatalf("expected error building unknown stage kind")
	}
}
