package urlcheck

import "testing"

// TestClassify covers the accepted URL shapes and common rejects.
func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		want Source
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", SourceYouTube},
		{"http://youtube.com/watch?v=dQw4w9WgXcQ", SourceYouTube},
		{"youtube.com/watch?v=dQw4w9WgXcQ", SourceYouTube},
		{"https://youtu.be/dQw4w9WgXcQ", SourceYouTube},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", SourceYouTube},
		{"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ", SourceYouTube},
		{"https://www.youtube.com/v/dQw4w9WgXcQ", SourceYouTube},
		{"https://www.youtube.com/attribution_link?a=x&u=/watch?v=dQw4w9WgXcQ", SourceYouTube},
		{"  https://www.youtube.com/watch?v=dQw4w9WgXcQ  ", SourceYouTube},
		{"https://soundcloud.com/artist-name", SourceSoundCloud},
		{"https://www.soundcloud.com/artist/track.name", SourceSoundCloud},
		{"soundcloud.com/a", SourceSoundCloud},
		{"", SourceUnsupported},
		{"   ", SourceUnsupported},
		{"not a url", SourceUnsupported},
		{"https://vimeo.com/123456789", SourceUnsupported},
		{"https://www.youtube.com/watch?v=short", SourceUnsupported},
		{"https://soundcloud.com/", SourceUnsupported},
		{"ftp://www.youtube.com/watch?v=dQw4w9WgXcQ", SourceUnsupported},
		{"see https://youtu.be/dQw4w9WgXcQ", SourceUnsupported},
	}

	for _, tt := range tests {
		if got := Classify(tt.url); got != tt.want {
			t.Fatalf("Classify(%q) = %s, want %s", tt.url, got, tt.want)
		}
	}
}

// TestClassifyAcceptsCollectionReferences pins the known playlist leniency.
func TestClassifyAcceptsCollectionReferences(t *testing.T) {
	url := "https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLx0sYbCqOb8TBPRdmBHs5Iftvv9TPboYG"
	if got := Classify(url); got != SourceYouTube {
		t.Fatalf("Classify(%q) = %s, want %s", url, got, SourceYouTube)
	}
}

// TestSupported mirrors Classify.
func TestSupported(t *testing.T) {
	if !Supported("https://youtu.be/dQw4w9WgXcQ") {
		t.Fatal("expected youtu.be link to be supported")
	}
	if Supported("not a url") {
		t.Fatal("expected plain text to be unsupported")
	}
}
