package media

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"clip-dispatch/internal/domain"
)

const videoIDLength = 11

// Supported YouTube URL shapes. The video id is the last capture group.
var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/watch\?.*[&?]v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`^(https?://)?youtu\.be/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/v/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`^(https?://)?(m\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
}

// VideoURL is a validated YouTube video reference.
type VideoURL struct {
	VideoID    string
	Normalized string
}

// ValidateAndNormalizeURL extracts the video id from a YouTube URL and
// returns the canonical watch URL for it.
func ValidateAndNormalizeURL(raw string) (VideoURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return VideoURL{}, fmt.Errorf("%w: youtubeUrl is required", domain.ErrInvalidClipRequest)
	}

	var id string
	for _, p := range youtubePatterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			id = m[len(m)-1]
			break
		}
	}

	// Fall back to the v query parameter.
	if id == "" {
		candidate := raw
		if !strings.HasPrefix(candidate, "http") {
			candidate = "https://" + candidate
		}
		if u, err := url.Parse(candidate); err == nil {
			id = u.Query().Get("v")
		}
	}

	if len(id) != videoIDLength {
		return VideoURL{}, fmt.Errorf("%w: invalid YouTube URL format, please provide a valid YouTube video URL",
			domain.ErrInvalidClipRequest)
	}
	return VideoURL{
		VideoID:    id,
		Normalized: "https://www.youtube.com/watch?v=" + id,
	}, nil
}

// IsYouTubeURL reports whether raw is an accepted YouTube video URL.
func IsYouTubeURL(raw string) bool {
	_, err := ValidateAndNormalizeURL(raw)
	return err == nil
}
