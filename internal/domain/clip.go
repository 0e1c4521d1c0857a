package domain

// ClipRequest is the body of an extract-clip task.
type ClipRequest struct {
	YoutubeURL string  `json:"youtubeUrl"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
}

// ClipResult describes an extracted clip waiting in the temp directory.
type ClipResult struct {
	DownloadURL   string  `json:"downloadUrl"`
	FileName      string  `json:"fileName"`
	FileSize      string  `json:"fileSize"`
	Duration      float64 `json:"duration"`
	StartTime     float64 `json:"startTime"`
	EndTime       float64 `json:"endTime"`
	VideoID       string  `json:"videoId"`
	OriginalURL   string  `json:"originalUrl"`
	NormalizedURL string  `json:"normalizedUrl"`
	CreatedAt     string  `json:"createdAt"`
}
