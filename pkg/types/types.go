package types

type ProcessingPlatform string

const (
	ProcessingPlatformDefault       ProcessingPlatform = "default"
	ProcessingPlatformTikTok        ProcessingPlatform = "tiktok"
	ProcessingPlatformInstagramReel ProcessingPlatform = "instagram-reel"
	ProcessingPlatformReddit        ProcessingPlatform = "reddit"
	ProcessingPlatformXTwitter      ProcessingPlatform = "x-twitter"
)

// GenerateResponse is returned by POST /generate on success.
type GenerateResponse struct {
	DownloadURL string `json:"downloadUrl"`
}
