package platform

import "github.com/ZacxDev/clip-composer/pkg/types"

type preset struct {
	name         types.ProcessingPlatform
	maxWidth     int
	maxHeight    int
	videoBitrate string
	audioBitrate string
}

func init() {
	for _, p := range []*preset{
		{name: types.ProcessingPlatformDefault, audioBitrate: "192k"},
		{name: types.ProcessingPlatformTikTok, maxWidth: 1080, maxHeight: 1920, videoBitrate: "2M", audioBitrate: "128k"},
		{name: types.ProcessingPlatformInstagramReel, maxWidth: 1080, maxHeight: 1920, videoBitrate: "2M", audioBitrate: "128k"},
		{name: types.ProcessingPlatformReddit, maxWidth: 1920, maxHeight: 1080, videoBitrate: "4M", audioBitrate: "192k"},
		{name: types.ProcessingPlatformXTwitter, maxWidth: 1920, maxHeight: 1200, videoBitrate: "2M", audioBitrate: "128k"},
	} {
		Register(p)
	}
}

func (p *preset) GetName() types.ProcessingPlatform { return p.name }

func (p *preset) GetMaxDimensions() (width, height int) { return p.maxWidth, p.maxHeight }

// All presets export H.264 for compatibility
func (p *preset) GetVideoCodec() string { return "libx264" }

func (p *preset) GetAudioCodec() string { return "aac" }

func (p *preset) GetVideoBitrate() string { return p.videoBitrate }

func (p *preset) GetAudioBitrate() string { return p.audioBitrate }

func (p *preset) GetOutputFormat() string { return "mp4" }
