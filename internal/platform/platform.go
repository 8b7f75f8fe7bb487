package platform

import (
	"fmt"
	"sort"

	"github.com/ZacxDev/clip-composer/pkg/types"
)

// Platform defines the export settings for a target destination
type Platform interface {
	// GetName returns the platform name
	GetName() types.ProcessingPlatform

	// GetMaxDimensions returns the maximum output dimensions; zero means keep the hook's size
	GetMaxDimensions() (width, height int)

	// GetVideoCodec returns the preferred video codec
	GetVideoCodec() string

	// GetAudioCodec returns the preferred audio codec
	GetAudioCodec() string

	// GetVideoBitrate returns the video bitrate cap, or "" for quality-based encoding
	GetVideoBitrate() string

	// GetAudioBitrate returns the recommended audio bitrate
	GetAudioBitrate() string

	// GetOutputFormat returns the container format (e.g., "mp4")
	GetOutputFormat() string
}

var platforms = make(map[types.ProcessingPlatform]Platform)

// Register adds a platform to the registry
func Register(p Platform) {
	platforms[p.GetName()] = p
}

// Get returns a platform by name. An empty name resolves to the default profile.
func Get(name string) (Platform, error) {
	if name == "" {
		name = string(types.ProcessingPlatformDefault)
	}
	p, ok := platforms[types.ProcessingPlatform(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", name)
	}
	return p, nil
}

// Default returns the H.264/AAC MP4 profile.
func Default() Platform {
	return platforms[types.ProcessingPlatformDefault]
}

// GetSupportedPlatforms returns the sorted list of supported platform names
func GetSupportedPlatforms() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
