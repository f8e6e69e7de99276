package pipeline

import "github.com/makeastory/api/internal/config"

// OptionsFromConfig builds pipeline options from loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Pipeline
	return Options{
		Video: VideoSettings{
			SystemPrompt:    p.SystemPrompt,
			DurationSeconds: p.VideoDuration,
			Width:           p.VideoWidth,
			Height:          p.VideoHeight,
			FPS:             p.VideoFPS,
		},
		Sound: SoundSettings{
			TextPrompt:      p.SoundPrompt,
			NegativePrompt:  p.NegativePrompt,
			DurationSeconds: p.SoundDuration,
			Creativity:      p.SoundCreativity,
			NumSamples:      p.SoundSamples,
		},
		Debug:       p.Debug,
		ImageWidth:  cfg.Runware.ImageWidth,
		ImageHeight: cfg.Runware.ImageHeight,
	}
}
