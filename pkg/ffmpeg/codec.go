package ffmpeg

// PresetH264 is the delivery video encoding: broadly playable H.264 in
// yuv420p.
func PresetH264() []Option {
	return []Option{
		VideoCodec("libx264"),
		CRF(23),
		Preset("veryfast"),
		PixelFormat("yuv420p"),
		ExtraArgs("-profile:v", "high", "-level", "4.0"),
	}
}

// PresetAAC is stereo AAC at 128k.
func PresetAAC() []Option {
	return []Option{
		AudioCodec("aac"),
		AudioBitrate("128k"),
		AudioChannels(2),
	}
}
