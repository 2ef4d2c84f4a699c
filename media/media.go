// Package media provides ffmpeg-backed probing and transcoding of uploaded
// audio and video sources.
package media

import (
	"strings"
)

// Audio format constants.
const (
	AudioFormatWAV  = "wav"
	AudioFormatMP3  = "mp3"
	AudioFormatFLAC = "flac"
	AudioFormatOGG  = "ogg"
	AudioFormatM4A  = "m4a"
	AudioFormatAAC  = "aac"
	AudioFormatWebM = "webm"
)

// Audio MIME type constants.
const (
	MIMETypeAudioWAV  = "audio/wav"
	MIMETypeAudioMP3  = "audio/mpeg"
	MIMETypeAudioFLAC = "audio/flac"
	MIMETypeAudioOGG  = "audio/ogg"
	MIMETypeAudioM4A  = "audio/mp4"
	MIMETypeAudioAAC  = "audio/aac"
	MIMETypeAudioWebM = "audio/webm"
)

// Video MIME type constants. Video sources are accepted and stripped to
// their audio track during transcoding.
const (
	MIMETypeVideoMP4  = "video/mp4"
	MIMETypeVideoWebM = "video/webm"
	MIMETypeVideoMOV  = "video/quicktime"
	MIMETypeVideoMKV  = "video/x-matroska"
)

// AllowedMIMETypes returns the source types advertised to upload
// clients. Acceptance itself is by family, so unlisted audio/* and
// video/* subtypes still pass IsAllowedMIMEType.
func AllowedMIMETypes() []string {
	return []string{
		MIMETypeAudioWAV, MIMETypeAudioMP3, MIMETypeAudioFLAC,
		MIMETypeAudioOGG, MIMETypeAudioM4A, MIMETypeAudioAAC,
		MIMETypeAudioWebM,
		MIMETypeVideoMP4, MIMETypeVideoWebM, MIMETypeVideoMOV,
		MIMETypeVideoMKV,
	}
}

// IsAllowedMIMEType reports whether a source MIME type is accepted for
// transcription. Only audio/* and video/* families are allowed.
func IsAllowedMIMEType(mimeType string) bool {
	mimeType = NormalizeMIMEType(mimeType)
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}

// ExtensionForMIMEType returns the container extension ffmpeg should assume
// for a source MIME type.
func ExtensionForMIMEType(mimeType string) string {
	switch NormalizeMIMEType(mimeType) {
	case MIMETypeAudioWAV:
		return AudioFormatWAV
	case MIMETypeAudioMP3:
		return AudioFormatMP3
	case MIMETypeAudioFLAC:
		return AudioFormatFLAC
	case MIMETypeAudioOGG:
		return AudioFormatOGG
	case MIMETypeAudioM4A:
		return AudioFormatM4A
	case MIMETypeAudioAAC:
		return AudioFormatAAC
	case MIMETypeAudioWebM, MIMETypeVideoWebM:
		return AudioFormatWebM
	case MIMETypeVideoMP4:
		return "mp4"
	case MIMETypeVideoMOV:
		return "mov"
	case MIMETypeVideoMKV:
		return "mkv"
	default:
		// Let ffmpeg sniff the container
		return "bin"
	}
}

// NormalizeMIMEType normalizes MIME type variations to a canonical form.
func NormalizeMIMEType(mimeType string) string {
	// Remove any parameters (e.g., "audio/wav; codecs=...")
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = mimeType[:idx]
	}

	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	// Normalize common variations
	switch mimeType {
	case "audio/x-wav", "audio/wave":
		return MIMETypeAudioWAV
	case "audio/mp3":
		return MIMETypeAudioMP3
	case "audio/x-flac":
		return MIMETypeAudioFLAC
	case "audio/x-m4a":
		return MIMETypeAudioM4A
	default:
		return mimeType
	}
}
