package starfish

import (
	"bytes"
	"time"
)

// VideoCodec identifies the compressed video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecMPEG2
	VideoCodecMPEG4
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecH265
	VideoCodecVC1
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecMPEG2:
		return "MPEG2"
	case VideoCodecMPEG4:
		return "MPEG4"
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	case VideoCodecVC1:
		return "VC1"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// engineName returns the codec identifier the engine expects in the load
// payload, or "" if the engine cannot decode this codec.
func (c VideoCodec) engineName() string {
	switch c {
	case VideoCodecMPEG2, VideoCodecMPEG4, VideoCodecVP8, VideoCodecVP9,
		VideoCodecH264, VideoCodecH265, VideoCodecVC1, VideoCodecAV1:
		return c.String()
	default:
		return ""
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecMPEG2:
		return "video/mpeg2"
	case VideoCodecMPEG4:
		return "video/mp4v-es"
	case VideoCodecVP8:
		return "video/x-vnd.on2.vp8"
	case VideoCodecVP9:
		return "video/x-vnd.on2.vp9"
	case VideoCodecH264:
		return "video/avc"
	case VideoCodecH265:
		return "video/hevc"
	case VideoCodecVC1:
		return "video/wvc1"
	case VideoCodecAV1:
		return "video/av01"
	default:
		return ""
	}
}

// AudioCodec identifies the audio codec type fed to the engine.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecPCM
	AudioCodecAC3
	AudioCodecEAC3
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecPCM:
		return "PCM"
	case AudioCodecAC3:
		return "AC3"
	case AudioCodecEAC3:
		return "AC3 PLUS"
	default:
		return "Unknown"
	}
}

// Passthrough reports whether the codec is a compressed bitstream handed to
// the engine untouched.
func (c AudioCodec) Passthrough() bool {
	return c == AudioCodecAC3 || c == AudioCodecEAC3
}

// SampleFormat represents PCM sample formats.
type SampleFormat int

const (
	SampleFormatS16LE SampleFormat = iota
	SampleFormatS16BE
	SampleFormatS32LE
	SampleFormatS32BE
	SampleFormatU8
	SampleFormatF32LE
	SampleFormatF64LE
)

// engineName returns the pcmInfo format string the engine expects.
func (f SampleFormat) engineName() string {
	switch f {
	case SampleFormatU8:
		return "U8"
	case SampleFormatS16LE:
		return "S16LE"
	case SampleFormatS16BE:
		return "S16BE"
	case SampleFormatS32LE:
		return "S32LE"
	case SampleFormatS32BE:
		return "S32BE"
	case SampleFormatF32LE:
		return "F32LE"
	case SampleFormatF64LE:
		return "F64LE"
	default:
		return ""
	}
}

// Bits returns the bits per sample for this format.
func (f SampleFormat) Bits() int {
	switch f {
	case SampleFormatU8:
		return 8
	case SampleFormatS16LE, SampleFormatS16BE:
		return 16
	case SampleFormatS32LE, SampleFormatS32BE, SampleFormatF32LE:
		return 32
	case SampleFormatF64LE:
		return 64
	default:
		return 0
	}
}

// HDRType names the transfer function family of HDR content.
type HDRType int

const (
	HDRTypeNone HDRType = iota
	HDRType10           // SMPTE ST 2084 (PQ)
	HDRTypeHLG          // ARIB STD-B67
	HDRTypeDolbyVision
)

func (t HDRType) String() string {
	switch t {
	case HDRType10:
		return "HDR10"
	case HDRTypeHLG:
		return "HLG"
	case HDRTypeDolbyVision:
		return "DolbyVision"
	default:
		return "none"
	}
}

// MasteringMetadata carries the mastering display color volume, already
// derived by the demuxer (SMPTE ST 2086). Chromaticities are CIE 1931
// coordinates, luminances in cd/m2.
type MasteringMetadata struct {
	DisplayPrimaries [3][2]float64
	WhitePoint       [2]float64
	MinLuminance     float64
	MaxLuminance     float64
}

// ContentLightMetadata carries content light level info (CTA-861.3).
type ContentLightMetadata struct {
	MaxCLL  int
	MaxFALL int
}

// ColorInfo carries the VUI color description of the stream. The integer
// fields use the ISO/IEC 23001-8 code points as delivered by the demuxer.
type ColorInfo struct {
	TransferCharacteristics int
	Primaries               int
	MatrixCoeffs            int
	FullRange               bool
}

// Transfer-characteristics code points that select the HDR type.
const (
	transferSMPTE2084 = 16 // PQ
	transferARIBB67   = 18 // HLG
)

// HDRType derives the engine-facing HDR type from the transfer function.
func (c ColorInfo) HDRType() HDRType {
	switch c.TransferCharacteristics {
	case transferSMPTE2084:
		return HDRType10
	case transferARIBB67:
		return HDRTypeHLG
	default:
		return HDRTypeNone
	}
}

// StreamDescriptor describes one elementary video stream. It is immutable
// once a feed is open except through Reconfigure.
type StreamDescriptor struct {
	ID       int
	Codec    VideoCodec
	CodecTag uint32

	Width    int
	Height   int
	FPSRate  int
	FPSScale int

	// PTSInvalid marks sources whose container timestamps are unusable.
	PTSInvalid bool

	Extradata []byte

	// Encrypted streams bypass local bitstream conversion; the engine
	// receives the original access units.
	Encrypted bool

	// DolbyVision marks streams with Dolby Vision side data but no
	// dvhe/dvh1 codec tag.
	DolbyVision bool

	Mastering    *MasteringMetadata
	ContentLight *ContentLightMetadata
	Color        ColorInfo
}

// CompareFlags selects which descriptor fields Equal ignores.
type CompareFlags int

const (
	CompareID CompareFlags = 1 << iota
	CompareExtradata
)

// EqualIgnoring reports whether two descriptors match, ignoring the fields
// selected by flags. Reconfigure uses CompareID|CompareExtradata: a stream
// id or parameter-set refresh is compatible, anything else is not.
func (d StreamDescriptor) EqualIgnoring(other StreamDescriptor, flags CompareFlags) bool {
	if flags&CompareID == 0 && d.ID != other.ID {
		return false
	}
	if flags&CompareExtradata == 0 && !bytes.Equal(d.Extradata, other.Extradata) {
		return false
	}
	return d.Codec == other.Codec &&
		d.CodecTag == other.CodecTag &&
		d.Width == other.Width &&
		d.Height == other.Height &&
		d.FPSRate == other.FPSRate &&
		d.FPSScale == other.FPSScale &&
		d.PTSInvalid == other.PTSInvalid &&
		d.Encrypted == other.Encrypted &&
		d.DolbyVision == other.DolbyVision
}

// FrameDuration returns the nominal picture duration, or a 1ns floor when
// the descriptor carries no frame rate.
func (d StreamDescriptor) FrameDuration() time.Duration {
	if d.FPSRate > 0 && d.FPSScale > 0 {
		return time.Duration(int64(time.Second) * int64(d.FPSScale) / int64(d.FPSRate))
	}
	return time.Nanosecond
}

// Dolby Vision codec tags (ISO BMFF sample entry fourccs).
const (
	tagDVHE = 'd'<<0 | 'v'<<8 | 'h'<<16 | 'e'<<24
	tagDVH1 = 'd'<<0 | 'v'<<8 | 'h'<<16 | '1'<<24
	tagHVC1 = 'h'<<0 | 'v'<<8 | 'c'<<16 | '1'<<24
)

// AudioDescriptor describes one elementary audio stream.
type AudioDescriptor struct {
	Codec      AudioCodec
	SampleRate int
	Channels   int

	// PCM only.
	Format SampleFormat
	Planar bool

	// Passthrough only: bytes per compressed frame. Defaults to 1536 when
	// unset, matching AC3/E-AC3 syncframes.
	FrameSize int
}

// Samples per AC3/E-AC3 syncframe.
const ac3SamplesPerFrame = 1536

// normalized returns a copy with passthrough defaults applied.
func (d AudioDescriptor) normalized() AudioDescriptor {
	if d.Codec.Passthrough() && d.FrameSize == 0 {
		d.FrameSize = 1536
	}
	return d
}

// FrameDuration returns the duration of one compressed frame. PCM buffer
// durations depend on the submitted frame count instead; see
// AudioFeed.Feed.
func (d AudioDescriptor) FrameDuration() time.Duration {
	if !d.Codec.Passthrough() || d.SampleRate == 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * ac3SamplesPerFrame / int64(d.SampleRate))
}

// channelMode maps the channel count onto the engine's pcmInfo channelMode
// strings. Only mono, stereo and 5.1 layouts exist on the platform.
func (d AudioDescriptor) channelMode() string {
	switch d.Channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	case 6:
		return "6-channel"
	default:
		return ""
	}
}
