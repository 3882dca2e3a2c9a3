package starfish

import (
	"encoding/json"
	"fmt"
)

// Engine payload documents. Field names, including the "seperatedPTS"
// misspelling, are fixed by the StarFish protocol.

// esData discriminator values in the feed payload.
const (
	esDataVideo = 1
	esDataAudio = 2
)

type loadPayload struct {
	Args []loadArg `json:"args"`
}

type loadArg struct {
	MediaTransportType string     `json:"mediaTransportType"`
	IsAudioOnly        bool       `json:"isAudioOnly,omitempty"`
	Option             loadOption `json:"option"`
}

type loadOption struct {
	AppID                 string                 `json:"appId"`
	WindowID              string                 `json:"windowId,omitempty"`
	QueryPosition         bool                   `json:"queryPosition,omitempty"`
	NeedAudio             bool                   `json:"needAudio"`
	SeekMode              string                 `json:"seekMode,omitempty"`
	LowDelayMode          bool                   `json:"lowDelayMode,omitempty"`
	Transmission          *transmissionInfo      `json:"transmission,omitempty"`
	ExternalStreamingInfo *externalStreamingInfo `json:"externalStreamingInfo,omitempty"`
}

type transmissionInfo struct {
	ContentsType string `json:"contentsType"` // "LIVE", "WebRTC"
}

type externalStreamingInfo struct {
	Contents  contentsInfo  `json:"contents"`
	Buffering bufferingInfo `json:"bufferingCtrInfo"`
}

type contentsInfo struct {
	Codec        codecInfo     `json:"codec"`
	ESInfo       *esInfo       `json:"esInfo,omitempty"`
	Format       string        `json:"format"`
	PCMInfo      *pcmInfo      `json:"pcmInfo,omitempty"`
	AC3PlusInfo  *ac3PlusInfo  `json:"ac3PlusInfo,omitempty"`
	DolbyHDRInfo *dolbyHDRInfo `json:"DolbyHdrInfo,omitempty"`
}

type codecInfo struct {
	Video string `json:"video,omitempty"`
	Audio string `json:"audio,omitempty"`
}

type esInfo struct {
	PauseAtDecodeTime bool  `json:"pauseAtDecodeTime"`
	SeparatedPTS      bool  `json:"seperatedPTS"`
	PTSToDecode       int64 `json:"ptsToDecode"`
	VideoWidth        int   `json:"videoWidth,omitempty"`
	VideoHeight       int   `json:"videoHeight,omitempty"`
	VideoFPSValue     int   `json:"videoFpsValue,omitempty"`
	VideoFPSScale     int   `json:"videoFpsScale,omitempty"`
}

type pcmInfo struct {
	BitsPerSample int    `json:"bitsPerSample"`
	SampleRate    int    `json:"sampleRate"`
	Layout        string `json:"layout"` // "interleaved" / "non-interleaved"
	ChannelMode   string `json:"channelMode"`
	Format        string `json:"format"`
}

type ac3PlusInfo struct {
	Channels  int     `json:"channels"`
	Frequency float64 `json:"frequency"` // kHz
}

type dolbyHDRInfo struct {
	EncryptionType string `json:"encryptionType"` // "clear", "bl", "el", "all"
	ProfileID      int    `json:"profileId"`
	TrackType      string `json:"trackType"` // "single" / "dual"
}

type bufferingInfo struct {
	PreBufferByte       int         `json:"preBufferByte"`
	BufferMinLevel      int         `json:"bufferMinLevel"`
	BufferMaxLevel      int         `json:"bufferMaxLevel"`
	QBufferLevelVideo   int         `json:"qBufferLevelVideo,omitempty"`
	QBufferLevelAudio   int         `json:"qBufferLevelAudio,omitempty"`
	SrcBufferLevelVideo *levelRange `json:"srcBufferLevelVideo,omitempty"`
	SrcBufferLevelAudio *levelRange `json:"srcBufferLevelAudio,omitempty"`
}

type levelRange struct {
	Minimum int `json:"minimum"`
	Maximum int `json:"maximum"`
}

// Video source-buffer thresholds. The engine starts rejecting Feed with
// BufferFull once the source buffer exceeds the maximum.
const (
	videoQueueBufferLevel = 1 << 20
	videoSrcBufferMin     = 1 << 20
	videoSrcBufferMax     = 8 << 20
)

func (l loadPayload) encode() (string, error) {
	raw, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode load payload: %w", err)
	}
	return string(raw), nil
}

// feedPayload is the per-buffer submission document. BufferAddr references
// externally owned memory; it is only valid for the duration of the Feed
// call.
type feedPayload struct {
	BufferAddr string `json:"bufferAddr"`
	BufferSize int    `json:"bufferSize"`
	PTS        int64  `json:"pts"`
	ESData     int    `json:"esData"`
}

func encodeFeedPayload(addr uintptr, size int, pts int64, esData int) string {
	raw, err := json.Marshal(feedPayload{
		BufferAddr: fmt.Sprintf("0x%x", addr),
		BufferSize: size,
		PTS:        pts,
		ESData:     esData,
	})
	if err != nil {
		// Marshalling a flat struct of scalars cannot fail.
		panic(err)
	}
	return string(raw)
}

// HDR metadata payload for SetHdrInfo.

type hdrPayload struct {
	HDRType string  `json:"hdrType"`
	SEI     *hdrSEI `json:"sei,omitempty"`
	VUI     *hdrVUI `json:"vui,omitempty"`
}

// hdrSEI mirrors the mastering display color volume SEI. Chromaticities are
// in 0.00002 units, luminance in 0.0001 cd/m2; see CTA-861.3-A.
type hdrSEI struct {
	DisplayPrimariesX0           uint16 `json:"displayPrimariesX0"`
	DisplayPrimariesY0           uint16 `json:"displayPrimariesY0"`
	DisplayPrimariesX1           uint16 `json:"displayPrimariesX1"`
	DisplayPrimariesY1           uint16 `json:"displayPrimariesY1"`
	DisplayPrimariesX2           uint16 `json:"displayPrimariesX2"`
	DisplayPrimariesY2           uint16 `json:"displayPrimariesY2"`
	WhitePointX                  uint16 `json:"whitePointX"`
	WhitePointY                  uint16 `json:"whitePointY"`
	MinDisplayMasteringLuminance uint32 `json:"minDisplayMasteringLuminance"`
	MaxDisplayMasteringLuminance uint32 `json:"maxDisplayMasteringLuminance"`
	MaxContentLightLevel         uint16 `json:"maxContentLightLevel,omitempty"`
	MaxPicAverageLightLevel      uint16 `json:"maxPicAverageLightLevel,omitempty"`
}

type hdrVUI struct {
	TransferCharacteristics int  `json:"transferCharacteristics"`
	ColorPrimaries          int  `json:"colorPrimaries"`
	MatrixCoeffs            int  `json:"matrixCoeffs"`
	VideoFullRangeFlag      bool `json:"videoFullRangeFlag"`
}

const (
	maxChromaticity = 50000
	maxLuminance    = 10000
)

func scaleChromaticity(v float64) uint16 {
	return uint16(v*maxChromaticity + 0.5)
}

// buildHDRPayload converts the descriptor's mastering metadata into the
// engine's HDR document. Returns "" when the stream carries none.
func buildHDRPayload(d StreamDescriptor) string {
	if d.Mastering == nil {
		return ""
	}

	sei := &hdrSEI{
		DisplayPrimariesX0:           scaleChromaticity(d.Mastering.DisplayPrimaries[0][0]),
		DisplayPrimariesY0:           scaleChromaticity(d.Mastering.DisplayPrimaries[0][1]),
		DisplayPrimariesX1:           scaleChromaticity(d.Mastering.DisplayPrimaries[1][0]),
		DisplayPrimariesY1:           scaleChromaticity(d.Mastering.DisplayPrimaries[1][1]),
		DisplayPrimariesX2:           scaleChromaticity(d.Mastering.DisplayPrimaries[2][0]),
		DisplayPrimariesY2:           scaleChromaticity(d.Mastering.DisplayPrimaries[2][1]),
		WhitePointX:                  scaleChromaticity(d.Mastering.WhitePoint[0]),
		WhitePointY:                  scaleChromaticity(d.Mastering.WhitePoint[1]),
		MinDisplayMasteringLuminance: uint32(d.Mastering.MinLuminance + 0.5),
		MaxDisplayMasteringLuminance: uint32(d.Mastering.MaxLuminance*maxLuminance + 0.5),
	}
	// HDR content may omit content light level metadata.
	if d.ContentLight != nil {
		sei.MaxContentLightLevel = uint16(d.ContentLight.MaxCLL)
		sei.MaxPicAverageLightLevel = uint16(d.ContentLight.MaxFALL)
	}

	payload := hdrPayload{
		HDRType: d.Color.HDRType().String(),
		SEI:     sei,
		VUI: &hdrVUI{
			TransferCharacteristics: d.Color.TransferCharacteristics,
			ColorPrimaries:          d.Color.Primaries,
			MatrixCoeffs:            d.Color.MatrixCoeffs,
			VideoFullRangeFlag:      d.Color.FullRange,
		},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}
