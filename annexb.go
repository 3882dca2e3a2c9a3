package starfish

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// BitstreamConverter normalizes container access units into the elementary
// form the engine decodes, and gates post-flush submission until the stream
// is decodable from the next buffer.
type BitstreamConverter interface {
	// Convert rewrites one access unit. The returned slice is only valid
	// until the next Convert call.
	Convert(au []byte) ([]byte, error)

	// CanStartDecode reports whether a decodable keyframe has been seen
	// since the last Reset.
	CanStartDecode() bool

	// Reset re-arms the keyframe gate after a flush.
	Reset()
}

var errMalformedAU = errors.New("malformed access unit")

var startCode = []byte{0, 0, 0, 1}

// AnnexBConverter converts AVCC/HVCC length-prefixed H.264/H.265 access
// units to Annex-B, inserting the extradata parameter sets ahead of
// keyframes. Streams already in Annex-B pass through untouched; only the
// keyframe gate applies.
type AnnexBConverter struct {
	codec VideoCodec

	// nalLengthSize is the length-prefix width from the configuration
	// record; 0 means the stream is already Annex-B.
	nalLengthSize int
	paramSets     []byte

	canStartDecode bool
	buf            []byte
}

// NewAnnexBConverter builds a converter from the stream extradata (an avcC
// or hvcC configuration record, or Annex-B parameter sets).
func NewAnnexBConverter(codec VideoCodec, extradata []byte) (*AnnexBConverter, error) {
	c := &AnnexBConverter{codec: codec}

	switch codec {
	case VideoCodecH264, VideoCodecH265:
	default:
		return nil, fmt.Errorf("annexb: unsupported codec %s", codec)
	}

	if len(extradata) == 0 {
		return c, nil
	}
	if isAnnexBStartCode(extradata) {
		// Already Annex-B; keep the parameter sets for keyframe insertion.
		c.paramSets = append([]byte(nil), extradata...)
		return c, nil
	}

	var err error
	if codec == VideoCodecH264 {
		err = c.parseAVCC(extradata)
	} else {
		err = c.parseHVCC(extradata)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// parseAVCC extracts the NAL length size and SPS/PPS from an
// AVCDecoderConfigurationRecord (ISO/IEC 14496-15 section 5.2.4.1).
func (c *AnnexBConverter) parseAVCC(ext []byte) error {
	if len(ext) < 7 || ext[0] != 1 {
		return fmt.Errorf("annexb: bad avcC record")
	}
	c.nalLengthSize = int(ext[4]&0x03) + 1

	pos := 5
	numSPS := int(ext[pos] & 0x1F)
	pos++
	for i := 0; i < numSPS; i++ {
		if err := c.appendParamSet(ext, &pos); err != nil {
			return err
		}
	}
	if pos >= len(ext) {
		return fmt.Errorf("annexb: truncated avcC record")
	}
	numPPS := int(ext[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		if err := c.appendParamSet(ext, &pos); err != nil {
			return err
		}
	}
	return nil
}

// parseHVCC extracts the NAL length size and VPS/SPS/PPS arrays from an
// HEVCDecoderConfigurationRecord (ISO/IEC 14496-15 section 8.3.3.1).
func (c *AnnexBConverter) parseHVCC(ext []byte) error {
	if len(ext) < 23 || ext[0] != 1 {
		return fmt.Errorf("annexb: bad hvcC record")
	}
	c.nalLengthSize = int(ext[21]&0x03) + 1

	numArrays := int(ext[22])
	pos := 23
	for i := 0; i < numArrays; i++ {
		if pos+3 > len(ext) {
			return fmt.Errorf("annexb: truncated hvcC record")
		}
		pos++ // array_completeness + NAL_unit_type
		count := int(binary.BigEndian.Uint16(ext[pos:]))
		pos += 2
		for j := 0; j < count; j++ {
			if err := c.appendParamSet(ext, &pos); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *AnnexBConverter) appendParamSet(ext []byte, pos *int) error {
	if *pos+2 > len(ext) {
		return fmt.Errorf("annexb: truncated parameter set")
	}
	n := int(binary.BigEndian.Uint16(ext[*pos:]))
	*pos += 2
	if *pos+n > len(ext) {
		return fmt.Errorf("annexb: truncated parameter set")
	}
	c.paramSets = append(c.paramSets, startCode...)
	c.paramSets = append(c.paramSets, ext[*pos:*pos+n]...)
	*pos += n
	return nil
}

// Convert implements BitstreamConverter.
func (c *AnnexBConverter) Convert(au []byte) ([]byte, error) {
	if len(au) == 0 {
		return au, nil
	}

	if c.nalLengthSize == 0 || isAnnexBStartCode(au) {
		if c.scanAnnexBKeyframe(au) {
			c.canStartDecode = true
		}
		return au, nil
	}

	c.buf = c.buf[:0]
	keyframe := false
	hasParams := false

	for pos := 0; pos < len(au); {
		if pos+c.nalLengthSize > len(au) {
			return nil, errMalformedAU
		}
		var n int
		for i := 0; i < c.nalLengthSize; i++ {
			n = n<<8 | int(au[pos+i])
		}
		pos += c.nalLengthSize
		if n <= 0 || pos+n > len(au) {
			return nil, errMalformedAU
		}

		nalType := c.nalType(au[pos])
		if c.isKeyframeNAL(nalType) {
			keyframe = true
		}
		if c.isParamSetNAL(nalType) {
			hasParams = true
		}

		c.buf = append(c.buf, startCode...)
		c.buf = append(c.buf, au[pos:pos+n]...)
		pos += n
	}

	if keyframe {
		c.canStartDecode = true
		if !hasParams && len(c.paramSets) > 0 {
			c.buf = append(append([]byte(nil), c.paramSets...), c.buf...)
		}
	}
	return c.buf, nil
}

// CanStartDecode implements BitstreamConverter.
func (c *AnnexBConverter) CanStartDecode() bool { return c.canStartDecode }

// Reset implements BitstreamConverter.
func (c *AnnexBConverter) Reset() { c.canStartDecode = false }

func (c *AnnexBConverter) nalType(header byte) byte {
	if c.codec == VideoCodecH265 {
		return (header >> 1) & 0x3F
	}
	return header & 0x1F
}

// isKeyframeNAL reports whether the NAL starts a decodable picture.
// H.264: IDR slice (type 5). H.265: IRAP pictures (BLA/IDR/CRA, types
// 16-21 per ITU-T H.265 Table 7-1).
func (c *AnnexBConverter) isKeyframeNAL(nalType byte) bool {
	if c.codec == VideoCodecH265 {
		return nalType >= 16 && nalType <= 21
	}
	return nalType == 5
}

func (c *AnnexBConverter) isParamSetNAL(nalType byte) bool {
	if c.codec == VideoCodecH265 {
		return nalType >= 32 && nalType <= 34 // VPS, SPS, PPS
	}
	return nalType == 7 || nalType == 8 // SPS, PPS
}

// scanAnnexBKeyframe walks start-code delimited NALs looking for a
// keyframe.
func (c *AnnexBConverter) scanAnnexBKeyframe(au []byte) bool {
	for i := 0; i+3 < len(au); i++ {
		if au[i] != 0 || au[i+1] != 0 {
			continue
		}
		var header int
		if au[i+2] == 1 {
			header = i + 3
		} else if au[i+2] == 0 && au[i+3] == 1 {
			header = i + 4
		} else {
			continue
		}
		if header < len(au) && c.isKeyframeNAL(c.nalType(au[header])) {
			return true
		}
	}
	return false
}

// isAnnexBStartCode checks for H.264/H.265 Annex-B start codes.
// Per ITU-T H.264 Annex B, NAL units are prefixed with:
//   - 4-byte start code: 0x00000001 (used at stream start and after certain NALUs)
//   - 3-byte start code: 0x000001 (used between NALUs)
func isAnnexBStartCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return data[0] == 0 && data[1] == 0 && data[2] == 1
}
