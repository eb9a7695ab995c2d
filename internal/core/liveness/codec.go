package liveness

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-gamenet/internal/core/envelope"
)

const (
	fieldSeq    protowire.Number = 1
	fieldSentAt protowire.Number = 2
)

// ErrMalformedProbe 探测帧格式错误
var ErrMalformedProbe = errors.New("liveness: malformed probe")

// probe 探测帧内容
type probe struct {
	seq    uint32
	sentAt int64
}

func encodeProbe(marker envelope.Marker, p probe) []byte {
	buf := []byte{byte(marker)}
	buf = protowire.AppendTag(buf, fieldSeq, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(p.seq))
	buf = protowire.AppendTag(buf, fieldSentAt, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, uint64(p.sentAt))
	return buf
}

func decodeProbe(marker envelope.Marker, data []byte) (probe, error) {
	var p probe
	if len(data) == 0 || envelope.Marker(data[0]) != marker {
		return p, ErrMalformedProbe
	}

	b := data[1:]
	var haveSeq, haveTS bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, ErrMalformedProbe
		}
		b = b[n:]

		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, ErrMalformedProbe
			}
			p.seq, haveSeq = uint32(v), true
			b = b[n:]
		case num == fieldSentAt && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return p, ErrMalformedProbe
			}
			p.sentAt, haveTS = int64(v), true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, ErrMalformedProbe
			}
			b = b[n:]
		}
	}
	if !haveSeq || !haveTS {
		return p, ErrMalformedProbe
	}
	return p, nil
}
