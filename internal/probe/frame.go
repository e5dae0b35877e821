package probe

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/nats-io/nats.go"
)

// Headers carried by every raw frame message.
const (
	HeaderTimestamp = "Timestamp" // capture time, Unix nanoseconds
	HeaderLinkType  = "Link-Type"
	HeaderLength    = "Length" // original wire length
)

// ErrMissingHeader is returned for frame messages without capture metadata.
var ErrMissingHeader = errors.New("frame message is missing a header")

// FrameMsg wraps one captured frame in a NATS message.
func FrameMsg(subject string, data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderTimestamp, strconv.FormatInt(ci.Timestamp.UnixNano(), 10))
	msg.Header.Set(HeaderLinkType, strconv.Itoa(int(linkType)))
	msg.Header.Set(HeaderLength, strconv.Itoa(ci.Length))
	msg.Data = data
	return msg
}

// DecodeFrame parses a message built by FrameMsg.
func DecodeFrame(msg *nats.Msg) (*model.PacketInfo, error) {
	if msg.Header == nil {
		return nil, ErrMissingHeader
	}
	ts, err := intHeader(msg, HeaderTimestamp)
	if err != nil {
		return nil, err
	}
	lt, err := intHeader(msg, HeaderLinkType)
	if err != nil {
		return nil, err
	}
	length := len(msg.Data)
	if msg.Header.Get(HeaderLength) != "" {
		n, err := intHeader(msg, HeaderLength)
		if err != nil {
			return nil, err
		}
		length = int(n)
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(0, ts),
		CaptureLength: len(msg.Data),
		Length:        length,
	}
	return protocol.ParsePacketData(msg.Data, layers.LinkType(lt), ci)
}

func intHeader(msg *nats.Msg, name string) (int64, error) {
	v := msg.Header.Get(name)
	if v == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingHeader, name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q: %w", name, v, err)
	}
	return n, nil
}
