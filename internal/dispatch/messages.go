package dispatch

import "github.com/danmuck/wotlink/internal/protocol"

// Message is one unit of work for the consumer. The set of implementations
// is closed; each carries exactly what its handler needs. A zero Port means
// the configured default for that kind.
type Message interface {
	Type() protocol.MessageType
	callback() func(Result)
}

// Result is delivered to a message's Done callback on the consumer goroutine.
// Data holds received bytes for ReceiveRequest and SendReceive.
type Result struct {
	Kind     protocol.MessageType
	Data     []byte
	Err      error
	Attempts int
	Bytes    int
}

type OneByte struct {
	Value uint8
	Done  func(Result)
}

type TwoBytes struct {
	Value uint16
	Done  func(Result)
}

type FourBytes struct {
	Value uint32
	Done  func(Result)
}

// TCPImage is a chunked framed transfer, or the header-less stream path when
// Stream is set (Mode is ignored then).
type TCPImage struct {
	Data   []byte
	Mode   protocol.ConnectionMode
	Port   uint16
	Stream bool
	Done   func(Result)
}

type ReceiveRequest struct {
	Size int
	Port uint16
	Done func(Result)
}

type SendReceive struct {
	Data        []byte
	ReceiveSize int
	Port        uint16
	Done        func(Result)
}

type UDPImage struct {
	Data []byte
	Port uint16
	Done func(Result)
}

type ImageComplete struct {
	Done func(Result)
}

func (OneByte) Type() protocol.MessageType { return protocol.MessageOneByteData }
func (TwoBytes) Type() protocol.MessageType { return protocol.MessageTwoBytesData }
func (FourBytes) Type() protocol.MessageType { return protocol.MessageFourBytesData }
func (TCPImage) Type() protocol.MessageType { return protocol.MessageTCPImage }
func (ReceiveRequest) Type() protocol.MessageType { return protocol.MessageReceiveRequest }
func (SendReceive) Type() protocol.MessageType { return protocol.MessageSendReceive }
func (UDPImage) Type() protocol.MessageType { return protocol.MessageUDPImage }
func (ImageComplete) Type() protocol.MessageType { return protocol.MessageImageComplete }

func (m OneByte) callback() func(Result) { return m.Done }
func (m TwoBytes) callback() func(Result) { return m.Done }
func (m FourBytes) callback() func(Result) { return m.Done }
func (m TCPImage) callback() func(Result) { return m.Done }
func (m ReceiveRequest) callback() func(Result) { return m.Done }
func (m SendReceive) callback() func(Result) { return m.Done }
func (m UDPImage) callback() func(Result) { return m.Done }
func (m ImageComplete) callback() func(Result) { return m.Done }

// label names a message for logs, metrics and the journal.
func label(m Message) string {
	if img, ok := m.(TCPImage); ok && img.Stream {
		return "tcp_image_stream"
	}
	return m.Type().String()
}
