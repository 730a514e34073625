package protocol

import "fmt"

// MessageType is the header's second line. Values are wire values.
type MessageType uint8

const (
	MessageOneByteData MessageType = iota
	MessageTwoBytesData
	MessageFourBytesData
	MessageTCPImage
	MessageReceiveRequest
	MessageSendReceive
	MessageUDPImage
	MessageImageComplete
)

var messageTypeNames = [...]string{
	MessageOneByteData:    "one_byte_data",
	MessageTwoBytesData:   "two_bytes_data",
	MessageFourBytesData:  "four_bytes_data",
	MessageTCPImage:       "tcp_image",
	MessageReceiveRequest: "receive_request",
	MessageSendReceive:    "send_receive",
	MessageUDPImage:       "udp_image",
	MessageImageComplete:  "image_complete",
}

func (t MessageType) Valid() bool {
	return int(t) < len(messageTypeNames)
}

func (t MessageType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("message_type(%d)", uint8(t))
	}
	return messageTypeNames[t]
}

// ConnectionMode is the header's third line.
type ConnectionMode uint8

const (
	KeepAlive ConnectionMode = iota
	CloseAfterSend
)

func (m ConnectionMode) Valid() bool {
	return m == KeepAlive || m == CloseAfterSend
}

func (m ConnectionMode) String() string {
	switch m {
	case KeepAlive:
		return "keep_alive"
	case CloseAfterSend:
		return "close_after_send"
	default:
		return fmt.Sprintf("connection_mode(%d)", uint8(m))
	}
}

// Default peer ports.
const (
	PortGeneralTCP     uint16 = 9999
	PortImageTCP       uint16 = 1111
	PortImageUDP       uint16 = 4444
	PortReceiveDataUDP uint16 = 8888
)

// In-band markers.
const (
	ChunkedEndMarker  byte   = 'F'
	StreamEndMarker   string = "END"
	ImageCompleteByte byte   = 'C'
)

// Packet sizing.
const (
	MaxPacketSize      = 1024
	UDPPacketSize      = 1024
	UDPTagSize         = 10
	UDPPacketBodySize  = UDPPacketSize - UDPTagSize
	DefaultQueueLength = 50
)
