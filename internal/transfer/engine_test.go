package transfer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/danmuck/wotlink/internal/exchange"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/frame"
	"github.com/danmuck/wotlink/internal/testutil/testlog"
	"github.com/danmuck/wotlink/internal/transport"
	"github.com/danmuck/wotlink/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
)

func testEngine(fake *transporttest.Fake) *Engine {
	cfg := DefaultConfig()
	cfg.TCPRetry.Delay = time.Millisecond
	cfg.UDPRetry.Delay = time.Millisecond
	cfg.UDPPacketInterval = 0
	cfg.DeviceTag = "cam01"
	return NewEngine(exchange.New(fake, 7), cfg)
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func sizes(chunks [][]byte) []int {
	out := make([]int, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, len(c))
	}
	return out
}

func TestSendChunkedTCP3000(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New()
	eng := testEngine(fake)
	data := payload(3000)

	conn, st, err := eng.SendChunkedTCP(context.Background(), protocol.MessageTCPImage, protocol.CloseAfterSend, data, protocol.PortImageTCP)
	require.NoError(t, err)
	require.Nil(t, conn)
	require.Equal(t, State{BytesSent: 3000, TotalSize: 3000, Packets: 3}, st)

	sent := fake.Sent()
	require.Equal(t, []int{frame.HeaderSize, 1024, 1024, 952, 1}, sizes(sent))
	h, err := frame.DecodeHeader(sent[0])
	require.NoError(t, err)
	require.Equal(t, frame.Header{DeviceID: 7, MessageType: protocol.MessageTCPImage, Mode: protocol.CloseAfterSend, PayloadSize: 3000}, h)
	require.Equal(t, []byte{'F'}, sent[4])
	require.Equal(t, data, bytes.Join(sent[1:4], nil))
	require.Equal(t, 1, fake.Count(transporttest.OpClose))
}

func TestSendChunkedTCPBoundaries(t *testing.T) {
	cases := []struct {
		n    int
		want []int
	}{
		{n: 0, want: []int{}},
		{n: 1, want: []int{1}},
		{n: 1024, want: []int{1024}},
		{n: 1025, want: []int{1024, 1}},
		{n: 2048, want: []int{1024, 1024}},
		{n: 2049, want: []int{1024, 1024, 1}},
	}
	for _, tc := range cases {
		fake := transporttest.New()
		eng := testEngine(fake)
		_, st, err := eng.SendChunkedTCP(context.Background(), protocol.MessageTCPImage, protocol.CloseAfterSend, payload(tc.n), protocol.PortImageTCP)
		require.NoError(t, err, "n=%d", tc.n)
		require.Equal(t, uint32(tc.n), st.BytesSent)

		sent := fake.Sent()
		require.Equal(t, tc.want, sizes(sent[1:len(sent)-1]), "n=%d", tc.n)
		require.Equal(t, []byte{'F'}, sent[len(sent)-1])
		wire := 0
		for _, c := range sent[1:] {
			wire += len(c)
		}
		require.Equal(t, tc.n+1, wire, "n=%d", tc.n)
	}
}

func TestSendChunkedTCPRetryRecovers(t *testing.T) {
	testlog.Start(t)
	// header=0, chunk1=1, chunk2 attempts 2,3 fail then 4 succeeds
	fake := transporttest.New().Fail(transporttest.OpSend, 2, 3)
	eng := testEngine(fake)

	_, st, err := eng.SendChunkedTCP(context.Background(), protocol.MessageTCPImage, protocol.CloseAfterSend, payload(3000), protocol.PortImageTCP)
	require.NoError(t, err)
	require.Equal(t, 2, st.Retries)
	require.Equal(t, []int{frame.HeaderSize, 1024, 1024, 952, 1}, sizes(fake.Sent()))
}

func TestSendChunkedTCPExhaustionAborts(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New().Fail(transporttest.OpSend, 2, 3, 4, 5)
	eng := testEngine(fake)

	conn, st, err := eng.SendChunkedTCP(context.Background(), protocol.MessageTCPImage, protocol.KeepAlive, payload(3000), protocol.PortImageTCP)
	require.Nil(t, conn)
	require.ErrorIs(t, err, protocol.ErrSendFailed)
	require.Equal(t, uint32(1024), st.BytesSent)
	require.Equal(t, 6, fake.Count(transporttest.OpSend))
	require.Equal(t, 1, fake.Count(transporttest.OpClose))
	for _, c := range fake.Sent() {
		require.NotEqual(t, []byte{'F'}, c, "no end marker after abort")
	}
}

func TestSendChunkedTCPRemainderIsSingleAttempt(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New().Fail(transporttest.OpSend, 3)
	eng := testEngine(fake)

	_, _, err := eng.SendChunkedTCP(context.Background(), protocol.MessageTCPImage, protocol.CloseAfterSend, payload(3000), protocol.PortImageTCP)
	require.Equal(t, protocol.StatusSendFailed, protocol.StatusOf(err))
	require.Equal(t, 4, fake.Count(transporttest.OpSend))
	require.Equal(t, 1, fake.Count(transporttest.OpClose))
}

func TestSendChunkedTCPKeepAlive(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New()
	eng := testEngine(fake)

	conn, _, err := eng.SendChunkedTCP(context.Background(), protocol.MessageTCPImage, protocol.KeepAlive, payload(10), protocol.PortImageTCP)
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Equal(t, 0, fake.Count(transporttest.OpClose))
	require.NoError(t, conn.Close())
}

func TestSendChunkedTCPLinkDown(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New().WithLink(transport.NewLink(false))
	eng := testEngine(fake)

	_, _, err := eng.SendChunkedTCP(context.Background(), protocol.MessageTCPImage, protocol.CloseAfterSend, payload(10), protocol.PortImageTCP)
	require.Equal(t, protocol.StatusNoLink, protocol.StatusOf(err))
	require.Empty(t, fake.Events())
}

func TestSendStreamTCP(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New()
	eng := testEngine(fake)
	data := payload(3000)

	st, err := eng.SendStreamTCP(context.Background(), data, protocol.PortImageTCP)
	require.NoError(t, err)
	require.Equal(t, uint32(3000), st.BytesSent)

	sent := fake.Sent()
	require.Equal(t, []int{1024, 1024, 952, 3}, sizes(sent))
	require.Equal(t, "END", string(sent[3]))
	require.Equal(t, data, bytes.Join(sent[:3], nil))
	require.Equal(t, 1, fake.Count(transporttest.OpClose))
}

func TestSendStreamTCPExhaustionAborts(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New().FailFrom(transporttest.OpSend, 1)
	eng := testEngine(fake)

	_, err := eng.SendStreamTCP(context.Background(), payload(3000), protocol.PortImageTCP)
	require.ErrorIs(t, err, protocol.ErrSendFailed)
	require.Equal(t, 5, fake.Count(transporttest.OpSend))
	require.Len(t, fake.Sent(), 1)
}

func udpSends(fake *transporttest.Fake) [][]byte {
	var out [][]byte
	for _, e := range fake.Ops(transporttest.OpSendTo) {
		if e.Err == nil {
			out = append(out, e.Data)
		}
	}
	return out
}

func TestSendImageUDP2100(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New()
	eng := testEngine(fake)
	data := payload(2100)

	st, err := eng.SendImageUDP(context.Background(), data, protocol.PortImageUDP)
	require.NoError(t, err)
	require.Equal(t, State{BytesSent: 2100, TotalSize: 2100, Packets: 3}, st)

	pkts := udpSends(fake)
	require.Equal(t, []int{1024, 1024, 82}, sizes(pkts))
	var body []byte
	for _, p := range pkts {
		require.Equal(t, "cam01-----", string(p[:frame.TagSize]))
		body = append(body, p[frame.TagSize:]...)
	}
	require.Equal(t, data, body)
	require.Equal(t, uint16(protocol.PortImageUDP), fake.Ops(transporttest.OpSendTo)[0].Port)

	// socket closed before the completion notice goes out
	events := fake.Events()
	var order []transporttest.Op
	for _, e := range events {
		if e.Op == transporttest.OpCloseUDP || e.Op == transporttest.OpDial {
			order = append(order, e.Op)
		}
	}
	require.Equal(t, []transporttest.Op{transporttest.OpCloseUDP, transporttest.OpDial}, order)
	require.Equal(t, protocol.PortGeneralTCP, fake.Ops(transporttest.OpDial)[0].Port)

	tcp := fake.Ops(transporttest.OpSend)
	require.Len(t, tcp, 2)
	h, err := frame.DecodeHeader(tcp[0].Data)
	require.NoError(t, err)
	require.Equal(t, protocol.MessageImageComplete, h.MessageType)
	require.Equal(t, uint64(1), h.PayloadSize)
	require.Equal(t, []byte{'C'}, tcp[1].Data)
}

func TestSendImageUDPBoundaries(t *testing.T) {
	cases := []struct {
		n    int
		want []int
	}{
		{n: 0, want: []int{}},
		{n: 1014, want: []int{1024}},
		{n: 1015, want: []int{1024, 11}},
		{n: 1024, want: []int{1024, 20}},
		{n: 1025, want: []int{1024, 21}},
		{n: 2028, want: []int{1024, 1024}},
		{n: 2029, want: []int{1024, 1024, 11}},
	}
	for _, tc := range cases {
		fake := transporttest.New()
		eng := testEngine(fake)
		st, err := eng.SendImageUDP(context.Background(), payload(tc.n), protocol.PortImageUDP)
		require.NoError(t, err, "n=%d", tc.n)
		require.Equal(t, uint32(tc.n), st.BytesSent)
		require.Equal(t, tc.want, sizes(udpSends(fake)), "n=%d", tc.n)
		require.Equal(t, 1, fake.Count(transporttest.OpDial))
	}
}

func TestSendImageUDPExhaustionAborts(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New().Fail(transporttest.OpSendTo, 1, 2, 3)
	eng := testEngine(fake)

	st, err := eng.SendImageUDP(context.Background(), payload(2100), protocol.PortImageUDP)
	require.ErrorIs(t, err, protocol.ErrSendFailed)
	require.Equal(t, uint32(1014), st.BytesSent)
	require.Equal(t, 2, st.Retries)
	require.Equal(t, 4, fake.Count(transporttest.OpSendTo))
	require.Equal(t, 1, fake.Count(transporttest.OpCloseUDP))
	require.Equal(t, 0, fake.Count(transporttest.OpDial), "no completion notice after abort")
}

func TestSendImageUDPRemainderIsSingleAttempt(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New().Fail(transporttest.OpSendTo, 2)
	eng := testEngine(fake)

	_, err := eng.SendImageUDP(context.Background(), payload(2100), protocol.PortImageUDP)
	require.Equal(t, protocol.StatusSendFailed, protocol.StatusOf(err))
	require.Equal(t, 3, fake.Count(transporttest.OpSendTo))
	require.Equal(t, 0, fake.Count(transporttest.OpDial))
}

func TestSendImageUDPCompletionFailureFailsTransfer(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New().Fail(transporttest.OpDial, 0)
	eng := testEngine(fake)

	st, err := eng.SendImageUDP(context.Background(), payload(100), protocol.PortImageUDP)
	require.Equal(t, protocol.StatusConnectFailed, protocol.StatusOf(err))
	require.Equal(t, uint32(100), st.BytesSent)
}

func TestSendImageUDPBadTag(t *testing.T) {
	testlog.Start(t)
	fake := transporttest.New()
	eng := testEngine(fake)
	eng.Config.DeviceTag = "way-too-long-tag"

	_, err := eng.SendImageUDP(context.Background(), payload(10), protocol.PortImageUDP)
	require.Equal(t, protocol.StatusOther, protocol.StatusOf(err))
	require.ErrorIs(t, err, frame.ErrFieldTooLarge)
	require.Equal(t, 0, fake.Count(transporttest.OpSendTo))
	require.Equal(t, 1, fake.Count(transporttest.OpCloseUDP))
}
