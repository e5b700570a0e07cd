package e2ee

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

func mustKey(t *testing.T, pass string) *Key {
	t.Helper()
	k, err := DeriveKey(pass)
	if err != nil {
		t.Fatalf("DeriveKey(%q): %v", pass, err)
	}
	return k
}

func TestFrame_RoundTripAcrossDerivations(t *testing.T) {
	frame := []byte("opus frame bytes")
	sealed, err := EncodeFrame(frame, mustKey(t, "correct horse"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(sealed) != len(frame)+Overhead {
		t.Fatalf("sealed len: got %d, want %d", len(sealed), len(frame)+Overhead)
	}
	if bytes.Contains(sealed, frame) {
		t.Fatalf("sealed frame contains plaintext")
	}
	plain, err := DecodeFrame(sealed, mustKey(t, "correct horse"))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !bytes.Equal(plain, frame) {
		t.Fatalf("DecodeFrame: got %q, want %q", plain, frame)
	}
}

func TestFrame_WrongKeyFails(t *testing.T) {
	sealed, err := EncodeFrame([]byte("secret"), mustKey(t, "a"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := DecodeFrame(sealed, mustKey(t, "b")); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("wrong key: got %v, want %v", err, ErrDecodeFailure)
	}
	if _, err := DecodeFrame([]byte("short"), mustKey(t, "a")); !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("short frame: got %v, want %v", err, ErrDecodeFailure)
	}
}

func TestFrame_NilKeyPassThrough(t *testing.T) {
	frame := []byte{1, 2, 3}
	out, err := EncodeFrame(frame, nil)
	if err != nil || !bytes.Equal(out, frame) {
		t.Fatalf("EncodeFrame(nil key): %v %v", out, err)
	}
	out, err = DecodeFrame(frame, nil)
	if err != nil || !bytes.Equal(out, frame) {
		t.Fatalf("DecodeFrame(nil key): %v %v", out, err)
	}
}

func TestCodec_SetKey(t *testing.T) {
	c := NewCodec()
	if c.SetKey("") {
		t.Fatalf(`SetKey("") = true`)
	}
	if c.Active() {
		t.Fatalf("codec active after empty key")
	}
	if !c.SetKey("correct horse") {
		t.Fatalf(`SetKey("correct horse") = false`)
	}
	if !c.Active() {
		t.Fatalf("codec inactive after key set")
	}
	if c.SetKey("") || c.Active() {
		t.Fatalf("clearing key left codec active")
	}
}

func marshalRTP(t *testing.T, seq uint16, payload []byte) []byte {
	t.Helper()
	b, err := (&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq, SSRC: 7}, Payload: payload}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return b
}

func TestInterceptor_SealsAndOpensRTP(t *testing.T) {
	sender, receiver := NewCodec(), NewCodec()
	sender.SetKey("room pass")
	receiver.SetKey("room pass")

	senderIcpt, _ := NewInterceptorFactory(sender).NewInterceptor("")
	receiverIcpt, _ := NewInterceptorFactory(receiver).NewInterceptor("")
	info := &interceptor.StreamInfo{SSRC: 7}

	var wire [][]byte
	writer := senderIcpt.BindLocalStream(info, interceptor.RTPWriterFunc(func(h *rtp.Header, payload []byte, _ interceptor.Attributes) (int, error) {
		b, err := (&rtp.Packet{Header: *h, Payload: payload}).Marshal()
		if err != nil {
			return 0, err
		}
		wire = append(wire, b)
		return len(b), nil
	}))
	for i, p := range []string{"first", "second"} {
		h := rtp.Header{Version: 2, SequenceNumber: uint16(i), SSRC: 7}
		if _, err := writer.Write(&h, []byte(p), nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	// a packet from a peer using another passphrase sits between the two
	forged := marshalRTP(t, 99, bytes.Repeat([]byte{0xAB}, 64))
	queue := [][]byte{wire[0], forged, wire[1]}
	reader := receiverIcpt.BindRemoteStream(info, interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		next := queue[0]
		queue = queue[1:]
		return copy(b, next), a, nil
	}))

	for _, want := range []string{"first", "second"} {
		buf := make([]byte, 1500)
		n, _, err := reader.Read(buf, nil)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if string(pkt.Payload) != want {
			t.Fatalf("payload: got %q, want %q", pkt.Payload, want)
		}
	}
	if len(queue) != 0 {
		t.Fatalf("unread packets: %d", len(queue))
	}
}

func TestInterceptor_NoKeyPassesThrough(t *testing.T) {
	icpt, _ := NewInterceptorFactory(NewCodec()).NewInterceptor("")
	raw := marshalRTP(t, 1, []byte("clear"))
	reader := icpt.BindRemoteStream(&interceptor.StreamInfo{}, interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		return copy(b, raw), a, nil
	}))
	buf := make([]byte, 1500)
	n, _, err := reader.Read(buf, nil)
	if err != nil || !bytes.Equal(buf[:n], raw) {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
}
