package packet

import (
	"errors"
	"testing"
)

func TestSize(t *testing.T) {
	if Size != 32 {
		t.Errorf("expected wire size 32, got %d", Size)
	}
	if string(Message[:25]) != "DEFAULT BENCHMARK PAYLOAD" || Message[25] != 0 {
		t.Errorf("unexpected message constant %q", Message)
	}
}

func TestMarshalLayout(t *testing.T) {
	p := New(0x01020304, 0x0506)
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) != Size {
		t.Fatalf("expected %d bytes, got %d", Size, len(buf))
	}

	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	for i, b := range want {
		if buf[i] != b {
			t.Errorf("byte %d = 0x%02X, want 0x%02X", i, buf[i], b)
		}
	}
	if string(buf[6:]) != string(Message[:]) {
		t.Errorf("unexpected message bytes %q", buf[6:])
	}
}

func TestDecode(t *testing.T) {
	buf, _ := New(1234, 42).MarshalBinary()
	buf = append(buf, 0xFF, 0xFF) // 余分なバイトは無視

	p, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Tick != 1234 || p.Sequence != 42 {
		t.Errorf("unexpected packet %+v", p)
	}
	if !p.Intact() {
		t.Error("expected intact message")
	}
}

func TestDecodeShort(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	if !errors.Is(err, ErrShortPacket) {
		t.Errorf("expected ErrShortPacket, got %v", err)
	}
}

func TestIntactDetectsCorruption(t *testing.T) {
	buf, _ := New(1, 1).MarshalBinary()
	buf[10] ^= 0x20

	p, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Intact() {
		t.Error("expected corrupted message to be detected")
	}
}
