package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageLength は固定メッセージのバイト長
const MessageLength = 26

// Size はパケットのワイヤサイズ
const Size = 4 + 2 + MessageLength

// Message は全クライアントが送る固定ペイロード
var Message = [MessageLength]byte([]byte("DEFAULT BENCHMARK PAYLOAD\x00"))

// ErrShortPacket はペイロードが Size 未満の場合のエラー
var ErrShortPacket = errors.New("packet: payload shorter than benchmark packet")

// Packet はベンチマークパケット
type Packet struct {
	Tick     uint32
	Sequence uint16
	Message  [MessageLength]byte
}

// New は固定メッセージ入りのパケットを作成する
func New(tick uint32, seq uint16) Packet {
	return Packet{
		Tick:     tick,
		Sequence: seq,
		Message:  Message,
	}
}

// MarshalBinary はパケットをエンコードする
func (p Packet) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, Size))
}

// AppendBinary は buf の末尾にパケットを追記する
func (p Packet) AppendBinary(buf []byte) ([]byte, error) {
	buf = binary.BigEndian.AppendUint32(buf, p.Tick)
	buf = binary.BigEndian.AppendUint16(buf, p.Sequence)
	buf = append(buf, p.Message[:]...)
	return buf, nil
}

// UnmarshalBinary はパケットをデコードする
// Size を超える部分は無視する
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return fmt.Errorf("%w: got %d bytes", ErrShortPacket, len(data))
	}
	p.Tick = binary.BigEndian.Uint32(data[0:4])
	p.Sequence = binary.BigEndian.Uint16(data[4:6])
	copy(p.Message[:], data[6:Size])
	return nil
}

// Decode はバイト列からパケットを作る
func Decode(data []byte) (Packet, error) {
	var p Packet
	err := p.UnmarshalBinary(data)
	return p, err
}

// Intact は固定メッセージが壊れていないかを返す
func (p Packet) Intact() bool {
	return bytes.Equal(p.Message[:], Message[:])
}
