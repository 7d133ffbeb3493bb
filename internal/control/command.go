package control

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// CommandSize は SET を含むコマンドのバイト長
const CommandSize = 5

// MaxInterval は 14bit で表現できる送信間隔の最大値（ミリ秒）
const MaxInterval = 1<<14 - 1

var (
	// ErrEmptyCommand は空のバッファを受け取った場合のエラー
	ErrEmptyCommand = errors.New("control: empty command")
	// ErrShortCommand は SET 付きコマンドが 5 バイト未満の場合のエラー
	ErrShortCommand = errors.New("control: SET command shorter than 5 bytes")
	// ErrIntervalRange は送信間隔が 14bit に収まらない場合のエラー
	ErrIntervalRange = errors.New("control: interval exceeds 14 bits")
)

// Flags はコマンドバイトのフラグ集合
// ビット位置は配備済みのコントローラと互換
type Flags uint8

const (
	FlagStart Flags = 1 << iota
	FlagStop
	FlagStats
	FlagReset
	FlagShutdown
	FlagGet
	FlagSet
	FlagReserved
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagStart, "START"},
	{FlagStop, "STOP"},
	{FlagStats, "STATS"},
	{FlagReset, "RESET"},
	{FlagShutdown, "SHUTDOWN"},
	{FlagGet, "GET"},
	{FlagSet, "SET"},
	{FlagReserved, "RESERVED"},
}

// Has は指定フラグが全て立っているかを返す
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	if f == 0 {
		return "NONE"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFlags は "START|SET" 形式の文字列をフラグに変換する
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		found := false
		for _, fn := range flagNames {
			if strings.EqualFold(part, fn.name) {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found && !strings.EqualFold(part, "NONE") {
			return 0, fmt.Errorf("control: unknown flag %q", part)
		}
	}
	return f, nil
}

// Settings は SET で運ばれるベンチマーク設定
type Settings struct {
	NodeCount   uint8  `json:"node_count" yaml:"node_count"`
	PacketCount uint8  `json:"packet_count" yaml:"packet_count"`
	Interval    uint16 `json:"interval_ms" yaml:"interval_ms"`
}

// Command は制御コマンド
type Command struct {
	Flags    Flags
	Settings Settings // Flags に FlagSet がある場合のみ有効
}

// Parse はバイト列をコマンドにデコードする
//
// SET を含むコマンドは 5 バイト必要。SET なしなら 1 バイトで足りる。
// 5 バイトを超える部分は無視する。
func Parse(buf []byte) (Command, error) {
	if len(buf) == 0 {
		return Command{}, ErrEmptyCommand
	}

	cmd := Command{Flags: Flags(buf[0])}
	if !cmd.Flags.Has(FlagSet) {
		return cmd, nil
	}
	if len(buf) < CommandSize {
		return Command{}, fmt.Errorf("%w: got %d", ErrShortCommand, len(buf))
	}

	cmd.Settings = Settings{
		NodeCount:   buf[1],
		PacketCount: buf[2],
		Interval:    DecodeInterval(buf[3], buf[4]),
	}
	return cmd, nil
}

// MarshalBinary はコマンドを常に 5 バイトへエンコードする
func (c Command) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CommandSize)
	buf[0] = byte(c.Flags)
	if !c.Flags.Has(FlagSet) {
		return buf, nil
	}

	hi, lo, err := EncodeInterval(c.Settings.Interval)
	if err != nil {
		return nil, err
	}
	buf[1] = c.Settings.NodeCount
	buf[2] = c.Settings.PacketCount
	buf[3] = hi
	buf[4] = lo
	return buf, nil
}

// Hex はコマンドを16進文字列にエンコードする
func (c Command) Hex() (string, error) {
	buf, err := c.MarshalBinary()
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// ParseHex は16進文字列（空白区切り可）をコマンドにデコードする
func ParseHex(line string) (Command, error) {
	clean := strings.Join(strings.Fields(line), "")
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return Command{}, fmt.Errorf("control: invalid hex command: %w", err)
	}
	return Parse(buf)
}

// EncodeInterval は送信間隔を上位 7bit と下位 7bit に分割する
func EncodeInterval(interval uint16) (hi, lo byte, err error) {
	if interval > MaxInterval {
		return 0, 0, fmt.Errorf("%w: %d", ErrIntervalRange, interval)
	}
	return byte(interval >> 7), byte(interval & 0x7F), nil
}

// DecodeInterval は分割された送信間隔を復元する
func DecodeInterval(hi, lo byte) uint16 {
	return uint16(hi)<<7 + uint16(lo)
}
