package control

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Framing は制御チャネル上のコマンドの表現形式
type Framing int

const (
	// FramingHex は 1 行に 1 コマンドを16進文字列で書く
	FramingHex Framing = iota
	// FramingRaw は改行までの生バイトを 1 コマンドとする
	FramingRaw
)

func (f Framing) String() string {
	switch f {
	case FramingHex:
		return "hex"
	case FramingRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// ParseFraming は文字列を Framing に変換する
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hex":
		return FramingHex, nil
	case "raw":
		return FramingRaw, nil
	default:
		return FramingHex, fmt.Errorf("control: unknown framing %q", s)
	}
}

// FrameError は 1 行分のデコード失敗を表す（読み取りは継続可能）
type FrameError struct {
	Line []byte
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("control: bad frame %q: %v", e.Line, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Reader は行指向の制御チャネルからコマンドを読み出す
type Reader struct {
	scanner *bufio.Scanner
	framing Framing
}

// NewReader は新しい Reader を作成する
func NewReader(r io.Reader, framing Framing) *Reader {
	sc := bufio.NewScanner(r)
	sc.Split(splitNewline)
	return &Reader{
		scanner: sc,
		framing: framing,
	}
}

// Next は次のコマンドを返す
// 入力終端では io.EOF、行単位の失敗では *FrameError を返す
func (r *Reader) Next() (Command, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()

		if r.framing == FramingHex {
			text := strings.TrimSpace(string(line))
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			cmd, err := ParseHex(text)
			if err != nil {
				return Command{}, &FrameError{Line: []byte(text), Err: err}
			}
			return cmd, nil
		}

		if len(line) == 0 {
			continue
		}
		cmd, err := Parse(line)
		if err != nil {
			return Command{}, &FrameError{Line: bytes.Clone(line), Err: err}
		}
		return cmd, nil
	}

	if err := r.scanner.Err(); err != nil {
		return Command{}, err
	}
	return Command{}, io.EOF
}

// Format はコマンドを制御チャネル用の 1 行にエンコードする
func Format(cmd Command, framing Framing) ([]byte, error) {
	if framing == FramingHex {
		h, err := cmd.Hex()
		if err != nil {
			return nil, err
		}
		return []byte(h + "\n"), nil
	}

	buf, err := cmd.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(buf, '\n') >= 0 {
		return nil, fmt.Errorf("control: command %X contains a newline byte, use hex framing", buf)
	}
	return append(buf, '\n'), nil
}

// splitNewline は '\n' のみで分割する（'\r' はデータとして残す）
func splitNewline(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
