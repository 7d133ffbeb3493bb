package node

import (
	"context"
	"errors"
	"io"

	"meshbench/internal/control"
	"meshbench/internal/logger"
)

type controlLine struct {
	cmd control.Command
	err error
}

// ServeControl は r から制御コマンドを読み、ノードへ渡す
// 不正な行は記録して読み飛ばす。入力終端で nil、ctx の終了で ctx.Err() を返す
func (n *Node) ServeControl(ctx context.Context, r io.Reader, framing control.Framing) error {
	lines := make(chan controlLine)
	go readControl(ctx, control.NewReader(r, framing), lines)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			if errors.Is(line.err, io.EOF) {
				return nil
			}
			var frameErr *control.FrameError
			if errors.As(line.err, &frameErr) {
				logger.Warn(n.name, "ignoring control line: %v", frameErr)
				continue
			}
			if line.err != nil {
				return line.err
			}

			if err := n.Control(line.cmd); err != nil {
				return err
			}
		}
	}
}

// readControl は読み取りをブロックしてよい別ゴルーチンで行を読む
// 入力が閉じられない限り Next で止まったまま残るが、ctx 終了後は何も送らない
func readControl(ctx context.Context, reader *control.Reader, lines chan<- controlLine) {
	for {
		cmd, err := reader.Next()
		select {
		case lines <- controlLine{cmd: cmd, err: err}:
		case <-ctx.Done():
			return
		}
		var frameErr *control.FrameError
		if err != nil && !errors.As(err, &frameErr) {
			return
		}
	}
}
