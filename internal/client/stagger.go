package client

import "time"

// StaggerOffset は最初の送信までのずらし量（ミリ秒）を計算する
//
//	offset = (nodeCount - nodeID) * (interval / nodeCount)
//
// 整数除算で切り捨てる。nodeCount が 0、または nodeID が nodeCount を
// 超える場合は 0 を返し ok=false とする。
func StaggerOffset(nodeCount, nodeID uint8, interval uint16) (offset uint16, ok bool) {
	if nodeCount == 0 || nodeID > nodeCount {
		return 0, false
	}
	slot := interval / uint16(nodeCount)
	return uint16(nodeCount-nodeID) * slot, true
}

// StaggerDuration は StaggerOffset を time.Duration で返す
func StaggerDuration(nodeCount, nodeID uint8, interval uint16) time.Duration {
	off, _ := StaggerOffset(nodeCount, nodeID, interval)
	return time.Duration(off) * time.Millisecond
}
