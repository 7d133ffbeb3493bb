// Package scenario は 1 プロセス内でベンチマークを実行するコントローラを提供する。
//
// エンジンはインメモリ媒体の上にシンク 1 台とクライアント N 台を作り、
// 実機のコントローラと同じ手順で制御コマンドを送る。
//
//  1. SET|STATS|RESET を全ノードへ送り、各クライアントの BMCC_START を待つ
//  2. START|STATS を送り、各クライアントの BMCD_DONE を待つ
//  3. 媒体の遅延分だけ待ってからシンクの送信元テーブルと統計を集計する
//
// # プリセットシナリオ
//
// - quick: 少数ノードの動作確認
// - basic: 障害なしの基本計測
// - lossy: 損失のある媒体
// - duplicate: 重複フレームのある媒体
// - corrupt: ビット化けのある媒体
// - latency: 遅延と揺らぎのある媒体
// - dense: 多数ノードでの送信衝突の確認
//
// # 使用例
//
//	config, _ := scenario.GetPreset("lossy")
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
