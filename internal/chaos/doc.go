// Package chaos はベンチマーク実行中の共有媒体に一時的な障害を注入する。
//
// Monkey は一定間隔で媒体の障害設定を書き換え、Duration 経過後に
// 開始時の設定へ戻す。同時に有効な障害は 1 つだけ。
// メッシュで起きる経路断や干渉の揺らぎを再現するために使う。
//
// # 障害タイプ
//
// - Blackout: 全フレームを落とす（経路断）
// - BurstLoss: 損失率を BurstLoss だけ上げる
// - Delay: 遅延を DelayDuration だけ増やす
// - Corrupt: 破損率を CorruptRate だけ上げる
//
// # 使用例
//
//	config := chaos.DefaultConfig()
//	config.Interval = 3 * time.Second
//	config.AttackTypes = []chaos.AttackType{chaos.AttackBlackout}
//
//	monkey := chaos.New(medium, config)
//	monkey.Start(ctx)
//	defer monkey.Stop()
package chaos
