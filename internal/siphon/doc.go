// Package siphon 实现 orchestrator 账户的轮询与阈值自动化。
//
// 每个 tick 先刷新轮次状态，再逐个账户刷新过期的缓存类别，按固定顺序
// （质押、手续费、钱包余额、奖励）评估阈值，每个类别至多派发一个动作，
// 动作成功后立即强制刷新受影响的类别。所有状态只由 tick 循环写入，
// HTTP 与定时任务只读取 Snapshot 副本。
package siphon
