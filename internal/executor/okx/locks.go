package okx

import "sync"

// positionLocker 管理每个合约的互斥锁，避免执行与监控同时操作同一持仓。
var positionLocker = &sync.Map{}

func getPositionLock(instID string) *sync.Mutex {
	lock, _ := positionLocker.LoadOrStore(instID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
