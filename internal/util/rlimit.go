package util

import (
	"github.com/threadkit/threadkit/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// RaiseFDLimit lifts the soft open-file limit; every websocket, poll and
// Redis connection costs a descriptor. Both nodes call this at startup.
func RaiseFDLimit() {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return
	}
	const want = 65536
	if lim.Cur >= want {
		return
	}
	lim.Cur = want
	if lim.Cur > lim.Max {
		lim.Cur = lim.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		logger.Log.Warn("could not raise fd limit", zap.Error(err))
	}
}
