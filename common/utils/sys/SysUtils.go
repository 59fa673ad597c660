package sys

import (
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"

	"k3m/common/logger"
)

// GetGID returns the calling goroutine id. When the fast path does not
// know the runtime's g layout it yields 0, and the id is parsed from the
// stack header instead.
func GetGID() uint64 {
	if id := goid.Get(); id > 0 {
		return uint64(id)
	}
	var buf [64]byte
	return uint64(goid.ExtractGID(buf[:runtime.Stack(buf[:], false)]))
}

// LoopGuard records the goroutine that owns the main control loop. The
// mechanics state is never locked, so every mutation must come from that
// goroutine; calls from elsewhere are reported, not blocked.
type LoopGuard struct {
	lock       sync.Mutex
	bound      bool
	owner      uint64
	violations uint64
}

// Bind makes the calling goroutine the loop owner.
func (self *LoopGuard) Bind() {
	gid := GetGID()
	self.lock.Lock()
	defer self.lock.Unlock()
	self.owner = gid
	self.bound = true
}

// Check binds on first use and returns false when called off the owner.
func (self *LoopGuard) Check(op string) bool {
	gid := GetGID()
	self.lock.Lock()
	if !self.bound {
		self.owner = gid
		self.bound = true
	}
	owner := self.owner
	self.lock.Unlock()
	if owner == gid {
		return true
	}
	atomic.AddUint64(&self.violations, 1)
	logger.Errorf("%s called from goroutine %d, main loop is %d", op, gid, owner)
	return false
}

func (self *LoopGuard) Violations() uint64 {
	return atomic.LoadUint64(&self.violations)
}

func CatchPanic() {
	if err := recover(); err != nil {
		logger.Error("panic:", GetGID(), err, string(debug.Stack()))
		panic(err)
	}
}
