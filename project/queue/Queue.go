package queue

import (
	"container/list"
	"sync"
)

// Queue is the hand-off between the main loop and the step generator. A
// bounded queue blocks Put while full, which is the only place the main
// loop waits on the stepper side.
type Queue struct {
	rows     *list.List
	lock     sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	capacity int
	closed   bool
}

// NewQueue creates a queue; capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	self := &Queue{}
	self.rows = list.New()
	self.capacity = capacity
	self.notFull = sync.NewCond(&self.lock)
	self.notEmpty = sync.NewCond(&self.lock)
	return self
}

// Put blocks while the queue is full. It returns false once closed.
func (self *Queue) Put(data interface{}) bool {
	if data == nil {
		return true
	}
	self.lock.Lock()
	defer self.lock.Unlock()
	for !self.closed && self.capacity > 0 && self.rows.Len() >= self.capacity {
		self.notFull.Wait()
	}
	if self.closed {
		return false
	}
	self.rows.PushBack(data)
	self.notEmpty.Signal()
	return true
}

func (self *Queue) Get_nowait() interface{} {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.pop()
}

// Get blocks until an item is available or the queue is closed and drained.
func (self *Queue) Get() interface{} {
	self.lock.Lock()
	defer self.lock.Unlock()
	for self.rows.Len() == 0 && !self.closed {
		self.notEmpty.Wait()
	}
	return self.pop()
}

func (self *Queue) pop() interface{} {
	front := self.rows.Front()
	if front == nil {
		return nil
	}
	ret := front.Value
	self.rows.Remove(front)
	self.notFull.Broadcast()
	return ret
}

func (self *Queue) Close() {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.closed = true
	self.notFull.Broadcast()
	self.notEmpty.Broadcast()
}

func (self *Queue) Is_empty() bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return !(self.rows.Len() > 0)
}

func (self *Queue) Len() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.rows.Len()
}
