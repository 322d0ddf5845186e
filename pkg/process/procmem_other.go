//go:build !linux

package process

// Task is not available on this platform.
type Task struct {
	pid int
}

// Open always fails with ErrNotSupported on this platform.
func Open(pid int) (*Task, error) {
	return nil, ErrNotSupported
}

func (t *Task) Pid() int { return t.pid }

func (t *Task) Read(addr, size uint64) ([]byte, error) {
	return nil, &ReadError{Addr: addr, Size: size, Err: ErrNotSupported}
}
