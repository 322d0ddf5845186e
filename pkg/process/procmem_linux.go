//go:build linux

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// readChunk bounds a single process_vm_readv transfer.
const readChunk = 1 << 20

// Task reads the memory of a live process with process_vm_readv(2). The
// caller needs ptrace access to the target.
type Task struct {
	pid int
}

// Open returns a Memory backed by the address space of process pid.
func Open(pid int) (*Task, error) {
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return nil, os.NewSyscallError("kill", err)
	}
	return &Task{pid: pid}, nil
}

func (t *Task) Pid() int { return t.pid }

func (t *Task) Read(addr, size uint64) ([]byte, error) {
	if addr+size < addr || uint64(uintptr(addr)) != addr {
		return nil, &ReadError{Addr: addr, Size: size, Err: ErrNotMapped}
	}
	// out grows only by what the target actually returned
	out := make([]byte, 0, min(size, readChunk))
	chunk := make([]byte, min(size, readChunk))
	for done := uint64(0); done < size; {
		want := min(size-done, readChunk)
		local := []unix.Iovec{{Base: &chunk[0]}}
		local[0].SetLen(int(want))
		remote := []unix.RemoteIovec{{Base: uintptr(addr + done), Len: int(want)}}
		n, err := unix.ProcessVMReadv(t.pid, local, remote, 0)
		switch {
		case err == unix.EFAULT:
			return nil, &ReadError{Addr: addr, Size: size, Err: ErrNotMapped}
		case err != nil:
			return nil, &ReadError{Addr: addr, Size: size, Err: os.NewSyscallError("process_vm_readv", err)}
		case n == 0:
			// A partial transfer stops at the first unmapped page.
			return nil, &ReadError{Addr: addr, Size: size, Err: ErrNotMapped}
		}
		out = append(out, chunk[:n]...)
		done += uint64(n)
	}
	return out, nil
}
