// Package port picks free TCP ports for the distributed-training rendezvous.
//
// The port is found by binding port 0 and reading back what the kernel
// assigned. The listener is closed before the number is handed to the child
// process, so another process may grab it in between; launches are
// sequential and the window is short.
package port

import (
	"fmt"
	"net"
	"sync"
)

// maxCollisions bounds the re-binds when the kernel hands back a port this
// allocator already issued.
const maxCollisions = 32

// Allocator hands out ephemeral ports, never the same one twice.
//
// Thread-safety: Allocator is safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	host   string
	issued map[int]bool
}

// NewAllocator creates an allocator binding on all interfaces.
func NewAllocator() *Allocator {
	return &Allocator{issued: make(map[int]bool)}
}

// NewAllocatorOn creates an allocator binding on host (e.g. "127.0.0.1").
func NewAllocatorOn(host string) *Allocator {
	return &Allocator{host: host, issued: make(map[int]bool)}
}

// Acquire returns a currently unbound port not previously issued by a.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < maxCollisions; i++ {
		p, err := Free(a.host)
		if err != nil {
			return 0, err
		}
		if !a.issued[p] {
			a.issued[p] = true
			return p, nil
		}
	}
	return 0, fmt.Errorf("acquire port: %d consecutive collisions with issued ports", maxCollisions)
}

// Issued returns how many ports a has handed out.
func (a *Allocator) Issued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.issued)
}

// Free binds host:0, reads back the assigned port and releases it.
func Free(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("bind ephemeral port: %w", err)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", l.Addr())
	}
	return addr.Port, nil
}
