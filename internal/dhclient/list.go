package dhclient

import (
	"strings"
	"sync"

	"github.com/danmuck/omapi/internal/omapi"
)

// Interfaces is the client's interface list. It holds a reference to
// every interface on it.
type Interfaces struct {
	mu    sync.RWMutex
	items []*listed
}

type listed struct {
	iface *Interface
	ref   omapi.Ref
}

func NewInterfaces() *Interfaces {
	return &Interfaces{}
}

// Add puts iface on the list. Adding a listed interface is Unchanged.
func (l *Interfaces) Add(iface *Interface) omapi.Status {
	if iface == nil {
		return omapi.StatusInvalidArgument
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.items {
		if it.iface == iface {
			return omapi.StatusUnchanged
		}
	}
	it := &listed{iface: iface}
	if status := it.ref.Acquire(iface); status != omapi.StatusSuccess {
		return status
	}
	l.items = append(l.items, it)
	return omapi.StatusSuccess
}

// Remove takes iface off the list and drops the list's reference.
func (l *Interfaces) Remove(iface *Interface) omapi.Status {
	l.mu.Lock()
	var found *listed
	for i, it := range l.items {
		if it.iface == iface {
			found = it
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	if found == nil {
		return omapi.StatusNotFound
	}
	return found.ref.Release()
}

// Each calls fn for every interface in list order until fn returns false.
// fn sees the list as it was when Each started.
func (l *Interfaces) Each(fn func(*Interface) bool) {
	l.mu.RLock()
	items := make([]*Interface, len(l.items))
	for i, it := range l.items {
		items[i] = it.iface
	}
	l.mu.RUnlock()
	for _, iface := range items {
		if !fn(iface) {
			return
		}
	}
}

// Find returns the listed interface whose name equals name. The result is
// borrowed.
func (l *Interfaces) Find(name string) (*Interface, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, it := range l.items {
		if it.iface.name == name {
			return it.iface, true
		}
	}
	return nil, false
}

// FindPrefix returns the first listed interface whose name starts with
// prefix. The result is borrowed.
func (l *Interfaces) FindPrefix(prefix string) (*Interface, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, it := range l.items {
		if strings.HasPrefix(it.iface.name, prefix) {
			return it.iface, true
		}
	}
	return nil, false
}

func (l *Interfaces) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Clear drops every interface.
func (l *Interfaces) Clear() {
	l.mu.Lock()
	items := l.items
	l.items = nil
	l.mu.Unlock()
	for _, it := range items {
		it.ref.Release()
	}
}
