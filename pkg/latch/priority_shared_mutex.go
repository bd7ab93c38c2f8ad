// Package latch implements a writer-preferring shared/exclusive mutex with
// reentrant exclusive ownership. It backs the two latches the header
// timechain holds: one over topology, one over per-node sidecar payloads.
//
// Coordination is built on sync.Mutex guarding the state plus sync.Cond
// for the two wait queues rather than hand-rolled compare-and-swap retry
// loops. The acquisition contracts: writer preference, reentrancy via a
// token, and readers never starving a waiting writer.
package latch

import "sync"

// WriteToken identifies a goroutine's hold on the exclusive lock. Go does
// not expose a stable public goroutine identifier, so reentrancy is keyed
// off this explicit token instead of the holder's identity.
type WriteToken struct {
	id uint64
}

// PrioritySharedMutex is a shared/exclusive latch in which any writer that
// has announced intent to acquire the lock blocks all new readers, and a
// goroutine already holding the exclusive lock may reacquire it via its
// WriteToken without deadlocking itself.
type PrioritySharedMutex struct {
	mu        sync.Mutex
	readCond  sync.Cond
	writeCond sync.Cond

	readersActive  int32
	writersWaiting int32
	writerActive   bool
	owner          *WriteToken
	recursionDepth int32
	nextTokenID    uint64
}

// New constructs a ready-to-use PrioritySharedMutex.
func New() *PrioritySharedMutex {
	m := &PrioritySharedMutex{}
	m.readCond.L = &m.mu
	m.writeCond.L = &m.mu
	return m
}

// ReadGuard is returned by RLockGuard; call Unlock to release.
type ReadGuard struct{ m *PrioritySharedMutex }

// Unlock releases the shared hold.
func (g ReadGuard) Unlock() { g.m.RUnlock() }

// WriteGuard is returned by LockGuard; call Unlock to release.
type WriteGuard struct {
	m     *PrioritySharedMutex
	token *WriteToken
}

// Token returns the token identifying this exclusive hold, for threading
// through calls that may reenter Lock (e.g. sidecar replay during
// AddHeader).
func (g WriteGuard) Token() *WriteToken { return g.token }

// Unlock releases the exclusive hold (or one level of reentrancy).
func (g WriteGuard) Unlock() { g.m.Unlock(g.token) }

// RLock blocks until a shared hold can be acquired. New readers are
// refused whenever a writer is waiting or active, so a waiting writer is
// never starved by a steady stream of readers.
func (m *PrioritySharedMutex) RLock() {
	m.mu.Lock()
	for m.writerActive || m.writersWaiting > 0 {
		m.readCond.Wait()
	}
	m.readersActive++
	m.mu.Unlock()
}

// RUnlock releases a shared hold acquired via RLock.
func (m *PrioritySharedMutex) RUnlock() {
	m.mu.Lock()
	m.readersActive--
	if m.readersActive < 0 {
		panic("latch: RUnlock without matching RLock")
	}
	if m.readersActive == 0 {
		m.writeCond.Broadcast()
	}
	m.mu.Unlock()
}

// RLockGuard acquires a shared hold and returns a guard for deferred
// release.
func (m *PrioritySharedMutex) RLockGuard() ReadGuard {
	m.RLock()
	return ReadGuard{m: m}
}

// Lock acquires the exclusive hold. Pass nil to acquire fresh; pass a
// token previously returned by Lock (held by the calling goroutine) to
// reenter the same exclusive hold without blocking on itself.
func (m *PrioritySharedMutex) Lock(token *WriteToken) *WriteToken {
	m.mu.Lock()
	if token != nil && m.owner == token {
		m.recursionDepth++
		m.mu.Unlock()
		return token
	}

	m.writersWaiting++
	m.readCond.Broadcast() // wake parked readers so they re-check the gate and back off

	for m.writerActive {
		m.writeCond.Wait()
	}
	m.writerActive = true

	for m.readersActive > 0 {
		m.writeCond.Wait()
	}

	m.writersWaiting--
	m.readCond.Broadcast()

	m.nextTokenID++
	fresh := &WriteToken{id: m.nextTokenID}
	m.owner = fresh
	m.recursionDepth = 1
	m.mu.Unlock()
	return fresh
}

// LockGuard acquires the exclusive hold and returns a guard for deferred
// release; see Lock for the token-based reentrancy rule.
func (m *PrioritySharedMutex) LockGuard(token *WriteToken) WriteGuard {
	t := m.Lock(token)
	return WriteGuard{m: m, token: t}
}

// Unlock releases one level of exclusive ownership identified by token.
// The lock is only actually released once every reentrant Lock call has a
// matching Unlock.
func (m *PrioritySharedMutex) Unlock(token *WriteToken) {
	m.mu.Lock()
	if m.owner != token {
		m.mu.Unlock()
		panic("latch: Unlock by non-owner token")
	}
	m.recursionDepth--
	if m.recursionDepth > 0 {
		m.mu.Unlock()
		return
	}
	m.owner = nil
	m.writerActive = false
	m.readCond.Broadcast()
	m.writeCond.Broadcast()
	m.mu.Unlock()
}
