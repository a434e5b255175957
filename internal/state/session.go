// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package state holds transient, concurrency-safe process state that must be
// shared between workers, such as the directory session credentials.
package state

import "sync"

// Session is an authenticated directory session. Server may differ from the
// configured server when the directory redirects the database.
type Session struct {
	Database string
	UserName string
	Server   string
	ID       string
}

// SessionCache is a mailbox for the current session. The session id is kept
// in a byte slice so it can be zeroed when the session is dropped.
type SessionCache struct {
	mu       sync.RWMutex
	database string
	userName string
	server   string
	id       []byte
}

// NewSessionCache returns an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{}
}

// Set stores s, replacing and wiping any previous session.
func (c *SessionCache) Set(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipe()
	c.database = s.Database
	c.userName = s.UserName
	c.server = s.Server
	c.id = []byte(s.ID)
}

// Get returns a copy of the cached session and whether one is present.
func (c *SessionCache) Get() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.id == nil {
		return Session{}, false
	}
	return Session{Database: c.database, UserName: c.userName, Server: c.server, ID: string(c.id)}, true
}

// Invalidate drops the cached session only if it is still the one with the
// given id. Workers that saw the same expired session race here; the first
// clears it and later callers leave a freshly stored session alone.
func (c *SessionCache) Invalidate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == nil || string(c.id) != id {
		return false
	}
	c.wipe()
	return true
}

// Clear wipes the cached session.
func (c *SessionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipe()
}

func (c *SessionCache) wipe() {
	for i := range c.id {
		c.id[i] = 0
	}
	c.id = nil
	c.database, c.userName, c.server = "", "", ""
}
