package utils

import (
	"context"
	"strings"
	"sync"
)

// KeyedMutex hands out one lock per key and forgets keys nobody holds or waits on.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	// sem holds a token while the key is locked.
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyedLock{}}
}

// Lock blocks until key is free or ctx is done. On success it returns the
// matching unlock func, otherwise ctx's error.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// SyncKey builds the lock key serializing syncs of one fork/mirror branch pair.
// Owners and names are case insensitive on GitHub, branch names are not.
func SyncKey(forkOwner, forkName, forkBranch, mirrorOwner, mirrorName, mirrorBranch string) string {
	fork := strings.ToLower(forkOwner + "/" + forkName)
	mirror := strings.ToLower(mirrorOwner + "/" + mirrorName)
	return fork + ":" + forkBranch + "|" + mirror + ":" + mirrorBranch
}
