package ingest

import (
	"context"

	"github.com/suPer8Hu/govchat/internal/keylock"
)

// Locker serializes writes for one URL across workers. The returned release
// func must be called exactly once; calling it again is a no-op.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker serializes within one process.
type LocalLocker struct {
	m keylock.Map
}

func NewLocalLocker() *LocalLocker { return &LocalLocker{} }

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.m.Lock("ingest:" + key), nil
}
