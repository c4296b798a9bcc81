// MIT License
//
// (C) Copyright [2025] The OpenBatch Project
//
// Permission is hereby granted, free of charge, to any person obtaining a
// copy of this software and associated documentation files (the "Software"),
// to deal in the Software without restriction, including without limitation
// the rights to use, copy, modify, merge, publish, distribute, sublicense,
// and/or sell copies of the Software, and to permit persons to whom the
// Software is furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included
// in all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL
// THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR
// OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
// ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
// OTHER DEALINGS IN THE SOFTWARE.

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

//This file contains an ETCD-based implementation of a distributed timed
//locking mechanism, which can be used to synchronize activities amongst
//multiple instances of a microservice.

const distLockKeyPfx = keyPrefix + "locks/reservations"

type ETCDLockProvider struct {
	Logger        *logrus.Logger
	Duration      time.Duration
	mutex         *sync.Mutex
	kvHandle      *clientv3.Client
	session       *concurrency.Session
	distMutex     *concurrency.Mutex
	ctx           context.Context
	ctxCancelFunc context.CancelFunc
}

func toStorageETCD(d *ETCDLockProvider) *ETCDStorage {
	return &ETCDStorage{Logger: d.Logger, mutex: d.mutex, kvHandle: d.kvHandle}
}

func fromStorageETCD(e *ETCDStorage) *ETCDLockProvider {
	return &ETCDLockProvider{Logger: e.Logger, mutex: e.mutex, kvHandle: e.kvHandle}
}

func (d *ETCDLockProvider) Init(Logger *logrus.Logger) error {
	e := toStorageETCD(d)
	err := e.Init(Logger)
	if err != nil {
		return err
	}
	d.Logger = e.Logger
	d.mutex = e.mutex
	d.kvHandle = e.kvHandle
	return nil
}

func (d *ETCDLockProvider) InitFromStorage(m interface{}, Logger *logrus.Logger) {
	ms := m.(*ETCDStorage)
	d.mutex = ms.mutex
	d.kvHandle = ms.kvHandle
	if Logger == nil {
		d.Logger = ms.Logger
	} else {
		d.Logger = Logger
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
}

func (d *ETCDLockProvider) Ping() error {
	e := toStorageETCD(d)
	return e.Ping()
}

func (d *ETCDLockProvider) DistributedTimedLock(maxLockTime time.Duration) error {
	if maxLockTime < (time.Second * 1) {
		return fmt.Errorf("Error: lock duration request invalid (%s) -- must be >= 1 second.",
			maxLockTime.String())
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	//The session TTL insures the lock is released if this instance dies
	//while holding it.

	session, err := concurrency.NewSession(d.kvHandle,
		concurrency.WithTTL(int(maxLockTime.Seconds())))
	if err != nil {
		return fmt.Errorf("Error creating distributed lock session: %v", err)
	}

	d.ctx, d.ctxCancelFunc = context.WithTimeout(context.Background(), maxLockTime)
	mtx := concurrency.NewMutex(session, distLockKeyPfx)
	err = mtx.Lock(d.ctx)
	if err != nil {
		d.ctxCancelFunc()
		session.Close()
		return fmt.Errorf("Error acquiring distributed lock: %v", err)
	}

	d.session = session
	d.distMutex = mtx
	d.Duration = maxLockTime
	return nil
}

func (d *ETCDLockProvider) Unlock() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.Duration = 0
	if d.distMutex == nil {
		return fmt.Errorf("Error: Unlock() called with no lock held.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), etcdRequestTimeout)
	err := d.distMutex.Unlock(ctx)
	cancel()
	d.session.Close()
	d.ctxCancelFunc()
	d.distMutex = nil
	d.session = nil
	return err
}

func (d *ETCDLockProvider) GetDuration() time.Duration {
	return d.Duration
}
