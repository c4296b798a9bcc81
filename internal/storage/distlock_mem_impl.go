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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

//This file contains an in-memory implementation of a distributed locking
//mechanism.   NOTE: THIS MECHANISM DOESN'T REALLY DO ANY DIST'D LOCKING,
//since there is no IPC or actual backing store.  It locks out other
//goroutines in the same process, which is all a single-instance deployment
//needs.  It exists to satisfy the dist'd lock interface.

type MEMLockProvider struct {
	Logger   *logrus.Logger
	Duration time.Duration
	mutex    *sync.Mutex
	lockMtx  sync.Mutex
	kvHandle map[string]string
}

func toStorageMEM(d *MEMLockProvider) *MEMStorage {
	return &MEMStorage{Logger: d.Logger, mutex: d.mutex, kvHandle: d.kvHandle}
}

func fromStorageMEM(m *MEMStorage) *MEMLockProvider {
	return &MEMLockProvider{Logger: m.Logger, mutex: m.mutex, kvHandle: m.kvHandle}
}

func (d *MEMLockProvider) Init(Logger *logrus.Logger) error {
	e := toStorageMEM(d)
	err := e.Init(Logger)
	if err != nil {
		return err
	}
	d.Logger = e.Logger
	d.mutex = e.mutex
	d.kvHandle = e.kvHandle
	return nil
}

func (d *MEMLockProvider) InitFromStorage(m interface{}, Logger *logrus.Logger) {
	ms := m.(*MEMStorage)
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

func (d *MEMLockProvider) Ping() error {
	e := toStorageMEM(d)
	return e.Ping()
}

func (d *MEMLockProvider) DistributedTimedLock(maxLockTime time.Duration) error {
	if maxLockTime < (time.Second * 1) {
		return fmt.Errorf("Error: lock duration request invalid (%s) -- must be >= 1 second.",
			maxLockTime.String())
	}
	d.lockMtx.Lock()
	d.Duration = maxLockTime
	return nil
}

func (d *MEMLockProvider) Unlock() error {
	d.Duration = 0
	d.lockMtx.Unlock()
	return nil
}

func (d *MEMLockProvider) GetDuration() time.Duration {
	return d.Duration
}
