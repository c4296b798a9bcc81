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
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/model"
)

// ErrKeyNotFound marks a lookup miss so callers can tell "record does not
// exist" apart from a backend failure.
var ErrKeyNotFound = errors.New("key does not exist")

type StorageProvider interface {
	Init(Logger *logrus.Logger) error
	Ping() error

	StoreReservation(r model.Reservation) error
	GetReservation(resvID string) (model.Reservation, error)
	GetAllReservations() ([]model.Reservation, error)
	DeleteReservation(resvID string) error
	TASReservation(r model.Reservation, testVal model.Reservation) (bool, error)
	NextReservationSeq() (int64, error)

	StoreQueue(q model.Queue) error
	GetQueue(name string) (model.Queue, error)
	DeleteQueue(name string) error

	StoreNode(n model.Node) error
	GetNode(name string) (model.Node, error)
	GetAllNodes() ([]model.Node, error)
	DeleteNode(name string) error

	StoreTimedTask(t model.TimedTask) error
	GetTimedTask(taskID uuid.UUID) (model.TimedTask, error)
	GetAllTimedTasks() ([]model.TimedTask, error)
	DeleteTimedTask(taskID uuid.UUID) error

	StoreServerLedger(l model.ServerLedger) error
	GetServerLedger() (model.ServerLedger, error)
}

type DistributedLockProvider interface {
	Init(Logger *logrus.Logger) error
	InitFromStorage(si interface{}, Logger *logrus.Logger)
	Ping() error
	GetDuration() time.Duration
	DistributedTimedLock(maxLockTime time.Duration) error
	Unlock() error
}
