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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/openbatch/reservation-control/internal/model"
)

// This file contains the ETCD implementation of RCS storage.  All records
// are stored as JSON strings under a fixed key prefix.

const (
	kvRetriesDefault   = 5
	etcdRequestTimeout = 10 * time.Second
	etcdDialTimeout    = 5 * time.Second
	keyPrefix          = "/rcs/"
	keySegReservation  = "/reservation"
	keySegReservSeq    = "/reservseq"
	keySegQueue        = "/queue"
	keySegNode         = "/node"
	keySegTimedTask    = "/timedtask"
	keySegServerLedger = "/serverledger"
	keyMin             = " "
	keyMax             = "~"
)

type ETCDStorage struct {
	Logger   *logrus.Logger
	mutex    *sync.Mutex
	kvHandle *clientv3.Client
}

func (e *ETCDStorage) fixUpKey(k string) string {
	key := k
	if !strings.HasPrefix(k, keyPrefix) {
		key = keyPrefix
		if strings.HasPrefix(k, "/") {
			key += k[1:]
		} else {
			key += k
		}
	}
	return key
}

////// ETCD /////

func (e *ETCDStorage) kvStore(key string, val interface{}) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	data, err := json.Marshal(val)
	if err == nil {
		realKey := e.fixUpKey(key)
		ctx, cancel := context.WithTimeout(context.Background(), etcdRequestTimeout)
		_, err = e.kvHandle.Put(ctx, realKey, string(data))
		cancel()
	}
	return err
}

func (e *ETCDStorage) kvGet(key string, val interface{}) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	realKey := e.fixUpKey(key)
	ctx, cancel := context.WithTimeout(context.Background(), etcdRequestTimeout)
	rsp, err := e.kvHandle.Get(ctx, realKey)
	cancel()
	if err != nil {
		return err
	}
	if len(rsp.Kvs) == 0 {
		return errors.Wrapf(ErrKeyNotFound, "key %s", key)
	}
	return json.Unmarshal(rsp.Kvs[0].Value, &val)
}

// if a key doesnt exist, etcd doesn't return an error
func (e *ETCDStorage) kvDelete(key string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	realKey := e.fixUpKey(key)
	e.Logger.Trace("delete" + realKey)
	ctx, cancel := context.WithTimeout(context.Background(), etcdRequestTimeout)
	_, err := e.kvHandle.Delete(ctx, realKey)
	cancel()
	return err
}

// Do an atomic Test-And-Set operation
func (e *ETCDStorage) kvTAS(key string, testVal interface{}, setVal interface{}) (bool, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	tdata, err := json.Marshal(testVal)
	if err != nil {
		return false, err
	}
	sdata, err := json.Marshal(setVal)
	if err != nil {
		return false, err
	}
	realKey := e.fixUpKey(key)
	ctx, cancel := context.WithTimeout(context.Background(), etcdRequestTimeout)
	rsp, err := e.kvHandle.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(realKey), "=", string(tdata))).
		Then(clientv3.OpPut(realKey, string(sdata))).
		Commit()
	cancel()
	if err != nil {
		return false, err
	}
	return rsp.Succeeded, nil
}

// kvPutIfAbsent creates a key only when it does not exist yet.
func (e *ETCDStorage) kvPutIfAbsent(key string, val interface{}) (bool, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	data, err := json.Marshal(val)
	if err != nil {
		return false, err
	}
	realKey := e.fixUpKey(key)
	ctx, cancel := context.WithTimeout(context.Background(), etcdRequestTimeout)
	rsp, err := e.kvHandle.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(realKey), "=", 0)).
		Then(clientv3.OpPut(realKey, string(data))).
		Commit()
	cancel()
	if err != nil {
		return false, err
	}
	return rsp.Succeeded, nil
}

type kvPair struct {
	Key   string
	Value string
}

func (e *ETCDStorage) kvGetRange(keyStart string, keyEnd string) ([]kvPair, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), etcdRequestTimeout)
	rsp, err := e.kvHandle.Get(ctx, keyStart, clientv3.WithRange(keyEnd))
	cancel()
	if err != nil {
		return nil, err
	}
	kvl := make([]kvPair, 0, len(rsp.Kvs))
	for _, kv := range rsp.Kvs {
		kvl = append(kvl, kvPair{Key: string(kv.Key), Value: string(kv.Value)})
	}
	return kvl, nil
}

func (e *ETCDStorage) Init(Logger *logrus.Logger) error {
	var kverr error

	if Logger == nil {
		e.Logger = logrus.New()
	} else {
		e.Logger = Logger
	}

	e.mutex = &sync.Mutex{}
	retries := kvRetriesDefault
	host, hostExists := os.LookupEnv("ETCD_HOST")
	if !hostExists {
		e.kvHandle = nil
		return fmt.Errorf("No ETCD HOST specified, can't open ETCD.")
	}
	port, portExists := os.LookupEnv("ETCD_PORT")
	if !portExists {
		e.kvHandle = nil
		return fmt.Errorf("No ETCD PORT specified, can't open ETCD.")
	}

	kvURL := fmt.Sprintf("http://%s:%s", host, port)
	e.Logger.Info(kvURL)

	etcOK := false
	for ix := 1; ix <= retries; ix++ {
		e.kvHandle, kverr = clientv3.New(clientv3.Config{
			Endpoints:   []string{kvURL},
			DialTimeout: etcdDialTimeout,
		})
		if kverr != nil {
			e.Logger.Error("ERROR opening connection to ETCD (attempt ", ix, "):", kverr)
		} else {
			etcOK = true
			e.Logger.Info("ETCD connection succeeded.")
			break
		}
	}
	if !etcOK {
		e.kvHandle = nil
		return fmt.Errorf("ETCD connection attempts exhausted, can't connect.")
	}
	return nil
}

func (e *ETCDStorage) Ping() error {
	e.Logger.Debug("ETCD PING")
	key := fmt.Sprintf("/ping/%s", uuid.New().String())
	err := e.kvStore(key, "")
	if err == nil {
		err = e.kvDelete(key)
	}
	return err
}

///////////////////////
// Reservations
///////////////////////

func (e *ETCDStorage) StoreReservation(r model.Reservation) error {
	key := fmt.Sprintf("%s/%s", keySegReservation, r.ReservationID)
	err := e.kvStore(key, r)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

func (e *ETCDStorage) GetReservation(resvID string) (model.Reservation, error) {
	var r model.Reservation
	key := fmt.Sprintf("%s/%s", keySegReservation, resvID)

	err := e.kvGet(key, &r)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		e.Logger.Error(err)
	}
	return r, err
}

func (e *ETCDStorage) GetAllReservations() ([]model.Reservation, error) {
	rlist := []model.Reservation{}
	k := e.fixUpKey(keySegReservation)
	kvl, err := e.kvGetRange(k+keyMin, k+keyMax)
	if err == nil {
		for _, kv := range kvl {
			var r model.Reservation
			err = json.Unmarshal([]byte(kv.Value), &r)
			if err != nil {
				e.Logger.Error(err)
			} else {
				rlist = append(rlist, r)
			}
		}
	} else {
		e.Logger.Error(err)
	}
	return rlist, err
}

func (e *ETCDStorage) DeleteReservation(resvID string) error {
	key := fmt.Sprintf("%s/%s", keySegReservation, resvID)
	err := e.kvDelete(key)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

func (e *ETCDStorage) TASReservation(r model.Reservation, testVal model.Reservation) (bool, error) {
	key := fmt.Sprintf("%s/%s", keySegReservation, r.ReservationID)
	ok, err := e.kvTAS(key, testVal, r)
	if err != nil {
		e.Logger.Error(err)
	}
	return ok, err
}

// NextReservationSeq hands out monotonically increasing sequence numbers
// for reservation IDs, shared across service instances.
func (e *ETCDStorage) NextReservationSeq() (int64, error) {
	for attempt := 0; attempt < 10; attempt++ {
		var cur int64
		err := e.kvGet(keySegReservSeq, &cur)
		if errors.Is(err, ErrKeyNotFound) {
			ok, cerr := e.kvPutIfAbsent(keySegReservSeq, int64(1))
			if cerr != nil {
				return 0, cerr
			}
			if ok {
				return 1, nil
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		ok, err := e.kvTAS(keySegReservSeq, cur, cur+1)
		if err != nil {
			return 0, err
		}
		if ok {
			return cur + 1, nil
		}
	}
	return 0, fmt.Errorf("reservation sequence contention, giving up")
}

///////////////////////
// Queues
///////////////////////

func (e *ETCDStorage) StoreQueue(q model.Queue) error {
	key := fmt.Sprintf("%s/%s", keySegQueue, q.Name)
	err := e.kvStore(key, q)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

func (e *ETCDStorage) GetQueue(name string) (model.Queue, error) {
	var q model.Queue
	key := fmt.Sprintf("%s/%s", keySegQueue, name)

	err := e.kvGet(key, &q)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		e.Logger.Error(err)
	}
	return q, err
}

func (e *ETCDStorage) DeleteQueue(name string) error {
	key := fmt.Sprintf("%s/%s", keySegQueue, name)
	err := e.kvDelete(key)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

///////////////////////
// Nodes
///////////////////////

func (e *ETCDStorage) StoreNode(n model.Node) error {
	key := fmt.Sprintf("%s/%s", keySegNode, n.Name)
	err := e.kvStore(key, n)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

func (e *ETCDStorage) GetNode(name string) (model.Node, error) {
	var n model.Node
	key := fmt.Sprintf("%s/%s", keySegNode, name)

	err := e.kvGet(key, &n)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		e.Logger.Error(err)
	}
	return n, err
}

func (e *ETCDStorage) GetAllNodes() ([]model.Node, error) {
	nodes := []model.Node{}
	k := e.fixUpKey(keySegNode)
	kvl, err := e.kvGetRange(k+keyMin, k+keyMax)
	if err == nil {
		for _, kv := range kvl {
			var n model.Node
			err = json.Unmarshal([]byte(kv.Value), &n)
			if err != nil {
				e.Logger.Error(err)
			} else {
				nodes = append(nodes, n)
			}
		}
	} else {
		e.Logger.Error(err)
	}
	return nodes, err
}

func (e *ETCDStorage) DeleteNode(name string) error {
	key := fmt.Sprintf("%s/%s", keySegNode, name)
	err := e.kvDelete(key)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

///////////////////////
// Timed tasks
///////////////////////

func (e *ETCDStorage) StoreTimedTask(t model.TimedTask) error {
	key := fmt.Sprintf("%s/%s", keySegTimedTask, t.TaskID.String())
	err := e.kvStore(key, t)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

func (e *ETCDStorage) GetTimedTask(taskID uuid.UUID) (model.TimedTask, error) {
	var t model.TimedTask
	key := fmt.Sprintf("%s/%s", keySegTimedTask, taskID.String())

	err := e.kvGet(key, &t)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		e.Logger.Error(err)
	}
	return t, err
}

func (e *ETCDStorage) GetAllTimedTasks() ([]model.TimedTask, error) {
	tasks := []model.TimedTask{}
	k := e.fixUpKey(keySegTimedTask)
	kvl, err := e.kvGetRange(k+keyMin, k+keyMax)
	if err == nil {
		for _, kv := range kvl {
			var t model.TimedTask
			err = json.Unmarshal([]byte(kv.Value), &t)
			if err != nil {
				e.Logger.Error(err)
			} else {
				tasks = append(tasks, t)
			}
		}
	} else {
		e.Logger.Error(err)
	}
	return tasks, err
}

func (e *ETCDStorage) DeleteTimedTask(taskID uuid.UUID) error {
	key := fmt.Sprintf("%s/%s", keySegTimedTask, taskID.String())
	err := e.kvDelete(key)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}


///////////////////////
// Server ledger
///////////////////////

func (e *ETCDStorage) StoreServerLedger(l model.ServerLedger) error {
	err := e.kvStore(keySegServerLedger, l)
	if err != nil {
		e.Logger.Error(err)
	}
	return err
}

func (e *ETCDStorage) GetServerLedger() (model.ServerLedger, error) {
	var l model.ServerLedger
	err := e.kvGet(keySegServerLedger, &l)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return model.NewServerLedger(), nil
		}
		e.Logger.Error(err)
	}
	return l, err
}
