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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/model"
)

//This file contains the in-memory implementation of RCS storage, used for
//single-instance deployments and tests.  It keeps the same key layout as
//the ETCD implementation so key-level behavior matches.

type MEMStorage struct {
	Logger   *logrus.Logger
	mutex    *sync.Mutex
	kvHandle map[string]string
}

func (m *MEMStorage) fixUpKey(k string) string {
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

func (m *MEMStorage) kvStore(key string, val interface{}) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, err := json.Marshal(val)
	if err == nil {
		m.kvHandle[m.fixUpKey(key)] = string(data)
	}
	return err
}

func (m *MEMStorage) kvGet(key string, val interface{}) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	v, exists := m.kvHandle[m.fixUpKey(key)]
	if !exists {
		return errors.Wrapf(ErrKeyNotFound, "key %s", key)
	}
	return json.Unmarshal([]byte(v), &val)
}

func (m *MEMStorage) kvDelete(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.kvHandle, m.fixUpKey(key))
	return nil
}

func (m *MEMStorage) kvTAS(key string, testVal interface{}, setVal interface{}) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	tdata, err := json.Marshal(testVal)
	if err != nil {
		return false, err
	}
	sdata, err := json.Marshal(setVal)
	if err != nil {
		return false, err
	}
	realKey := m.fixUpKey(key)
	cur, exists := m.kvHandle[realKey]
	if !exists || cur != string(tdata) {
		return false, nil
	}
	m.kvHandle[realKey] = string(sdata)
	return true, nil
}

func (m *MEMStorage) kvPutIfAbsent(key string, val interface{}) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, err := json.Marshal(val)
	if err != nil {
		return false, err
	}
	realKey := m.fixUpKey(key)
	if _, exists := m.kvHandle[realKey]; exists {
		return false, nil
	}
	m.kvHandle[realKey] = string(data)
	return true, nil
}

func (m *MEMStorage) kvGetRange(keyStart string, keyEnd string) ([]kvPair, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	kvl := []kvPair{}
	for k, v := range m.kvHandle {
		if k >= keyStart && k <= keyEnd {
			kvl = append(kvl, kvPair{Key: k, Value: v})
		}
	}
	sort.Slice(kvl, func(i, j int) bool { return kvl[i].Key < kvl[j].Key })
	return kvl, nil
}

func (m *MEMStorage) Init(Logger *logrus.Logger) error {
	if Logger == nil {
		m.Logger = logrus.New()
	} else {
		m.Logger = Logger
	}

	m.mutex = &sync.Mutex{}
	m.kvHandle = make(map[string]string)
	m.Logger.Info("KV memory setup succeeded.")
	return nil
}

func (m *MEMStorage) Ping() error {
	m.Logger.Debug("MEMORY PING")
	if m.kvHandle == nil {
		return fmt.Errorf("Memory storage not initialized.")
	}
	key := fmt.Sprintf("/ping/%s", uuid.New().String())
	err := m.kvStore(key, "")
	if err == nil {
		err = m.kvDelete(key)
	}
	return err
}

///////////////////////
// Reservations
///////////////////////

func (m *MEMStorage) StoreReservation(r model.Reservation) error {
	key := fmt.Sprintf("%s/%s", keySegReservation, r.ReservationID)
	return m.kvStore(key, r)
}

func (m *MEMStorage) GetReservation(resvID string) (model.Reservation, error) {
	var r model.Reservation
	key := fmt.Sprintf("%s/%s", keySegReservation, resvID)
	err := m.kvGet(key, &r)
	return r, err
}

func (m *MEMStorage) GetAllReservations() ([]model.Reservation, error) {
	rlist := []model.Reservation{}
	k := m.fixUpKey(keySegReservation)
	kvl, err := m.kvGetRange(k+keyMin, k+keyMax)
	if err != nil {
		return rlist, err
	}
	for _, kv := range kvl {
		var r model.Reservation
		err = json.Unmarshal([]byte(kv.Value), &r)
		if err != nil {
			m.Logger.Error(err)
		} else {
			rlist = append(rlist, r)
		}
	}
	return rlist, err
}

func (m *MEMStorage) DeleteReservation(resvID string) error {
	key := fmt.Sprintf("%s/%s", keySegReservation, resvID)
	return m.kvDelete(key)
}

func (m *MEMStorage) TASReservation(r model.Reservation, testVal model.Reservation) (bool, error) {
	key := fmt.Sprintf("%s/%s", keySegReservation, r.ReservationID)
	return m.kvTAS(key, testVal, r)
}

func (m *MEMStorage) NextReservationSeq() (int64, error) {
	for attempt := 0; attempt < 10; attempt++ {
		var cur int64
		err := m.kvGet(keySegReservSeq, &cur)
		if errors.Is(err, ErrKeyNotFound) {
			ok, cerr := m.kvPutIfAbsent(keySegReservSeq, int64(1))
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
		ok, err := m.kvTAS(keySegReservSeq, cur, cur+1)
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

func (m *MEMStorage) StoreQueue(q model.Queue) error {
	key := fmt.Sprintf("%s/%s", keySegQueue, q.Name)
	return m.kvStore(key, q)
}

func (m *MEMStorage) GetQueue(name string) (model.Queue, error) {
	var q model.Queue
	key := fmt.Sprintf("%s/%s", keySegQueue, name)
	err := m.kvGet(key, &q)
	return q, err
}

func (m *MEMStorage) DeleteQueue(name string) error {
	key := fmt.Sprintf("%s/%s", keySegQueue, name)
	return m.kvDelete(key)
}

///////////////////////
// Nodes
///////////////////////

func (m *MEMStorage) StoreNode(n model.Node) error {
	key := fmt.Sprintf("%s/%s", keySegNode, n.Name)
	return m.kvStore(key, n)
}

func (m *MEMStorage) GetNode(name string) (model.Node, error) {
	var n model.Node
	key := fmt.Sprintf("%s/%s", keySegNode, name)
	err := m.kvGet(key, &n)
	return n, err
}

func (m *MEMStorage) GetAllNodes() ([]model.Node, error) {
	nodes := []model.Node{}
	k := m.fixUpKey(keySegNode)
	kvl, err := m.kvGetRange(k+keyMin, k+keyMax)
	if err != nil {
		return nodes, err
	}
	for _, kv := range kvl {
		var n model.Node
		err = json.Unmarshal([]byte(kv.Value), &n)
		if err != nil {
			m.Logger.Error(err)
		} else {
			nodes = append(nodes, n)
		}
	}
	return nodes, err
}

func (m *MEMStorage) DeleteNode(name string) error {
	key := fmt.Sprintf("%s/%s", keySegNode, name)
	return m.kvDelete(key)
}

///////////////////////
// Timed tasks
///////////////////////

func (m *MEMStorage) StoreTimedTask(t model.TimedTask) error {
	key := fmt.Sprintf("%s/%s", keySegTimedTask, t.TaskID.String())
	return m.kvStore(key, t)
}

func (m *MEMStorage) GetTimedTask(taskID uuid.UUID) (model.TimedTask, error) {
	var t model.TimedTask
	key := fmt.Sprintf("%s/%s", keySegTimedTask, taskID.String())
	err := m.kvGet(key, &t)
	return t, err
}

func (m *MEMStorage) GetAllTimedTasks() ([]model.TimedTask, error) {
	tasks := []model.TimedTask{}
	k := m.fixUpKey(keySegTimedTask)
	kvl, err := m.kvGetRange(k+keyMin, k+keyMax)
	if err != nil {
		return tasks, err
	}
	for _, kv := range kvl {
		var t model.TimedTask
		err = json.Unmarshal([]byte(kv.Value), &t)
		if err != nil {
			m.Logger.Error(err)
		} else {
			tasks = append(tasks, t)
		}
	}
	return tasks, err
}

func (m *MEMStorage) DeleteTimedTask(taskID uuid.UUID) error {
	key := fmt.Sprintf("%s/%s", keySegTimedTask, taskID.String())
	return m.kvDelete(key)
}

///////////////////////
// Server ledger
///////////////////////

func (m *MEMStorage) StoreServerLedger(l model.ServerLedger) error {
	return m.kvStore(keySegServerLedger, l)
}

func (m *MEMStorage) GetServerLedger() (model.ServerLedger, error) {
	var l model.ServerLedger
	err := m.kvGet(keySegServerLedger, &l)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return model.NewServerLedger(), nil
		}
	}
	return l, err
}
