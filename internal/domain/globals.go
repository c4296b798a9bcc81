/*
 * MIT License
 *
 * (C) Copyright [2025] The OpenBatch Project
 *
 * Permission is hereby granted, free of charge, to any person obtaining a
 * copy of this software and associated documentation files (the "Software"),
 * to deal in the Software without restriction, including without limitation
 * the rights to use, copy, modify, merge, publish, distribute, sublicense,
 * and/or sell copies of the Software, and to permit persons to whom the
 * Software is furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL
 * THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR
 * OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE,
 * ARISING FROM, OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR
 * OTHER DEALINGS IN THE SOFTWARE.
 */

package domain

import (
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/notify"
	"github.com/openbatch/reservation-control/internal/placement"
	"github.com/openbatch/reservation-control/internal/storage"
)

var GLOB *DOMAIN_GLOBALS

func Init(glob *DOMAIN_GLOBALS) {
	GLOB = glob
}

type DOMAIN_GLOBALS struct {
	ServerName       string
	DefaultPartition string
	Managers         []string
	SchedulerToken   string
	SchedulerCount   int
	RetryDeltaSecs   int64
	Running          *bool
	DSP              *storage.StorageProvider
	PLC              *placement.PlacementProvider
	NTF              *notify.NotifierProvider
	DistLock         *storage.DistributedLockProvider
	DistLockEnabled  bool

	// ResvLock is the single logical owner of all reservation, node, and
	// ledger state.  Every confirm/deny, alteration, purge, conflict pass,
	// and timer firing runs to completion inside it.
	ResvLock *sync.Mutex

	// Now is the clock every time comparison reads.  Tests swap it.
	Now func() time.Time

	// InteractiveReplies maps reservation ID to the channel a blocking
	// submitter is parked on.  At most one waiter per reservation.
	InteractiveReplies cmap.ConcurrentMap[string, chan string]
}

func (g *DOMAIN_GLOBALS) NewGlobals(serverName string,
	defaultPartition string,
	managers []string,
	schedulerToken string,
	schedulerCount int,
	retryDeltaSecs int64,
	running *bool,
	dsp *storage.StorageProvider,
	plc *placement.PlacementProvider,
	ntf *notify.NotifierProvider,
	distLock *storage.DistributedLockProvider,
	distLockEnabled bool) {
	g.ServerName = serverName
	g.DefaultPartition = defaultPartition
	g.Managers = managers
	g.SchedulerToken = schedulerToken
	g.SchedulerCount = schedulerCount
	g.RetryDeltaSecs = retryDeltaSecs
	g.Running = running
	g.DSP = dsp
	g.PLC = plc
	g.NTF = ntf
	g.DistLock = distLock
	g.DistLockEnabled = distLockEnabled
	g.ResvLock = &sync.Mutex{}
	g.Now = time.Now
	g.InteractiveReplies = cmap.New[chan string]()
}

// acquireOwner enters the single-owner critical section, taking the
// distributed lock first when configured so multiple instances serialize
// against the same storage.  Returns the matching release function.
func acquireOwner() func() {
	if GLOB.DistLockEnabled && GLOB.DistLock != nil {
		err := (*GLOB.DistLock).DistributedTimedLock(distLockMaxTime)
		if err == nil {
			GLOB.ResvLock.Lock()
			return func() {
				GLOB.ResvLock.Unlock()
				(*GLOB.DistLock).Unlock()
			}
		}
		// Fall through on lock error; local exclusion still holds.
		logger.Log.WithFields(logrus.Fields{"ERROR": err}).Error("Error taking distributed lock")
	}
	GLOB.ResvLock.Lock()
	return GLOB.ResvLock.Unlock
}

const distLockMaxTime = time.Second * 60

// IsManager reports whether user carries manager/operator privilege.
func IsManager(user string) bool {
	for _, m := range GLOB.Managers {
		if m == user {
			return true
		}
	}
	return false
}
