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
 *
 */

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/namsral/flag"

	"github.com/openbatch/reservation-control/internal/api"
	"github.com/openbatch/reservation-control/internal/domain"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/notify"
	"github.com/openbatch/reservation-control/internal/placement"
	"github.com/openbatch/reservation-control/internal/storage"
)

// Default Port to use
const defaultPORT = "28917"

// A reservation the scheduler cannot place right away is retried.  When the
// midpoint between now and the start time is already behind us the retry
// falls back to start (or now) plus this delta.
const defaultRetryDeltaSecs = 600

var (
	Running   = true
	restSrv   *http.Server
	waitGroup sync.WaitGroup

	serviceName string
	DSP         storage.StorageProvider
	PLC         placement.PlacementProvider
	NTF         notify.NotifierProvider
	DLOCK       storage.DistributedLockProvider
)

func main() {

	var err error
	logger.Init()

	// A .env file is a dev convenience; all settings below also arrive as
	// plain environment variables or flags.
	if err = godotenv.Load(); err == nil {
		logger.Log.Info("Loaded environment from .env")
	}

	serviceName, err = os.Hostname()
	if err != nil {
		serviceName = "RCS"
		logger.Log.Errorf("Can't get service instance name, using %s", serviceName)
	}

	logger.Log.Info("Service/Instance name: " + serviceName)

	var serverName string
	var defaultPartition string
	var managerList string
	var schedulerToken string
	var schedulerCount int
	var retryDeltaSecs int
	var distLockEnabled bool = true
	var runDispatcher bool = true
	var amqpURL string
	var httpListen string

	///////////////////////////////
	//ENVIRONMENT PARSING
	//////////////////////////////

	flag.StringVar(&serverName, "server_name", serviceName, "Server name; forms the host part of reservation IDs")
	flag.StringVar(&defaultPartition, "default_partition", "default", "Partition recorded when the scheduler names none")
	flag.StringVar(&managerList, "managers", "root", "Comma-separated list of manager/operator users")
	flag.StringVar(&schedulerToken, "scheduler_token", "", "Shared token identifying the scheduler channel")
	flag.IntVar(&schedulerCount, "scheduler_count", 1, "Number of schedulers expected to answer each confirmation")
	flag.IntVar(&retryDeltaSecs, "retry_delta_secs", defaultRetryDeltaSecs, "Fallback retry delta in seconds")
	flag.BoolVar(&distLockEnabled, "distlock_enabled", true, "Serialize state changes through the distributed lock")
	flag.BoolVar(&runDispatcher, "run_dispatcher", true, "Run the timed task dispatcher; false runs API only") // This was a flag useful for dev work
	flag.StringVar(&amqpURL, "amqp_url", "", "AMQP broker URL for owner events and accounting; empty logs locally")
	flag.StringVar(&httpListen, "http_listen", defaultPORT, "Port the REST server listens on")

	flag.Parse()

	logger.Log.Info("Server Name: " + serverName)
	logger.Log.Info("Default Partition: " + defaultPartition)
	logger.Log.Info("Managers: " + managerList)
	logger.Log.Info("Scheduler Count: ", schedulerCount)
	logger.Log.Info("Dist Lock Enabled: ", distLockEnabled)
	logger.Log.SetReportCaller(true)

	if schedulerToken == "" {
		logger.Log.Error("SCHEDULER_TOKEN is not set; confirmations will be rejected until it is")
	}

	managers := []string{}
	for _, m := range strings.Split(managerList, ",") {
		if m = strings.TrimSpace(m); m != "" {
			managers = append(managers, m)
		}
	}

	///////////////////////////////
	//CONFIGURATION
	//////////////////////////////

	//STORAGE/DISTLOCK CONFIGURATION
	envstr := os.Getenv("STORAGE")
	if envstr == "" || envstr == "MEMORY" {
		tmpStorageImplementation := &storage.MEMStorage{
			Logger: logger.Log,
		}
		DSP = tmpStorageImplementation
		logger.Log.Info("Storage Provider: In Memory")
		tmpDistLockImplementation := &storage.MEMLockProvider{}
		DLOCK = tmpDistLockImplementation
		logger.Log.Info("Distributed Lock Provider: In Memory")
	} else if envstr == "ETCD" {
		tmpStorageImplementation := &storage.ETCDStorage{
			Logger: logger.Log,
		}
		DSP = tmpStorageImplementation
		logger.Log.Info("Storage Provider: ETCD")
		tmpDistLockImplementation := &storage.ETCDLockProvider{}
		DLOCK = tmpDistLockImplementation
		logger.Log.Info("Distributed Lock Provider: ETCD")
	}
	err = DSP.Init(logger.Log)
	if err != nil {
		logger.Log.Fatalf("Storage provider init failed: %v", err)
	}
	DLOCK.InitFromStorage(DSP, logger.Log)

	//PLACEMENT CONFIGURATION
	PLC = &placement.InventoryV0{}
	plcGlob := placement.PLACEMENT_GLOBALS{
		SvcName: serviceName,
		Logger:  logger.Log,
		DSP:     &DSP,
	}
	err = PLC.Init(&plcGlob)
	if err != nil {
		logger.Log.Fatalf("Placement provider init failed: %v", err)
	}

	//NOTIFIER CONFIGURATION
	ntfGlob := notify.NOTIFY_GLOBALS{
		SvcName: serviceName,
		Logger:  logger.Log,
		AmqpURL: amqpURL,
	}
	if amqpURL != "" {
		NTF = &notify.AMQPNotifier{}
		logger.Log.Info("Notifier Provider: AMQP")
	} else {
		NTF = &notify.LogNotifier{}
		logger.Log.Info("Notifier Provider: Log only")
	}
	err = NTF.Init(&ntfGlob)
	if err != nil {
		logger.Log.Fatalf("Notifier provider init failed: %v", err)
	}

	//DOMAIN CONFIGURATION
	var domainGlobals domain.DOMAIN_GLOBALS
	domainGlobals.NewGlobals(serverName, defaultPartition, managers,
		schedulerToken, schedulerCount, int64(retryDeltaSecs), &Running,
		&DSP, &PLC, &NTF, &DLOCK, distLockEnabled)

	///////////////////////////////
	//INITIALIZATION
	//////////////////////////////
	domain.Init(&domainGlobals)

	// Window and retry timers do not survive a restart on their own; the
	// persisted task records do.
	err = domain.RearmTimedTasks()
	if err != nil {
		logger.Log.Errorf("Error re-arming timed tasks: %v", err)
	}

	///////////////////////////////
	//SIGNAL HANDLING
	//////////////////////////////

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	idleConnsClosed := make(chan struct{})
	go func() {
		<-c
		Running = false

		// Interactive submitters are still parked on reply channels;
		// release them before the listener goes away.
		domain.DrainInteractiveWaiters()

		ctx := context.Background()
		if restSrv != nil {
			if err := restSrv.Shutdown(ctx); err != nil {
				logger.Log.Panic("ERROR: Unable to stop REST collection server!")
			}
		}

		NTF.Close()

		close(idleConnsClosed)
	}()

	///////////////////////
	// START
	///////////////////////

	if runDispatcher {
		logger.Log.Info("Starting timed task dispatcher")
		domain.StartTaskDispatcher()
	} else {
		logger.Log.Info("NOT starting timed task dispatcher")
	}

	//Rest Server
	waitGroup.Add(1)
	doRest(httpListen)

	//////////////////////
	// WAIT FOR GOD
	/////////////////////

	waitGroup.Wait()
	logger.Log.Info("HTTP server shutdown, waiting for idle connection to close...")
	<-idleConnsClosed
	logger.Log.Info("Done. Exiting.")
}

func doRest(serverPort string) {

	logger.Log.Info("**RUNNING -- Listening on " + serverPort)

	srv := &http.Server{Addr: ":" + serverPort}
	router := api.NewRouter()

	http.Handle("/", router)

	go func() {
		defer waitGroup.Done()
		if err := srv.ListenAndServe(); err != nil {
			// Cannot panic because this is probably just a graceful shutdown.
			logger.Log.Error(err)
			logger.Log.Info("REST collection server shutdown.")
		}
	}()

	logger.Log.Info("REST collection server started on port " + serverPort)
	restSrv = srv
}
