/*
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

package api

import (
	"net/http"

	"github.com/openbatch/reservation-control/internal/domain"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
)

type healthRsp struct {
	KvStore     string `json:"KvStore"`
	DistLocking string `json:"DistLocking"`
	Placement   string `json:"Placement"`
	Notifier    string `json:"Notifier"`
}

// The API layer is responsible for Json Unmarshaling and Marshaling,
// creating the correct parameter types, validating the parameters by schema
// and calling the domain layer.

// Returns the microservice liveness indicator.  Any response means we're live.
func GetLiveness(w http.ResponseWriter, req *http.Request) {
	DrainAndCloseRequestBody(req)
	w.WriteHeader(http.StatusNoContent)
}

// Readiness - Returns the microservice readiness indicator
func GetReadiness(w http.ResponseWriter, req *http.Request) {
	var err error

	fname := "GetReadiness"
	glb := *domain.GLOB
	ready := true

	DrainAndCloseRequestBody(req)

	//Check KVStore and dist locks

	err = (*glb.DSP).Ping()
	if err != nil {
		logger.Log.Errorf("%s: Ping() failed to storage provider.", fname)
		ready = false
	}

	if glb.DistLockEnabled {
		err = (*glb.DistLock).Ping()
		if err != nil {
			logger.Log.Errorf("%s: Ping() failed to dist lock provider.", fname)
			ready = false
		}
	}

	//Check placement

	err = (*glb.PLC).Ping()
	if err != nil {
		logger.Log.Errorf("%s: Ping() failed to placement provider.", fname)
		ready = false
	}

	//Check notifier

	err = (*glb.NTF).Ping()
	if err != nil {
		logger.Log.Errorf("%s: Ping() failed to notifier.", fname)
		ready = false
	}

	if ready {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// GetHealth - Returns various health information
func GetHealth(w http.ResponseWriter, req *http.Request) {
	var err error
	var rspData healthRsp

	connected := "connected"
	unconnected := "not connected"
	responsive := "responsive"
	unresponsive := "not responsive"
	sep := ", "

	glb := *domain.GLOB

	DrainAndCloseRequestBody(req)

	//Check KVStore

	if glb.DSP == nil {
		rspData.KvStore = unconnected
	} else {
		err = (*glb.DSP).Ping()
		if err == nil {
			rspData.KvStore = connected + sep + responsive
		} else {
			rspData.KvStore = connected + sep + unresponsive
		}
	}

	if glb.DistLock == nil {
		rspData.DistLocking = unconnected
	} else if !glb.DistLockEnabled {
		rspData.DistLocking = "disabled"
	} else {
		err = (*glb.DistLock).Ping()
		if err == nil {
			rspData.DistLocking = connected + sep + responsive
		} else {
			rspData.DistLocking = connected + sep + unresponsive
		}
	}

	//Check placement

	if glb.PLC == nil {
		rspData.Placement = unconnected
	} else {
		err = (*glb.PLC).Ping()
		if err == nil {
			rspData.Placement = connected + sep + responsive
		} else {
			rspData.Placement = connected + sep + unresponsive
		}
	}

	//Check notifier

	if glb.NTF == nil {
		rspData.Notifier = unconnected
	} else {
		err = (*glb.NTF).Ping()
		if err == nil {
			rspData.Notifier = connected + sep + responsive
		} else {
			rspData.Notifier = connected + sep + unresponsive
		}
	}

	pb := model.Passback{StatusCode: http.StatusOK, Obj: rspData}
	WriteHeaders(w, pb)
}
