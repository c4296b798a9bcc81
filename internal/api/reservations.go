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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/domain"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
)

// The API layer is responsible for Json Unmarshaling and Marshaling,
// creating the correct parameter types, validating the parameters by schema
// and calling the domain layer.   Validation in the API layer does not
// include 'domain level validation'.  e.g. Check that a confirmation
// arrived on the scheduler channel, not whether the reservation can be
// confirmed.  That is the responsibility of the domain layer.

// SubmitReservation - creates a reservation in the unconfirmed state.
// With ?block=true the request parks until the confirmation cycle delivers
// its one terminal reply.
func SubmitReservation(w http.ResponseWriter, req *http.Request) {
	var pb model.Passback
	var parameters model.SubmitParameter
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)

		DrainAndCloseRequestBody(req)

		logger.Log.WithFields(logrus.Fields{"body": string(body)}).Trace("Printing request body")

		if err != nil {
			pb := model.BuildErrorPassback(http.StatusInternalServerError, err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error detected retrieving body")
			WriteHeaders(w, pb)
			return
		}

		err = json.Unmarshal(body, &parameters)
		if err != nil {
			pb = model.BuildErrorPassback(http.StatusBadRequest, err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Unparseable json")
			WriteHeaders(w, pb)
			return
		}
	} else {
		err := errors.New("empty body not allowed")
		pb = model.BuildErrorPassback(http.StatusBadRequest, err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("empty body")
		WriteHeaders(w, pb)
		return
	}

	block := strings.EqualFold(req.URL.Query().Get("block"), "true")
	parameters.Interactive = block

	pb = domain.SubmitReservation(parameters)
	if pb.IsError {
		WriteHeaders(w, pb)
		return
	}

	resp := pb.Obj.(model.ReservationResp)
	if !block {
		location := "../reservations/" + resp.ReservationID
		WriteHeadersWithLocation(w, pb, location)
		return
	}

	// Interactive path.  Register before checking the record so a
	// confirmation landing in between cannot slip past both.
	ch, err := domain.RegisterInteractiveWaiter(resp.ReservationID)
	if err != nil {
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error registering interactive waiter")
		WriteHeaders(w, pb)
		return
	}
	if line, settled := settledReply(resp.ReservationID); settled {
		domain.UnregisterInteractiveWaiter(resp.ReservationID)
		writeInteractiveReply(w, line)
		return
	}

	select {
	case line := <-ch:
		writeInteractiveReply(w, line)
	case <-req.Context().Done():
		domain.UnregisterInteractiveWaiter(resp.ReservationID)
	}
}

// GetReservations - returns all reservations, or one by ID
func GetReservations(w http.ResponseWriter, req *http.Request) {
	var pb model.Passback
	params := mux.Vars(req)

	defer DrainAndCloseRequestBody(req)

	//If resvID is not in the params, then do ALL
	if _, ok := params["resvID"]; ok {
		pb = GetResvIDFromVars("resvID", req)
		if pb.IsError {
			WriteHeaders(w, pb)
			return
		}
		resvID := pb.Obj.(string)
		pb = domain.GetReservation(resvID)
	} else {
		query := req.URL.Query()
		pb = domain.GetReservations(query.Get("state"), query.Get("node"))
	}
	WriteHeaders(w, pb)
	return
}

// AlterReservationID - stages an alteration to a confirmed reservation
func AlterReservationID(w http.ResponseWriter, req *http.Request) {
	var pb model.Passback
	var parameters model.AlterParameter

	pb = GetResvIDFromVars("resvID", req)
	if pb.IsError {
		DrainAndCloseRequestBody(req)
		WriteHeaders(w, pb)
		return
	}
	resvID := pb.Obj.(string)

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)

		DrainAndCloseRequestBody(req)

		logger.Log.WithFields(logrus.Fields{"body": string(body)}).Trace("Printing request body")

		if err != nil {
			pb := model.BuildErrorPassback(http.StatusInternalServerError, err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error detected retrieving body")
			WriteHeaders(w, pb)
			return
		}

		err = json.Unmarshal(body, &parameters)
		if err != nil {
			pb = model.BuildErrorPassback(http.StatusBadRequest, err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Unparseable json")
			WriteHeaders(w, pb)
			return
		}
	} else {
		err := errors.New("empty body not allowed")
		pb = model.BuildErrorPassback(http.StatusBadRequest, err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("empty body")
		WriteHeaders(w, pb)
		return
	}

	pb = domain.AlterReservation(resvID, parameters, req.Header.Get("X-Auth-User"))
	WriteHeaders(w, pb)
	return
}

// DeleteReservationID - purge a reservation by ID
func DeleteReservationID(w http.ResponseWriter, req *http.Request) {
	pb := GetResvIDFromVars("resvID", req)

	DrainAndCloseRequestBody(req)

	if pb.IsError {
		WriteHeaders(w, pb)
		return
	}
	resvID := pb.Obj.(string)
	pb = domain.DeleteReservation(resvID, req.Header.Get("X-Auth-User"))
	WriteHeaders(w, pb)
	return
}

// ConfirmReservationID - scheduler confirm/deny message for a reservation.
// The scheduler channel marker and an authenticated manager are both
// preconditions, never silently defaulted.
func ConfirmReservationID(w http.ResponseWriter, req *http.Request) {
	var pb model.Passback
	var request model.ConfirmRequest

	pb = GetResvIDFromVars("resvID", req)
	if pb.IsError {
		DrainAndCloseRequestBody(req)
		WriteHeaders(w, pb)
		return
	}
	resvID := pb.Obj.(string)

	token := req.Header.Get("X-Scheduler-Token")
	if token == "" || token != domain.GLOB.SchedulerToken {
		err := errors.Wrap(model.ErrProtocolViolation,
			"request did not arrive on a recognized scheduler channel")
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error confirming reservation")
		DrainAndCloseRequestBody(req)
		WriteHeaders(w, pb)
		return
	}
	requestor := req.Header.Get("X-Auth-User")
	if requestor == "" {
		err := errors.Wrap(model.ErrPermissionDenied,
			"confirmation requires an authenticated manager")
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error confirming reservation")
		DrainAndCloseRequestBody(req)
		WriteHeaders(w, pb)
		return
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)

		DrainAndCloseRequestBody(req)

		logger.Log.WithFields(logrus.Fields{"body": string(body)}).Trace("Printing request body")

		if err != nil {
			pb := model.BuildErrorPassback(http.StatusInternalServerError, err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Error detected retrieving body")
			WriteHeaders(w, pb)
			return
		}

		err = json.Unmarshal(body, &request)
		if err != nil {
			pb = model.BuildErrorPassback(http.StatusBadRequest, err)
			logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("Unparseable json")
			WriteHeaders(w, pb)
			return
		}
	} else {
		err := errors.New("empty body not allowed")
		pb = model.BuildErrorPassback(http.StatusBadRequest, err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode}).Error("empty body")
		WriteHeaders(w, pb)
		return
	}

	outcome, partition, err := model.ParseExtendMarker(request.Extend)
	if err != nil {
		pb = model.BuildTaxonomyPassback(err)
		logger.Log.WithFields(logrus.Fields{"ERROR": err, "HttpStatusCode": pb.StatusCode, "resvID": resvID}).Error("Error parsing confirmation marker")
		WriteHeaders(w, pb)
		return
	}

	parameters := model.ConfirmParameter{
		ReservationID: resvID,
		Outcome:       outcome,
		Partition:     partition,
		ExecVnodes:    request.ExecVnodes,
		StartTime:     request.StartTime,
		Requestor:     requestor,
	}
	pb = domain.ConfirmReservation(parameters)
	WriteHeaders(w, pb)
	return
}

// GetQueueName - fetch one queue record
func GetQueueName(w http.ResponseWriter, req *http.Request) {
	params := mux.Vars(req)

	DrainAndCloseRequestBody(req)

	pb := domain.GetQueue(params["name"])
	WriteHeaders(w, pb)
	return
}

// GetTasks - list the pending timed tasks
func GetTasks(w http.ResponseWriter, req *http.Request) {
	DrainAndCloseRequestBody(req)

	pb := domain.GetTimedTasks()
	WriteHeaders(w, pb)
	return
}

// settledReply builds the terminal reply line from the stored record when
// the confirmation cycle already finished before the waiter registered.
func settledReply(resvID string) (string, bool) {
	pb := domain.GetReservation(resvID)
	if pb.IsError {
		if pb.StatusCode == http.StatusNotFound {
			return fmt.Sprintf("%s %s", resvID, model.ReplyDenied), true
		}
		return "", false
	}
	resp, ok := pb.Obj.(model.ReservationResp)
	if !ok {
		return "", false
	}
	switch resp.State {
	case model.State_Confirmed.String(), model.State_Running.String():
		return fmt.Sprintf("%s %s", resvID, model.ReplyConfirmed), true
	}
	return "", false
}

func writeInteractiveReply(w http.ResponseWriter, line string) {
	w.Header().Add("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(line + "\n")); err != nil {
		logger.Log.Error(err)
	}
}
