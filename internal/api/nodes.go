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
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/openbatch/reservation-control/internal/domain"
	"github.com/openbatch/reservation-control/internal/logger"
	"github.com/openbatch/reservation-control/internal/model"
)

// GetNodes - returns the node inventory, or one node by name
func GetNodes(w http.ResponseWriter, req *http.Request) {
	var pb model.Passback
	params := mux.Vars(req)

	defer DrainAndCloseRequestBody(req)

	//If name is not in the params, then do ALL
	if name, ok := params["name"]; ok {
		pb = domain.GetNode(name)
	} else {
		pb = domain.GetNodes()
	}
	WriteHeaders(w, pb)
	return
}

// PutNode - create or replace a node inventory record
func PutNode(w http.ResponseWriter, req *http.Request) {
	var pb model.Passback
	var parameters model.NodeUpsertParameter
	params := mux.Vars(req)
	name := params["name"]

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

	pb = domain.UpsertNode(name, parameters)
	WriteHeaders(w, pb)
	return
}

// DeleteNodeName - remove a node from the inventory, degrading any
// reservation still holding it
func DeleteNodeName(w http.ResponseWriter, req *http.Request) {
	params := mux.Vars(req)

	DrainAndCloseRequestBody(req)

	pb := domain.DeleteNode(params["name"])
	WriteHeaders(w, pb)
	return
}
