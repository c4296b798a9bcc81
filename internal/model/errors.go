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

package model

import (
	"net/http"

	"github.com/pkg/errors"
)

// Sentinel errors for everything the reservation core can reject with.
// Call sites wrap these with pkg/errors for context; the API layer maps
// them back to HTTP status codes with StatusForError.
var (
	ErrPermissionDenied      = errors.New("permission denied")
	ErrUnknownReservation    = errors.New("unknown reservation")
	ErrProtocolViolation     = errors.New("protocol violation")
	ErrAllocationFailure     = errors.New("allocation failure")
	ErrTimeSpecInvalid       = errors.New("reservation time window no longer viable")
	ErrPlacementFailure      = errors.New("node placement could not satisfy spec")
	ErrStorageFailure        = errors.New("storage failure")
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// StatusForError maps a taxonomy error (possibly wrapped) to the HTTP
// status code the API layer should return.  Unrecognized errors are
// treated as internal.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownReservation):
		return http.StatusNotFound
	case errors.Is(err, ErrProtocolViolation):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeSpecInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrAllocationFailure):
		return http.StatusInsufficientStorage
	case errors.Is(err, ErrPlacementFailure):
		return http.StatusConflict
	case errors.Is(err, ErrStorageFailure):
		return http.StatusInternalServerError
	case errors.Is(err, ErrInternalInconsistency):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// BuildTaxonomyPassback is BuildErrorPassback with the status code derived
// from the error's taxonomy class.
func BuildTaxonomyPassback(err error) Passback {
	return BuildErrorPassback(StatusForError(err), err)
}
