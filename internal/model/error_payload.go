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
)

// Problem7807 is an RFC 7807 problem details payload.  Every error the
// service returns over HTTP is rendered in this shape.
type Problem7807 struct {
	Type_    string `json:"type"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
	Status   int    `json:"status"`
	Title    string `json:"title"`
}

// GetFormattedErrorMessage builds a Problem7807 from an error and an HTTP
// status code.  A nil error still produces a well-formed payload.
func GetFormattedErrorMessage(err error, statusCode int) Problem7807 {
	detail := "unknown error - could not parse from error object"
	if err != nil {
		detail = err.Error()
	}
	problem := Problem7807{
		Type_:    "about:blank",
		Detail:   detail,
		Instance: "",
		Status:   statusCode,
		Title:    http.StatusText(statusCode),
	}
	return problem
}

func (p Problem7807) Equals(other Problem7807) bool {
	if p.Type_ != other.Type_ ||
		p.Detail != other.Detail ||
		p.Instance != other.Instance ||
		p.Status != other.Status ||
		p.Title != other.Title {
		return false
	}
	return true
}
