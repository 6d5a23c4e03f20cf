// Copyright 2025 The repmgr Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package v0

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

type GetMonitorStatusResponse struct {
	NodeID        int    `json:"node_id"`
	NodeName      string `json:"node_name"`
	Role          string `json:"role"`
	FailoverState string `json:"failover_state"`
}

// GetMonitorStatus is an http handler that returns the current state of the
// daemon. It assumes the `UseMonitorStatus` middleware ran before it.
func GetMonitorStatus(c echo.Context) error {
	status, err := ExtractMonitorStatus(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, &ErrorResponse{Message: err.Error()})
	}

	return c.JSON(http.StatusOK, GetMonitorStatusResponse{
		NodeID:        status.NodeID,
		NodeName:      status.NodeName,
		Role:          string(status.Role),
		FailoverState: string(status.FailoverState),
	})
}

// HealthCheckEndpoint responds to liveness probes.
func HealthCheckEndpoint(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
