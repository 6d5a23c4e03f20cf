package v0

import (
	"fmt"

	"github.com/dbonne/repmgr/pkg/monitor"
	"github.com/labstack/echo/v4"
)

const (
	monitorCtxKey = "monitorStatus"
)

// MonitorStatus is the daemon-state snapshot injected into each request.
type MonitorStatus struct {
	NodeID        int
	NodeName      string
	Role          monitor.Role
	FailoverState monitor.FailoverState
}

// UseMonitorStatus is an echo middleware that injects the current state of
// the monitor into the request context.
func UseMonitorStatus(m *monitor.Monitor) func(echo.HandlerFunc) echo.HandlerFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			info := m.LocalNodeInfo()
			c.Set(monitorCtxKey, MonitorStatus{
				NodeID:        info.NodeID,
				NodeName:      info.NodeName,
				Role:          m.GetRole(),
				FailoverState: m.GetFailoverState(),
			})
			return next(c)
		}
	}
}

// ExtractMonitorStatus is an utility for retrieving the monitor status from
// the request context.
func ExtractMonitorStatus(c echo.Context) (MonitorStatus, error) {
	v := c.Get(monitorCtxKey)
	if v == nil {
		return MonitorStatus{}, fmt.Errorf("failed to get monitor status from context")
	}

	return v.(MonitorStatus), nil
}
