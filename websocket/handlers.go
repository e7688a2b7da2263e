// Package websocket streams provisioning result logs to the browser as the
// workflow runs
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gitlaber/gitlab"
	"gitlaber/provisioning"
	"gitlaber/types"
)

const (
	writeWait    = 10 * time.Second
	readWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EntryFrame is pushed for every logged step
type EntryFrame struct {
	Workflow string            `json:"workflow"`
	Entry    types.ResultEntry `json:"entry"`
}

// DoneFrame ends a stream. Error and Step are set when the workflow aborted.
type DoneFrame struct {
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
	Step  string `json:"step,omitempty"`
}

type resultConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *resultConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *resultConn) ping(stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// HandleResultWebSocket serves GET /ws/result. The client sends one
// provisioning request; every log entry is pushed as an EntryFrame and the
// stream ends with a DoneFrame.
func HandleResultWebSocket(service *provisioning.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := gitlab.TokenFromContext(c.Request.Context())

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			gitlab.LogWarning("WebSocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		rc := &resultConn{conn: conn}

		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		var req types.ProvisioningRequest
		if err := conn.ReadJSON(&req); err != nil {
			gitlab.LogWarning("Failed to read provisioning request: %v", err)
			_ = rc.writeJSON(DoneFrame{Error: "invalid provisioning request"})
			return
		}
		if err := provisioning.ValidateRequest(req); err != nil {
			_ = rc.writeJSON(DoneFrame{Error: err.Error()})
			return
		}

		stop := make(chan struct{})
		defer close(stop)
		go rc.ping(stop)

		// the workflow outlives the hijacked request
		ctx := gitlab.WithToken(context.WithoutCancel(c.Request.Context()), token)
		_, err = service.Provision(ctx, req, func(workflow string, e types.ResultEntry) {
			if werr := rc.writeJSON(EntryFrame{Workflow: workflow, Entry: e}); werr != nil {
				gitlab.LogWarning("Failed to push result entry: %v", werr)
			}
		})
		if err != nil {
			frame := DoneFrame{Error: gitlab.SanitizeErrorMessage(err)}
			var stepErr *provisioning.StepError
			if errors.As(err, &stepErr) {
				frame.Error = gitlab.SanitizeErrorMessage(stepErr.Err)
				frame.Step = stepErr.Step
			}
			_ = rc.writeJSON(frame)
			return
		}
		_ = rc.writeJSON(DoneFrame{Done: true})
		_ = rc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	}
}
