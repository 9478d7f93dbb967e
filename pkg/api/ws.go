package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/report-compose/composer/pkg/promptset"
	"github.com/report-compose/composer/pkg/registry"
	"github.com/report-compose/composer/pkg/results"
)

const wsWriteTimeout = 10 * time.Second

// StreamManager serves per-run progress streams over WebSocket: one init
// frame describing the prompt DAG, then one update frame per node
// transition.
type StreamManager struct {
	registry *registry.Registry
	origins  []string
	logger   *slog.Logger
}

// NewStreamManager creates a stream manager over the run registry.
func NewStreamManager(reg *registry.Registry, origins []string, logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		registry: reg,
		origins:  origins,
		logger:   logger.With("component", "ws"),
	}
}

// DAGNode is one node of the init frame's graph.
type DAGNode struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// DAGLink is one edge of the init frame's graph.
type DAGLink struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

type dagPayload struct {
	Nodes []DAGNode `json:"nodes"`
	Links []DAGLink `json:"links"`
}

type initFrame struct {
	Type string     `json:"type"`
	DAG  dagPayload `json:"dag"`
}

type updateFrame struct {
	Type   string         `json:"type"`
	NodeID int            `json:"node_id"`
	Status results.Status `json:"status"`
	Result any            `json:"result"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Handler handles GET /ws/runs/:id.
func (m *StreamManager) Handler(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if len(m.origins) > 0 {
		opts.OriginPatterns = m.origins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		m.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	runID := c.Param("id")
	log := m.logger.With("connection_id", connID, "run_id", runID)

	h, ok := m.registry.Get(runID)
	if !ok {
		_ = m.write(c.Request.Context(), conn, errorFrame{Type: "error", Error: "run not found"})
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown run")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// CloseRead owns the read side and cancels the context when the
	// client disconnects.
	ctx := conn.CloseRead(c.Request.Context())
	log.Info("Run stream opened")

	// Subscribe before replaying the snapshot so no transition is missed.
	// A transition landing in between is delivered twice; update frames
	// assign state, so the duplicate is harmless.
	sub := h.Results().Subscribe()
	defer sub.Close()

	if err := m.write(ctx, conn, buildInitFrame(h.Document())); err != nil {
		return
	}
	snapshot := h.Results().Snapshot()
	for _, id := range h.Document().Graph.NodeIDs() {
		state := snapshot[id]
		if state.Status == results.StatusPending {
			continue
		}
		if err := m.write(ctx, conn, buildUpdateFrame(id, state)); err != nil {
			return
		}
	}

	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := m.write(ctx, conn, buildUpdateFrame(u.NodeID, u.State)); err != nil {
				log.Info("Run stream closed mid-write", "error", err)
				return
			}
		case <-ctx.Done():
			log.Info("Run stream closed")
			return
		}
	}
}

func buildInitFrame(doc *promptset.Document) initFrame {
	graph := doc.Graph
	nodes := make([]DAGNode, 0, graph.Len())
	for _, id := range graph.NodeIDs() {
		p, _ := graph.Prompt(id)
		nodes = append(nodes, DAGNode{ID: id, Label: p.SectionTitle})
	}
	links := make([]DAGLink, 0)
	for _, e := range graph.Edges() {
		links = append(links, DAGLink{Source: e[0], Target: e[1]})
	}
	return initFrame{Type: "init", DAG: dagPayload{Nodes: nodes, Links: links}}
}

// buildUpdateFrame mirrors the snapshot result variants: an object for
// complete nodes, the failure detail string for failed ones, null
// otherwise.
func buildUpdateFrame(nodeID int, state results.NodeState) updateFrame {
	frame := updateFrame{Type: "update", NodeID: nodeID, Status: state.Status}
	switch state.Status {
	case results.StatusComplete:
		frame.Result = state.Result
	case results.StatusFailed:
		frame.Result = state.Detail
	}
	return frame
}

func (m *StreamManager) write(ctx context.Context, conn *websocket.Conn, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
