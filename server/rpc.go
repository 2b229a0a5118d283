package server

import (
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
	"github.com/lexcodex/deepresearch/research"
)

// RPCServer exposes research runs over JSON-RPC 2.0. Telemetry events are
// broadcast to every connected client as "research/progress" notifications
// so a client can render live progress while a run executes.
type RPCServer struct {
	Runner    *research.Runner
	Runs      RunIndex
	Telemetry *framework.ChannelTelemetry
	Logger    *zap.Logger

	mu    sync.Mutex
	conns map[*jsonrpc2.Conn]bool
}

// RunParams is the payload of research/run and research/resume.
type RunParams struct {
	Prompt string `json:"prompt,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

// ProgressNotification mirrors one telemetry event onto the wire.
type ProgressNotification struct {
	Type    string `json:"type"`
	NodeID  string `json:"node_id,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Serve accepts connections on the listener until the context is cancelled.
func (s *RPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	if s.conns == nil {
		s.conns = make(map[*jsonrpc2.Conn]bool)
	}
	s.mu.Unlock()

	if s.Telemetry != nil {
		go s.broadcast(ctx)
	}
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.attach(ctx, conn)
	}
}

// ServeConn speaks JSON-RPC on a single pre-established transport, e.g.
// stdio. It blocks until the peer disconnects.
func (s *RPCServer) ServeConn(ctx context.Context, rwc jsonrpc2.ObjectStream) {
	conn := jsonrpc2.NewConn(ctx, rwc, jsonrpc2.HandlerWithError(s.handle))
	s.track(conn)
	<-conn.DisconnectNotify()
	s.untrack(conn)
}

func (s *RPCServer) attach(ctx context.Context, netConn net.Conn) {
	stream := jsonrpc2.NewBufferedStream(netConn, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(s.handle))
	s.track(conn)
	go func() {
		<-conn.DisconnectNotify()
		s.untrack(conn)
	}()
}

func (s *RPCServer) track(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[*jsonrpc2.Conn]bool)
	}
	s.conns[conn] = true
}

func (s *RPCServer) untrack(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// broadcast fans telemetry events out to every connected client.
func (s *RPCServer) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.Telemetry.Events():
			if !ok {
				return
			}
			note := ProgressNotification{
				Type:    string(event.Type),
				NodeID:  event.NodeID,
				TaskID:  event.TaskID,
				Message: event.Message,
			}
			s.mu.Lock()
			for conn := range s.conns {
				if err := conn.Notify(ctx, "research/progress", note); err != nil && s.Logger != nil {
					s.Logger.Debug("progress notify failed", zap.Error(err))
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *RPCServer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "research/run":
		var params RunParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		if params.Prompt == "" {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "prompt is required"}
		}
		state, err := s.Runner.Run(ctx, params.Prompt)
		return summarize(state, err), nil

	case "research/resume":
		var params RunParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		if params.RunID == "" {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "run_id is required"}
		}
		state, err := s.Runner.Resume(ctx, params.RunID)
		if state == nil && err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: err.Error()}
		}
		return summarize(state, err), nil

	case "research/list":
		if s.Runs == nil {
			return []RunSummary{}, nil
		}
		snapshots, err := s.Runs.List()
		if err != nil {
			return nil, err
		}
		summaries := make([]RunSummary, 0, len(snapshots))
		for _, snap := range snapshots {
			summaries = append(summaries, RunSummary{
				RunID:     snap.RunID,
				Topic:     snap.State.Topic(),
				Phase:     string(snap.Phase),
				Completed: snap.Completed,
				UpdatedAt: snap.UpdatedAt,
			})
		}
		return summaries, nil

	case "research/status":
		var params RunParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		if s.Runs == nil || params.RunID == "" {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "run_id is required"}
		}
		snap, err := s.Runs.Load(params.RunID)
		if err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: err.Error()}
		}
		return RunSummary{
			RunID:     snap.RunID,
			Topic:     snap.State.Topic(),
			Phase:     string(snap.Phase),
			Completed: snap.Completed,
			UpdatedAt: snap.UpdatedAt,
		}, nil

	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled"}
	}
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeParseError, Message: err.Error()}
	}
	return nil
}
