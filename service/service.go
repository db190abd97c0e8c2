// Package service exposes a state.State over Connect RPC.
//
// Requests and responses use the well-known google.protobuf.Struct and
// google.protobuf.Value messages, so any Connect, gRPC, or gRPC-Web client
// can call the service with JSON-shaped payloads:
//
//	POST /observable.v1.StateService/Set
//	{"namespace": "range.start", "value": 13}
//
// The service serializes calls with a mutex. Listeners registered on the
// wrapped State run while that mutex is held and must not call back into
// the service.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/observable/observability"
	"github.com/tailored-agentic-units/observable/state"
	"github.com/tailored-agentic-units/observable/tree"
)

// ServiceName is the fully-qualified name of the state service.
const ServiceName = "observable.v1.StateService"

// Procedure paths, relative to the server root.
const (
	GetProcedure      = "/" + ServiceName + "/Get"
	SetProcedure      = "/" + ServiceName + "/Set"
	AppendProcedure   = "/" + ServiceName + "/Append"
	BatchProcedure    = "/" + ServiceName + "/Batch"
	SnapshotProcedure = "/" + ServiceName + "/Snapshot"
)

// Request field names.
const (
	FieldNamespace = "namespace"
	FieldValue     = "value"
	FieldWrites    = "writes"
)

const EventServiceCall observability.EventType = "service.call"

// Service handles state RPCs against a single State.
type Service struct {
	mu       sync.Mutex
	state    *state.State
	observer observability.Observer
}

// New creates a Service over st. A nil observer discards events.
func New(st *state.State, observer observability.Observer) *Service {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Service{state: st, observer: observer}
}

// NewHandler mounts every procedure of svc and returns the path prefix to
// register it under.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetProcedure, connect.NewUnaryHandler(GetProcedure, svc.Get, opts...))
	mux.Handle(SetProcedure, connect.NewUnaryHandler(SetProcedure, svc.Set, opts...))
	mux.Handle(AppendProcedure, connect.NewUnaryHandler(AppendProcedure, svc.Append, opts...))
	mux.Handle(BatchProcedure, connect.NewUnaryHandler(BatchProcedure, svc.Batch, opts...))
	mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, svc.Snapshot, opts...))
	return "/" + ServiceName + "/", mux
}

// Get returns the value at the requested namespace.
func (s *Service) Get(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Value], error) {
	ns, err := namespaceField(req.Msg)
	if err != nil {
		return nil, err
	}

	var res *connect.Response[structpb.Value]
	err = s.do(func() error {
		v, err := s.state.Get(ns)
		if err != nil {
			return toConnectError(err)
		}
		res, err = valueResponse(v)
		return err
	})
	s.record(ctx, "Get", ns, err)
	return res, err
}

// Set writes the request value and returns the value stored afterward.
func (s *Service) Set(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Value], error) {
	ns, err := namespaceField(req.Msg)
	if err != nil {
		return nil, err
	}

	var res *connect.Response[structpb.Value]
	err = s.do(func() error {
		v, err := s.state.Set(ns, req.Msg.GetFields()[FieldValue].AsInterface())
		if err != nil {
			return toConnectError(err)
		}
		res, err = valueResponse(v)
		return err
	})
	s.record(ctx, "Set", ns, err)
	return res, err
}

// Append writes the request value. Batches never span calls, so Append is
// never skipped by a lock.
func (s *Service) Append(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[emptypb.Empty], error) {
	ns, err := namespaceField(req.Msg)
	if err != nil {
		return nil, err
	}

	err = s.do(func() error {
		return toConnectError(s.state.Append(ns, req.Msg.GetFields()[FieldValue].AsInterface()))
	})
	s.record(ctx, "Append", ns, err)
	if err != nil {
		return nil, err
	}

	return connect.NewResponse(&emptypb.Empty{}), nil
}

// Batch applies every write between Lock and Unlock so listeners see one
// notify pass, and returns the resulting data. Writes before a failing
// write stay applied.
func (s *Service) Batch(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	writes, err := writesField(req.Msg)
	if err != nil {
		return nil, err
	}

	var res *connect.Response[structpb.Struct]
	err = s.do(func() error {
		batch := s.state.Lock()
		for _, w := range writes {
			batch.Set(w.Namespace, w.Value)
		}
		if err := batch.Unlock(); err != nil {
			return toConnectError(err)
		}
		res, err = snapshotResponse(s.state.Data())
		return err
	})
	s.record(ctx, "Batch", "", err)
	return res, err
}

// Snapshot returns the whole data object.
func (s *Service) Snapshot(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	var res *connect.Response[structpb.Struct]
	err := s.do(func() (err error) {
		res, err = snapshotResponse(s.state.Data())
		return err
	})
	s.record(ctx, "Snapshot", "", err)
	return res, err
}

// do runs fn with exclusive access to the State.
func (s *Service) do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Service) record(ctx context.Context, method, ns string, err error) {
	level := observability.LevelVerbose
	data := map[string]any{
		"method":    method,
		"namespace": ns,
		"state":     s.state.ID(),
	}
	if err != nil {
		level = observability.LevelWarning
		data["error"] = err.Error()
	}

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventServiceCall,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "service",
		Data:      data,
	})
}

// Write is one namespace assignment in a Batch call.
type Write struct {
	Namespace string
	Value     any
}

func namespaceField(msg *structpb.Struct) (string, error) {
	v, ok := msg.GetFields()[FieldNamespace]
	if !ok {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("field %q must be a string", FieldNamespace))
	}
	return sv.StringValue, nil
}

func writesField(msg *structpb.Struct) ([]Write, error) {
	list := msg.GetFields()[FieldWrites].GetListValue()
	if list == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("field %q must be a list", FieldWrites))
	}

	writes := make([]Write, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		obj := item.GetStructValue()
		if obj == nil {
			return nil, connect.NewError(connect.CodeInvalidArgument,
				fmt.Errorf("%s[%d] must be an object", FieldWrites, i))
		}
		ns, err := namespaceField(obj)
		if err != nil {
			return nil, err
		}
		writes = append(writes, Write{
			Namespace: ns,
			Value:     obj.GetFields()[FieldValue].AsInterface(),
		})
	}
	return writes, nil
}

func valueResponse(v any) (*connect.Response[structpb.Value], error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode value: %w", err))
	}
	return connect.NewResponse(pv), nil
}

func snapshotResponse(data map[string]any) (*connect.Response[structpb.Struct], error) {
	snapshot, err := structpb.NewStruct(data)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode snapshot: %w", err))
	}
	return connect.NewResponse(snapshot), nil
}

func toConnectError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tree.ErrMissingSegment),
		errors.Is(err, tree.ErrNotContainer),
		errors.Is(err, tree.ErrIndexRange),
		errors.Is(err, tree.ErrNotObject):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
