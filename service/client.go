package service

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a state service. Values travel as google.protobuf.Value,
// so numbers come back as float64 and arrays as []any.
type Client struct {
	get      *connect.Client[structpb.Struct, structpb.Value]
	set      *connect.Client[structpb.Struct, structpb.Value]
	append   *connect.Client[structpb.Struct, emptypb.Empty]
	batch    *connect.Client[structpb.Struct, structpb.Struct]
	snapshot *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a Client for the service rooted at baseURL, for
// example "http://127.0.0.1:8085".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		get:      connect.NewClient[structpb.Struct, structpb.Value](httpClient, baseURL+GetProcedure, opts...),
		set:      connect.NewClient[structpb.Struct, structpb.Value](httpClient, baseURL+SetProcedure, opts...),
		append:   connect.NewClient[structpb.Struct, emptypb.Empty](httpClient, baseURL+AppendProcedure, opts...),
		batch:    connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+BatchProcedure, opts...),
		snapshot: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+SnapshotProcedure, opts...),
	}
}

// Get returns the value at ns.
func (c *Client) Get(ctx context.Context, ns string) (any, error) {
	req, err := structpb.NewStruct(map[string]any{FieldNamespace: ns})
	if err != nil {
		return nil, err
	}

	res, err := c.get.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg.AsInterface(), nil
}

// Set writes value at ns and returns the value stored afterward.
func (c *Client) Set(ctx context.Context, ns string, value any) (any, error) {
	req, err := writeRequest(ns, value)
	if err != nil {
		return nil, err
	}

	res, err := c.set.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg.AsInterface(), nil
}

// Append writes value at ns.
func (c *Client) Append(ctx context.Context, ns string, value any) error {
	req, err := writeRequest(ns, value)
	if err != nil {
		return err
	}

	_, err = c.append.CallUnary(ctx, connect.NewRequest(req))
	return err
}

// Batch applies writes as one locked batch and returns the resulting data.
func (c *Client) Batch(ctx context.Context, writes ...Write) (map[string]any, error) {
	items := make([]any, len(writes))
	for i, w := range writes {
		items[i] = map[string]any{FieldNamespace: w.Namespace, FieldValue: w.Value}
	}

	req, err := structpb.NewStruct(map[string]any{FieldWrites: items})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	res, err := c.batch.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg.AsMap(), nil
}

// Snapshot returns the whole data object.
func (c *Client) Snapshot(ctx context.Context) (map[string]any, error) {
	res, err := c.snapshot.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return res.Msg.AsMap(), nil
}

func writeRequest(ns string, value any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{
		FieldNamespace: ns,
		FieldValue:     value,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ns, err)
	}
	return req, nil
}
