// Package inspect exposes a read-only Connect RPC view of live rooms.
//
// The service has no generated descriptors: requests are
// google.protobuf.Empty and responses are google.protobuf.Struct, so any
// Connect, gRPC or gRPC-Web client can call it with the well-known types.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/studysync/go/internal/room"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully-qualified name of the inspector service.
	ServiceName = "studyroom.inspect.v1.RoomInspectorService"

	ListLiveRoomsProcedure      = "/" + ServiceName + "/ListLiveRooms"
	GetConnectionStatsProcedure = "/" + ServiceName + "/GetConnectionStats"
)

// RoomSource lists live rooms.
type RoomSource interface {
	Snapshot(ctx context.Context) ([]room.RoomSnapshot, error)
}

// StatsSource reports connection statistics.
type StatsSource interface {
	GetStats() map[string]interface{}
}

type Service struct {
	rooms RoomSource
	stats StatsSource
}

func NewService(rooms RoomSource, stats StatsSource) *Service {
	return &Service{rooms: rooms, stats: stats}
}

func (s *Service) ListLiveRooms(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	rooms, err := s.rooms.Snapshot(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	out, err := toStruct(map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func (s *Service) GetConnectionStats(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	out, err := toStruct(s.stats.GetStats())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// NewHandler returns the path prefix and handler that serve s.
func NewHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	listLiveRooms := connect.NewUnaryHandler(
		ListLiveRoomsProcedure,
		s.ListLiveRooms,
		opts...,
	)
	getConnectionStats := connect.NewUnaryHandler(
		GetConnectionStatsProcedure,
		s.GetConnectionStats,
		opts...,
	)
	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ListLiveRoomsProcedure:
			listLiveRooms.ServeHTTP(w, r)
		case GetConnectionStatsProcedure:
			getConnectionStats.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Client calls the inspector service.
type Client struct {
	listLiveRooms      *connect.Client[emptypb.Empty, structpb.Struct]
	getConnectionStats *connect.Client[emptypb.Empty, structpb.Struct]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	return &Client{
		listLiveRooms:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ListLiveRoomsProcedure, opts...),
		getConnectionStats: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetConnectionStatsProcedure, opts...),
	}
}

func (c *Client) ListLiveRooms(ctx context.Context) (*structpb.Struct, error) {
	res, err := c.listLiveRooms.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) GetConnectionStats(ctx context.Context) (*structpb.Struct, error) {
	res, err := c.getConnectionStats.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// toStruct goes through JSON so that the wire shape matches the
// websocket payloads.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert to struct: %w", err)
	}
	return out, nil
}
