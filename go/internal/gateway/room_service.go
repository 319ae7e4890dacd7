package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
	"github.com/mcdev12/cuetimer/go/internal/rooms"
)

const (
	// RoomServiceName is the fully-qualified name of the room inspection service
	RoomServiceName = "cuetimer.v1.RoomService"

	GetRoomProcedure   = "/" + RoomServiceName + "/GetRoom"
	ListRoomsProcedure = "/" + RoomServiceName + "/ListRooms"
)

// RoomService exposes read-only room inspection over connect. Messages are
// google.protobuf.Struct so the service needs no generated code.
type RoomService struct {
	hub      *Hub
	registry *rooms.Registry
	members  *Membership
}

// NewRoomService creates the inspection service
func NewRoomService(hub *Hub, registry *rooms.Registry, members *Membership) *RoomService {
	return &RoomService{
		hub:      hub,
		registry: registry,
		members:  members,
	}
}

// GetRoom returns the current snapshot of one room
func (s *RoomService) GetRoom(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	roomID := req.Msg.GetFields()["roomId"].GetStringValue()
	if roomID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("roomId is required"))
	}

	snap, ok := s.hub.Snapshot(roomID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("room %s not found", rooms.NormalizeCode(roomID)))
	}

	out, err := snapshotStruct(snap, s.members.Count(snap.RoomID))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// ListRooms returns every live room ordered by code
func (s *RoomService) ListRooms(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	codes := s.registry.Codes()
	sort.Strings(codes)

	list := make([]any, 0, len(codes))
	for _, code := range codes {
		snap, ok := s.hub.Snapshot(code)
		if !ok {
			// Evicted since Codes was taken
			continue
		}
		room, err := snapshotMap(snap, s.members.Count(code))
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		list = append(list, room)
	}

	out, err := structpb.NewStruct(map[string]any{
		"rooms":       list,
		"connections": s.members.Stats().TotalConnections,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("build response: %w", err))
	}
	return connect.NewResponse(out), nil
}

// Handler returns the mount path and handler for the service
func (s *RoomService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetRoomProcedure, connect.NewUnaryHandler(GetRoomProcedure, s.GetRoom, opts...))
	mux.Handle(ListRoomsProcedure, connect.NewUnaryHandler(ListRoomsProcedure, s.ListRooms, opts...))
	return "/" + RoomServiceName + "/", mux
}

func snapshotMap(snap countdown.Snapshot, members int) (map[string]any, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	m["members"] = members
	return m, nil
}

func snapshotStruct(snap countdown.Snapshot, members int) (*structpb.Struct, error) {
	m, err := snapshotMap(snap, members)
	if err != nil {
		return nil, err
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return out, nil
}
