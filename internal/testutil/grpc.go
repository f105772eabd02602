package testutil

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// noteServer is the handler type registered under client.ServiceName.
type noteServer interface {
	handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

var noteServiceDesc = grpc.ServiceDesc{
	ServiceName: client.ServiceName,
	HandlerType: (*noteServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: unary(client.MethodPing)},
		{MethodName: "ListNotes", Handler: unary(client.MethodListNotes)},
		{MethodName: "GetNote", Handler: unary(client.MethodGetNote)},
		{MethodName: "CreateNote", Handler: unary(client.MethodCreateNote)},
		{MethodName: "UpdateNote", Handler: unary(client.MethodUpdateNote)},
		{MethodName: "DeleteNote", Handler: unary(client.MethodDeleteNote)},
		{MethodName: "SetVisibility", Handler: unary(client.MethodSetVisibility)},
	},
	Metadata: "notesync/v1/notes.proto",
}

func unary(fullMethod string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(noteServer).handle(ctx, fullMethod, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
	}
}

type ctxKey string

const clientIDKey ctxKey = "clientID"

// GRPCServer exposes a Backend over gRPC.
type GRPCServer struct {
	b      *Backend
	logger logging.Logger
	srv    *grpc.Server
}

func NewGRPCServer(b *Backend, l logging.Logger) *GRPCServer {
	s := &GRPCServer{b: b, logger: l.With("module", "grpc_server")}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.clientIDInterceptor))
	s.srv.RegisterService(&noteServiceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

func (s *GRPCServer) Stop() {
	s.srv.GracefulStop()
}

// StartBufconn serves on an in-memory listener and returns a dial option
// that reaches it. Use "passthrough:///bufnet" as the target.
func (s *GRPCServer) StartBufconn() grpc.DialOption {
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func (s *GRPCServer) clientIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.ClientIDHeaderName); len(values) > 0 {
			ctx = context.WithValue(ctx, clientIDKey, values[0])
		}
	}
	return handler(ctx, req)
}

func clientIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

type grpcRequest struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	IfNoneMatch string   `json:"if_none_match"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	Version     int64    `json:"version"`
	Public      bool     `json:"public"`
}

func (s *GRPCServer) handle(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if s.b.Offline() {
		return nil, status.Error(codes.Unavailable, "server is offline")
	}

	var req grpcRequest
	if err := client.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	fields := models.Fields{Title: req.Title, Content: req.Content, Tags: req.Tags, Slug: req.Slug}
	clientID := clientIDFrom(ctx)

	var (
		out any
		err error
	)
	switch method {
	case client.MethodPing:
		out = map[string]string{"status": "OK"}

	case client.MethodListNotes:
		var list *models.NoteList
		if list, err = s.b.List(); err == nil {
			out = map[string]any{"notes": list.Notes, "tags": list.Tags}
		}

	case client.MethodGetNote:
		var note *models.Note
		if note, err = s.b.Get(req.ID, req.Slug); err == nil {
			etag := client.VersionToken(note.Version)
			if req.IfNoneMatch == etag {
				out = map[string]any{"not_modified": true, "etag": etag}
			} else {
				out = map[string]any{"note": note, "etag": etag}
			}
		}

	case client.MethodCreateNote:
		var note *models.Note
		if note, err = s.b.Create(fields, clientID); err == nil {
			out = map[string]any{"note": note}
		}

	case client.MethodUpdateNote:
		var note *models.Note
		note, err = s.b.Update(req.ID, fields, req.Version, clientID)
		if errors.Is(err, ErrConflict) {
			return nil, conflictStatus(note)
		}
		if err == nil {
			out = map[string]any{"note": note}
		}

	case client.MethodDeleteNote:
		if err = s.b.Delete(req.ID, clientID); err == nil {
			out = map[string]any{"ok": true}
		}

	case client.MethodSetVisibility:
		var public bool
		if public, err = s.b.SetVisibility(req.ID, req.Public, clientID); err == nil {
			out = map[string]any{"ok": true, "is_public": public}
		}

	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}

	if err != nil {
		s.logger.Debug(ctx, "request failed", "method", method, "error", err)
		return nil, toStatus(err)
	}
	resp, err := client.ToStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func conflictStatus(current *models.Note) error {
	st := status.New(codes.Aborted, ErrConflict.Error())
	detail, err := client.ToStruct(map[string]any{"note": current})
	if err != nil {
		return st.Err()
	}
	withDetail, err := st.WithDetails(detail)
	if err != nil {
		return st.Err()
	}
	return withDetail.Err()
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrOffline):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
