package client

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// Full method names of the notes gRPC service. Requests and responses are
// google.protobuf.Struct values.
const (
	ServiceName         = "notesync.v1.NoteService"
	MethodPing          = "/" + ServiceName + "/Ping"
	MethodListNotes     = "/" + ServiceName + "/ListNotes"
	MethodGetNote       = "/" + ServiceName + "/GetNote"
	MethodCreateNote    = "/" + ServiceName + "/CreateNote"
	MethodUpdateNote    = "/" + ServiceName + "/UpdateNote"
	MethodDeleteNote    = "/" + ServiceName + "/DeleteNote"
	MethodSetVisibility = "/" + ServiceName + "/SetVisibility"
)

type GRPCClient struct {
	target   string
	clientID string
	opts     Options
	conn     *grpc.ClientConn
	breaker  *breaker
}

// NewGRPCClient connects lazily to target. Extra dial options are appended
// after the defaults (insecure transport, client id interceptor).
func NewGRPCClient(target string, opts Options, dialOpts ...grpc.DialOption) (*GRPCClient, error) {
	opts = opts.withDefaults()
	c := &GRPCClient{
		target:   target,
		clientID: opts.ClientID,
		opts:     opts,
		breaker:  newBreaker("notes-grpc", opts),
	}

	all := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.clientIDInterceptor),
	}, dialOpts...)

	conn, err := grpc.NewClient(target, all...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func withClientID(ctx context.Context, id string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.ClientIDHeaderName, id)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) clientIDInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if c.clientID != "" {
		ctx = withClientID(ctx, c.clientID)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// BreakerState reports the circuit breaker state.
func (c *GRPCClient) BreakerState() string { return c.breaker.State() }

func (c *GRPCClient) Ping(ctx context.Context) error {
	_, err := call(c.breaker, func() (struct{}, error) {
		var resp struct {
			Status string `json:"status"`
		}
		if err := c.invoke(ctx, MethodPing, struct{}{}, &resp); err != nil {
			return struct{}{}, err
		}
		if resp.Status != "OK" {
			return struct{}{}, fmt.Errorf("%w: ping status %q", ErrUnavailable, resp.Status)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *GRPCClient) ListNotes(ctx context.Context) (*models.NoteList, error) {
	return call(c.breaker, func() (*models.NoteList, error) {
		var resp listResponse
		if err := c.invoke(ctx, MethodListNotes, struct{}{}, &resp); err != nil {
			return nil, err
		}
		return resp.toModel(), nil
	})
}

type getRequest struct {
	ID          string `json:"id,omitempty"`
	Slug        string `json:"slug,omitempty"`
	IfNoneMatch string `json:"if_none_match,omitempty"`
}

func (c *GRPCClient) GetByID(ctx context.Context, id, versionToken string) (*FetchResult, error) {
	return c.get(ctx, getRequest{ID: id, IfNoneMatch: versionToken})
}

func (c *GRPCClient) GetBySlug(ctx context.Context, slug, versionToken string) (*FetchResult, error) {
	return c.get(ctx, getRequest{Slug: slug, IfNoneMatch: versionToken})
}

func (c *GRPCClient) get(ctx context.Context, req getRequest) (*FetchResult, error) {
	return call(c.breaker, func() (*FetchResult, error) {
		var resp noteResponse
		if err := c.invoke(ctx, MethodGetNote, req, &resp); err != nil {
			return nil, err
		}
		if resp.NotModified {
			token := resp.ETag
			if token == "" {
				token = req.IfNoneMatch
			}
			return &FetchResult{NotModified: true, VersionToken: token}, nil
		}
		note := resp.Note.toModel()
		if note == nil {
			return nil, fmt.Errorf("%w: response without note", ErrServer)
		}
		return &FetchResult{Note: note, VersionToken: tokenFor("", resp.ETag, note)}, nil
	})
}

type writeRequest struct {
	ID      string   `json:"id,omitempty"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Slug    string   `json:"slug,omitempty"`
	Version int64    `json:"version,omitempty"`
}

func (c *GRPCClient) Create(ctx context.Context, fields models.Fields) (*models.Note, error) {
	return call(c.breaker, func() (*models.Note, error) {
		req := writeRequest{Title: fields.Title, Content: fields.Content, Tags: fields.Tags, Slug: fields.Slug}
		return c.writeNote(ctx, MethodCreateNote, req)
	})
}

func (c *GRPCClient) Update(ctx context.Context, id string, fields models.Fields, expectedVersion int64) (*models.Note, error) {
	return call(c.breaker, func() (*models.Note, error) {
		req := writeRequest{
			ID:      id,
			Title:   fields.Title,
			Content: fields.Content,
			Tags:    fields.Tags,
			Slug:    fields.Slug,
			Version: expectedVersion,
		}
		return c.writeNote(ctx, MethodUpdateNote, req)
	})
}

func (c *GRPCClient) writeNote(ctx context.Context, method string, req writeRequest) (*models.Note, error) {
	var resp noteResponse
	if err := c.invoke(ctx, method, req, &resp); err != nil {
		return nil, err
	}
	if resp.Note == nil {
		return nil, fmt.Errorf("%w: response without note", ErrServer)
	}
	return resp.Note.toModel(), nil
}

func (c *GRPCClient) Delete(ctx context.Context, id string) error {
	_, err := call(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.invoke(ctx, MethodDeleteNote, map[string]string{"id": id}, nil)
	})
	return err
}

func (c *GRPCClient) SetVisibility(ctx context.Context, id string, public bool) (bool, error) {
	return call(c.breaker, func() (bool, error) {
		var resp visibilityResponse
		req := map[string]any{"id": id, "public": public}
		if err := c.invoke(ctx, MethodSetVisibility, req, &resp); err != nil {
			return false, err
		}
		return resp.IsPublic, nil
	})
}

func (c *GRPCClient) invoke(ctx context.Context, method string, in, out any) error {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	req, err := ToStruct(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return mapError(err)
	}
	if out == nil {
		return nil
	}
	if err := FromStruct(resp, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrServer, method, err)
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrValidation, st.Message())
	case codes.Aborted, codes.FailedPrecondition:
		return conflictFromStatus(st)
	default:
		return fmt.Errorf("%w: rpc error: %w", ErrServer, err)
	}
}

// conflictFromStatus reads the server's current note from the status
// details, when one was attached.
func conflictFromStatus(st *status.Status) error {
	ce := &ConflictError{}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		var resp noteResponse
		if err := FromStruct(s, &resp); err == nil && resp.Note != nil {
			ce.Current = resp.Note.toModel()
		}
	}
	return ce
}

// ToStruct converts a JSON-serializable value into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FromStruct decodes a protobuf Struct into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
