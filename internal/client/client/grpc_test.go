package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

/*************
 * Fake records server
 *************/

type recordsHandler interface {
	handle(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

func unary(name string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(recordsHandler).handle(ctx, name, in)
		},
	}
}

var recordsDesc = grpc.ServiceDesc{
	ServiceName: RecordsService,
	HandlerType: (*recordsHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping"), unary("Insert"), unary("Update"), unary("Delete"), unary("Get"), unary("List"),
	},
}

type fakeServer struct {
	mu        sync.Mutex
	records   map[string]models.Record
	lastToken string
	failWith  error
	pingValue string
}

func newFakeServer() *fakeServer {
	return &fakeServer{records: map[string]models.Record{}, pingValue: "OK"}
}

func (f *fakeServer) handle(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 {
			f.lastToken = v[0]
		}
	}
	if f.failWith != nil {
		return nil, f.failWith
	}

	switch method {
	case "Ping":
		return structpb.NewStruct(map[string]any{"status": f.pingValue})
	case "Insert":
		var env recordEnvelope
		if err := fromStruct(in, &env); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if _, ok := f.records[env.Record.ID]; ok {
			return nil, status.Error(codes.AlreadyExists, "duplicate id")
		}
		f.records[env.Record.ID] = *env.Record
		return toStruct(env)
	case "Update":
		var req updateRequest
		if err := fromStruct(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		r, ok := f.records[req.ID]
		if !ok {
			return nil, status.Error(codes.NotFound, "no such record")
		}
		r = req.Patch.Apply(r, r.UpdatedAt.Add(time.Minute))
		f.records[req.ID] = r
		return toStruct(recordEnvelope{Record: &r})
	case "Delete":
		var req deleteRequest
		if err := fromStruct(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		r, ok := f.records[req.ID]
		if !ok {
			return nil, status.Error(codes.NotFound, "no such record")
		}
		if req.Hard {
			delete(f.records, req.ID)
		} else {
			at, err := time.Parse(time.RFC3339Nano, req.DeletedAt)
			if err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			r.DeletedAt = &at
			f.records[req.ID] = r
		}
		return &structpb.Struct{}, nil
	case "Get":
		var req idRequest
		if err := fromStruct(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		r, ok := f.records[req.ID]
		if !ok {
			return nil, status.Error(codes.NotFound, "no such record")
		}
		return toStruct(recordEnvelope{Record: &r})
	case "List":
		var req listRequest
		if err := fromStruct(in, &req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		out := listResponse{Records: []models.Record{}}
		for _, r := range f.records {
			if r.Deleted() || r.GroupID != req.GroupID {
				continue
			}
			if req.GroupID == "" && r.UserID != req.UserID {
				continue
			}
			out.Records = append(out.Records, r)
		}
		return toStruct(out)
	}
	return nil, status.Error(codes.Unimplemented, method)
}

func startServer(t *testing.T) (*GRPCRecords, *fakeServer) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	fake := newFakeServer()
	srv := grpc.NewServer()
	srv.RegisterService(&recordsDesc, fake)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := dialRecords("passthrough:///bufnet", "tok-1",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, fake
}

func sampleRecord(id string) models.Record {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	exp := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	return models.Record{
		ID:        id,
		Name:      "Milk",
		ExpiresAt: &exp,
		Quantity:  2,
		Unit:      "l",
		Location:  models.LocationFridge,
		Status:    models.StatusActive,
		UserID:    "u1",
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

/*************
 * Round trips
 *************/

func TestGRPCRecords_Ping(t *testing.T) {
	c, fake := startServer(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, "tok-1", fake.lastToken)

	fake.pingValue = "DEGRADED"
	assert.ErrorIs(t, c.Ping(ctx), ErrUnavailable)
}

func TestGRPCRecords_InsertGetList(t *testing.T) {
	c, _ := startServer(t)
	ctx := context.Background()

	in := sampleRecord("A1")
	got, err := c.Insert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	_, err = c.Insert(ctx, in)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	read, err := c.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, in, read)

	list, err := c.List(ctx, ListFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A1", list[0].ID)

	list, err = c.List(ctx, ListFilter{UserID: "u1", GroupID: "g1"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGRPCRecords_UpdateAndDelete(t *testing.T) {
	c, fake := startServer(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, sampleRecord("A1"))
	require.NoError(t, err)

	qty := 1.0
	updated, err := c.Update(ctx, "A1", models.Patch{Quantity: &qty, ClearExpiry: true})
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.Quantity)
	assert.Nil(t, updated.ExpiresAt)

	_, err = c.Update(ctx, "missing", models.Patch{Quantity: &qty})
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Delete(ctx, "A1", false, at))
	assert.True(t, fake.records["A1"].Deleted())

	require.NoError(t, c.Delete(ctx, "A1", true, at))
	_, err = c.Get(ctx, "A1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGRPCRecords_TokenIsReplaceable(t *testing.T) {
	c, fake := startServer(t)

	c.SetAccessToken("tok-2")
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "tok-2", fake.lastToken)
}

func TestGRPCRecords_ServerErrorsAreMapped(t *testing.T) {
	c, fake := startServer(t)

	fake.failWith = status.Error(codes.PermissionDenied, "not in group")
	_, err := c.Get(context.Background(), "A1")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorContains(t, err, "not in group")
}

/*************
 * Interceptor and mapError
 *************/

func TestInterceptor_AttachesToken(t *testing.T) {
	c := &GRPCRecords{accessToken: "A1"}

	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		toks := md.Get(common.AccessTokenHeaderName)
		require.Len(t, toks, 1)
		require.Equal(t, "A1", toks[0])
		return nil
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, "stale")
	require.NoError(t, c.accessTokenInterceptor(ctx, "/svc/Method", nil, nil, nil, invoker))
}

func TestInterceptor_NoTokenNoHeader(t *testing.T) {
	c := &GRPCRecords{}
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		require.Empty(t, md.Get(common.AccessTokenHeaderName))
		return nil
	}
	require.NoError(t, c.accessTokenInterceptor(context.Background(), "/svc/Method", nil, nil, nil, invoker))
}

func TestMapError(t *testing.T) {
	c := &GRPCRecords{}

	require.Nil(t, c.mapError(nil))
	require.ErrorIs(t, c.mapError(status.Error(codes.Unauthenticated, "x")), ErrUnauthorized)
	require.ErrorIs(t, c.mapError(status.Error(codes.PermissionDenied, "x")), ErrPermissionDenied)
	require.ErrorIs(t, c.mapError(status.Error(codes.Unavailable, "x")), ErrUnavailable)
	require.ErrorIs(t, c.mapError(status.Error(codes.DeadlineExceeded, "x")), ErrUnavailable)
	require.ErrorIs(t, c.mapError(status.Error(codes.InvalidArgument, "x")), ErrValidation)
	require.ErrorIs(t, c.mapError(status.Error(codes.NotFound, "x")), ErrNotFound)
	require.ErrorIs(t, c.mapError(status.Error(codes.AlreadyExists, "x")), ErrAlreadyExists)
	require.ErrorIs(t, c.mapError(status.Error(codes.Canceled, "x")), context.Canceled)
	require.ErrorIs(t, c.mapError(context.DeadlineExceeded), context.DeadlineExceeded)

	e := errors.New("plain")
	require.ErrorContains(t, c.mapError(e), "rpc error:")
	require.ErrorIs(t, c.mapError(e), e)
}
