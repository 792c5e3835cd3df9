package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// RecordsService is the fully qualified gRPC service name.
const RecordsService = "pantry.v1.Records"

const (
	methodPing   = "/" + RecordsService + "/Ping"
	methodInsert = "/" + RecordsService + "/Insert"
	methodUpdate = "/" + RecordsService + "/Update"
	methodDelete = "/" + RecordsService + "/Delete"
	methodGet    = "/" + RecordsService + "/Get"
	methodList   = "/" + RecordsService + "/List"
)

const defaultCallTimeout = 15 * time.Second

type GRPCRecords struct {
	endpointURL string
	conn        *grpc.ClientConn
	cc          grpc.ClientConnInterface
	callTimeout time.Duration

	mu          sync.RWMutex
	accessToken string
}

var _ RecordsAPI = (*GRPCRecords)(nil)

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCRecords) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if token := s.token(); token != "" {
		ctx = withAccessToken(ctx, token)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCRecords dials endpointURL lazily; the first call establishes the
// connection.
func NewGRPCRecords(endpointURL, accessToken string) (*GRPCRecords, error) {
	return dialRecords(endpointURL, accessToken)
}

func dialRecords(endpointURL, accessToken string, extra ...grpc.DialOption) (*GRPCRecords, error) {
	c := &GRPCRecords{endpointURL: endpointURL, accessToken: accessToken, callTimeout: defaultCallTimeout}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, extra...)
	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.cc = conn
	return c, nil
}

func (s *GRPCRecords) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SetAccessToken replaces the token sent with subsequent calls.
func (s *GRPCRecords) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

func (s *GRPCRecords) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCRecords) call(ctx context.Context, method string, req any) (*structpb.Struct, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := s.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, s.mapError(err)
	}
	return out, nil
}

func (s *GRPCRecords) Ping(ctx context.Context) error {
	resp, err := s.call(ctx, methodPing, struct{}{})
	if err != nil {
		return err
	}
	if resp.GetFields()["status"].GetStringValue() != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCRecords) Insert(ctx context.Context, r models.Record) (models.Record, error) {
	resp, err := s.call(ctx, methodInsert, recordEnvelope{Record: &r})
	if err != nil {
		return models.Record{}, err
	}
	return decodeRecord(resp)
}

func (s *GRPCRecords) Update(ctx context.Context, id string, p models.Patch) (models.Record, error) {
	resp, err := s.call(ctx, methodUpdate, updateRequest{ID: id, Patch: p})
	if err != nil {
		return models.Record{}, err
	}
	return decodeRecord(resp)
}

func (s *GRPCRecords) Delete(ctx context.Context, id string, hard bool, at time.Time) error {
	req := deleteRequest{ID: id, Hard: hard}
	if !hard {
		req.DeletedAt = at.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.call(ctx, methodDelete, req)
	return err
}

func (s *GRPCRecords) Get(ctx context.Context, id string) (models.Record, error) {
	resp, err := s.call(ctx, methodGet, idRequest{ID: id})
	if err != nil {
		return models.Record{}, err
	}
	return decodeRecord(resp)
}

func (s *GRPCRecords) List(ctx context.Context, f ListFilter) ([]models.Record, error) {
	resp, err := s.call(ctx, methodList, listRequest{
		UserID:   f.UserID,
		GroupID:  f.GroupID,
		Status:   f.Status,
		Location: f.Location,
	})
	if err != nil {
		return nil, err
	}
	var out listResponse
	if err := fromStruct(resp, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out.Records, nil
}

func (s *GRPCRecords) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("rpc error: %w", err)
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return ErrUnauthorized
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return ErrUnavailable
	case codes.Canceled:
		return context.Canceled
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return fmt.Errorf("%w: %s", ErrValidation, st.Message())
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrAlreadyExists
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
