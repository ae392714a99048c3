package evalsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
)

// Full method names served by the evaluation server. Messages are
// google.protobuf.Struct on both sides, so no generated stubs are needed.
const (
	MethodEvaluate = "/evalboard.EvaluationService/Evaluate"
	MethodOptions  = "/evalboard.EvaluationService/Options"
)

// #region client-struct

// GRPCClient talks to the evaluation server over gRPC.
type GRPCClient struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
	log  logr.Logger
}

// #endregion client-struct

// #region constructor

// NewGRPCClient connects to the evaluation gRPC server at addr.
func NewGRPCClient(addr string, log logr.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, cc: conn, log: log}, nil
}

// NewGRPCClientWithConn creates a GRPCClient on an existing connection.
// Used for testing without a real gRPC server.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc, log: logr.Discard()}
}

// Close shuts down the gRPC connection, if the client owns one.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// WithGRPCRateLimit paces unary calls to at most rps per second. Zero
// disables pacing.
func WithGRPCRateLimit(rps float64) grpc.DialOption {
	if rps <= 0 {
		return grpc.EmptyDialOption{}
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	return grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	})
}

// #endregion constructor

// #region evaluate

// Evaluate asks the server to evaluate model and returns the resulting record.
func (c *GRPCClient) Evaluate(ctx context.Context, model modelconfig.ModelConfig) (evaluation.Record, error) {
	const op = "evaluate"
	req, err := structpb.NewStruct(map[string]interface{}{
		"architecture": model.Architecture,
		"dataset":      model.Dataset,
		"loss":         model.Loss,
		"optimizer":    model.Optimizer,
	})
	if err != nil {
		return evaluation.Record{}, fmt.Errorf("%s: build request: %w", op, err)
	}

	c.log.V(1).Info("evaluating", "model", model.String())
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, MethodEvaluate, req, resp); err != nil {
		return evaluation.Record{}, rpcError(op, err)
	}

	body, err := json.Marshal(resp.AsMap())
	if err != nil {
		return evaluation.Record{}, &Error{Op: op, StatusCode: http.StatusOK, Message: "malformed response", Err: err}
	}
	rec, err := decodeRecord(body, model)
	if err != nil {
		return evaluation.Record{}, &Error{Op: op, StatusCode: http.StatusOK, Message: "malformed response", Err: err}
	}
	return rec, nil
}

// #endregion evaluate

// #region options

// Options fetches the option lists the server can build models from.
func (c *GRPCClient) Options(ctx context.Context) (modelconfig.Options, error) {
	const op = "options"
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, MethodOptions, &structpb.Struct{}, resp); err != nil {
		return modelconfig.Options{}, rpcError(op, err)
	}
	body, err := json.Marshal(resp.AsMap())
	if err != nil {
		return modelconfig.Options{}, &Error{Op: op, StatusCode: http.StatusOK, Message: "malformed response", Err: err}
	}
	var opts modelconfig.Options
	if err := json.Unmarshal(body, &opts); err != nil {
		return modelconfig.Options{}, &Error{Op: op, StatusCode: http.StatusOK, Message: "malformed response", Err: err}
	}
	return opts, nil
}

// #endregion options

// #region status-mapping

// rpcError maps a gRPC status onto the HTTP-like status carried by Error.
func rpcError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &Error{Op: op, StatusCode: NoStatus, Err: err}
	}
	return &Error{Op: op, StatusCode: httpStatus(st.Code()), Message: st.Message(), Err: err}
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return NoStatus
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound, codes.Unimplemented:
		// a server without the method will not grow it between entries
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	default:
		// Internal, Unknown, DataLoss
		return http.StatusInternalServerError
	}
}

// #endregion status-mapping
