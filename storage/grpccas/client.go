package grpccas

import (
	"context"
	"time"

	"github.com/multiformats/go-multihash"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/cadstore/storage"
)

// Client implements storage.BlockStore over the BlockStore gRPC service.
// It validates keys locally and re-verifies every block it receives, so a
// misbehaving server cannot hand back wrong bytes.
type Client struct {
	cc     *grpc.ClientConn
	client BlockStoreClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var _ storage.BlockStore = (*Client)(nil)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra dial options, e.g. a bufconn dialer in tests.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

// NewClient wraps an existing connection. Close closes cc.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewBlockStoreClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(ctx context.Context, key multihash.Multihash, data []byte) error {
	if err := storage.CheckPut(key, data); err != nil {
		return err
	}
	ctx, cancel := c.rpcCtx(ctx)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, KeyMetadata, string(key))

	_, err := c.client.Put(ctx, wrapperspb.Bytes(data))
	return mapRPC(err)
}

func (c *Client) Get(ctx context.Context, key multihash.Multihash) ([]byte, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := c.rpcCtx(ctx)
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.Bytes(key))
	if err != nil {
		return nil, mapRPC(err)
	}
	b := reply.GetValue()
	if err := storage.VerifyBlock(key, b); err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (c *Client) Has(ctx context.Context, key multihash.Multihash) (bool, error) {
	if _, err := storage.CheckKey(key); err != nil {
		return false, err
	}
	ctx, cancel := c.rpcCtx(ctx)
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.Bytes(key))
	if err != nil {
		return false, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) Delete(ctx context.Context, key multihash.Multihash) error {
	if _, err := storage.CheckKey(key); err != nil {
		return err
	}
	ctx, cancel := c.rpcCtx(ctx)
	defer cancel()

	_, err := c.client.Delete(ctx, wrapperspb.Bytes(key))
	return mapRPC(err)
}

func (c *Client) rpcCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}
