package exchange

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the peer side of the exchange service: it pushes local submaps
// to a remote server and subscribes to the remote submap stream.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to an exchange server. The exchange runs on trusted links,
// so transport security is the deployment's concern, not the protocol's.
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("dial exchange %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Push sends one serialised submap message to the remote exchange.
func (c *Client) Push(ctx context.Context, data []byte) error {
	var reply rawMessage
	return c.conn.Invoke(ctx, "/"+exchangeServiceName+"/Push", &rawMessage{data: data}, &reply)
}

// Subscribe opens the submap stream and delivers each serialised message to
// the channel until the context is cancelled or the stream ends. The channel
// is closed when the stream terminates.
func (c *Client) Subscribe(ctx context.Context) (<-chan []byte, error) {
	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/"+exchangeServiceName+"/Subscribe")
	if err != nil {
		return nil, fmt.Errorf("open subscribe stream: %w", err)
	}
	// The request carries no parameters.
	if err := stream.SendMsg(&rawMessage{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		for {
			var msg rawMessage
			if err := stream.RecvMsg(&msg); err != nil {
				return
			}
			select {
			case out <- msg.data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
