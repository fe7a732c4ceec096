package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/neo/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnectedPair(t *testing.T, serverHandlers, clientHandlers HandlerSet) (*Connection, *Connection) {
	t.Helper()
	a, b := net.Pipe()
	server := NewConnection(a, serverHandlers, time.Minute, time.Minute, zerolog.Nop())
	client := NewConnection(b, clientHandlers, time.Minute, time.Minute, zerolog.Nop())
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

func TestAskAnswerRoundTrip(t *testing.T) {
	server := HandlerSet{
		proto.TAskObject: func(ctx context.Context, conn *Connection, req *Request) {
			var body proto.AskObjectBody
			require.NoError(t, proto.DecodeBody(req.Payload, &body))
			_ = req.Reply(proto.TAnswerObject, &proto.AnswerObjectBody{OID: body.OID, Serial: 42})
		},
	}
	_, client := newConnectedPair(t, server, nil)

	var answer proto.AnswerObjectBody
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := client.Ask(ctx, proto.TAskObject, &proto.AskObjectBody{OID: 7}, &answer)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), answer.OID)
	assert.Equal(t, uint64(42), answer.Serial)
}

func TestAskReceivesRemoteError(t *testing.T) {
	server := HandlerSet{
		proto.TAskObject: func(ctx context.Context, conn *Connection, req *Request) {
			_ = req.Fail(proto.ECOidNotFound, "no such object")
		},
	}
	_, client := newConnectedPair(t, server, nil)

	var answer proto.AnswerObjectBody
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := client.Ask(ctx, proto.TAskObject, &proto.AskObjectBody{OID: 1}, &answer)
	assert.Error(t, err)
}

func TestUnknownPacketTypeRepliesWithProtocolError(t *testing.T) {
	_, client := newConnectedPair(t, HandlerSet{}, nil)

	var answer proto.AckBody
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := client.Ask(ctx, proto.TAskObject, &proto.AskObjectBody{OID: 1}, &answer)
	assert.Error(t, err)
}

func TestSwitchHandlerWaitsForOutstandingRequests(t *testing.T) {
	unblock := make(chan struct{})
	oldHandlers := HandlerSet{
		proto.TAskObject: func(ctx context.Context, conn *Connection, req *Request) {
			<-unblock
			_ = req.Reply(proto.TAnswerObject, &proto.AnswerObjectBody{OID: 1})
		},
	}
	_, client := newConnectedPair(t, oldHandlers, nil)

	errCh := make(chan error, 1)
	go func() {
		var answer proto.AnswerObjectBody
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errCh <- client.Ask(ctx, proto.TAskObject, &proto.AskObjectBody{OID: 1}, &answer)
	}()

	time.Sleep(20 * time.Millisecond)
	newHandlers := HandlerSet{}
	client.SwitchHandler(newHandlers)

	client.mu.Lock()
	beforeAnswer := client.handler
	client.mu.Unlock()
	assert.Nil(t, beforeAnswer)

	close(unblock)
	require.NoError(t, <-errCh)

	client.mu.Lock()
	installed := client.handler
	client.mu.Unlock()
	assert.NotNil(t, installed)
}
