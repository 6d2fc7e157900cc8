package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAgent is the far end of the stdio pair: it reads what the client
// writes and lets tests script the agent's side of the conversation.
type fakeAgent struct {
	in  *bufio.Scanner // client -> agent
	out io.Writer      // agent -> client
}

func newTestClient(t *testing.T) (*Client, *fakeAgent) {
	t.Helper()
	clientIn, agentOut := io.Pipe()  // agent stdout -> client
	agentIn, clientOut := io.Pipe() // client -> agent stdin

	client := NewClient(clientOut, clientIn, zap.NewNop())
	client.Start(context.Background())
	t.Cleanup(func() {
		client.Stop()
		clientOut.Close()
		agentOut.Close()
	})
	return client, &fakeAgent{in: bufio.NewScanner(agentIn), out: agentOut}
}

func (a *fakeAgent) readRequest(t *testing.T) Request {
	t.Helper()
	require.True(t, a.in.Scan(), "expected a line from the client")
	var req Request
	require.NoError(t, json.Unmarshal(a.in.Bytes(), &req))
	return req
}

func (a *fakeAgent) readResponse(t *testing.T) Response {
	t.Helper()
	require.True(t, a.in.Scan(), "expected a line from the client")
	var resp Response
	require.NoError(t, json.Unmarshal(a.in.Bytes(), &resp))
	return resp
}

func (a *fakeAgent) write(t *testing.T, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = a.out.Write(data)
	require.NoError(t, err)
}

func TestCallCorrelatesResponse(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		req := agent.readRequest(t)
		agent.write(t, Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"sessionId":"s-1"}`)})
	}()

	resp, err := client.Call(context.Background(), MethodSessionNew, SessionNewParams{Cwd: "/tmp", McpServers: []McpServer{}})
	require.NoError(t, err)

	var result SessionNewResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "s-1", result.SessionID)
}

func TestCallsCorrelateOutOfOrder(t *testing.T) {
	client, agent := newTestClient(t)

	type outcome struct {
		resp *Response
		err  error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		resp, err := client.Call(context.Background(), "one", nil)
		first <- outcome{resp, err}
	}()
	reqOne := agent.readRequest(t)

	go func() {
		resp, err := client.Call(context.Background(), "two", nil)
		second <- outcome{resp, err}
	}()
	reqTwo := agent.readRequest(t)

	// Answer in reverse order.
	agent.write(t, Response{JSONRPC: "2.0", ID: reqTwo.ID, Result: json.RawMessage(`"for-two"`)})
	agent.write(t, Response{JSONRPC: "2.0", ID: reqOne.ID, Result: json.RawMessage(`"for-one"`)})

	got := <-second
	require.NoError(t, got.err)
	assert.JSONEq(t, `"for-two"`, string(got.resp.Result))

	got = <-first
	require.NoError(t, got.err)
	assert.JSONEq(t, `"for-one"`, string(got.resp.Result))
}

func TestCallReturnsRPCError(t *testing.T) {
	client, agent := newTestClient(t)

	go func() {
		req := agent.readRequest(t)
		agent.write(t, Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: InvalidParams, Message: "bad params"}})
	}()

	resp, err := client.Call(context.Background(), "whatever", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, InvalidParams, resp.Error.Code)
	assert.Equal(t, "bad params", resp.Error.Message)
}

func TestNotifyOmitsID(t *testing.T) {
	client, agent := newTestClient(t)

	// The pipe write blocks until the far end reads, so send from a
	// goroutine and collect the error after draining the line.
	sent := make(chan error, 1)
	go func() {
		sent <- client.Notify(MethodSessionCancel, SessionCancelParams{SessionID: "s-1"})
	}()

	req := agent.readRequest(t)
	require.NoError(t, <-sent)
	assert.Nil(t, req.ID)
	assert.Equal(t, MethodSessionCancel, req.Method)
}

func TestNotificationDispatch(t *testing.T) {
	client, agent := newTestClient(t)

	received := make(chan SessionUpdate, 1)
	client.SetNotificationHandler(func(method string, params json.RawMessage) {
		if method != NotificationSessionUpdate {
			return
		}
		var update SessionUpdate
		if json.Unmarshal(params, &update) == nil {
			received <- update
		}
	})

	agent.write(t, Request{JSONRPC: "2.0", Method: NotificationSessionUpdate,
		Params: json.RawMessage(`{"sessionId":"s-1","type":"content","data":{"text":"hi"}}`)})

	select {
	case update := <-received:
		assert.Equal(t, UpdateContent, update.Type)
		assert.Equal(t, "s-1", update.SessionID)
	case <-time.After(time.Second):
		t.Fatal("notification was not dispatched")
	}
}

func TestRequestHandlerDispatchAndResponse(t *testing.T) {
	client, agent := newTestClient(t)

	client.SetRequestHandler(func(id interface{}, method string, params json.RawMessage) {
		assert.Equal(t, MethodRequestPermission, method)
		_ = client.SendResponse(id, RequestPermissionResult{
			Outcome: PermissionOutcome{Outcome: "selected", OptionID: "allow"},
		}, nil)
	})

	agent.write(t, Request{JSONRPC: "2.0", ID: float64(42), Method: MethodRequestPermission,
		Params: json.RawMessage(`{"sessionId":"s-1","toolCall":{"toolCallId":"tc-1"},"options":[]}`)})

	answer := agent.readResponse(t)
	assert.Equal(t, float64(42), answer.ID)

	var result RequestPermissionResult
	require.NoError(t, json.Unmarshal(answer.Result, &result))
	assert.Equal(t, "selected", result.Outcome.Outcome)
	assert.Equal(t, "allow", result.Outcome.OptionID)
}

func TestUnhandledRequestGetsMethodNotFound(t *testing.T) {
	client, agent := newTestClient(t)
	_ = client

	agent.write(t, Request{JSONRPC: "2.0", ID: float64(7), Method: "fs/read_text_file",
		Params: json.RawMessage(`{}`)})

	answer := agent.readResponse(t)
	assert.Equal(t, float64(7), answer.ID)
	require.NotNil(t, answer.Error)
	assert.Equal(t, MethodNotFound, answer.Error.Code)
}

func TestStopFailsPendingCalls(t *testing.T) {
	client, agent := newTestClient(t)

	errs := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "never-answered", nil)
		errs <- err
	}()
	agent.readRequest(t)

	client.Stop()

	select {
	case err := <-errs:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client stopped")
	case <-time.After(time.Second):
		t.Fatal("pending call did not fail after Stop")
	}
}

func TestCallHonorsContextCancellation(t *testing.T) {
	client, agent := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := client.Call(ctx, "never-answered", nil)
		errs <- err
	}()
	agent.readRequest(t)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("call did not observe cancellation")
	}
}
