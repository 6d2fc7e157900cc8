// Package main implements a scriptable fake coding agent speaking the ACP
// protocol over stdio. It exists for local development and integration
// testing of the subprocess provider without a real agent binary.
//
// Behavior is driven by the session mode: plan-mode prompts answer with a
// canned task plan, build-mode prompts answer with a completion statement.
// MOCK_PLAN_FILE and MOCK_BUILD_FILE override the canned outputs.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/routa/routa/pkg/acp/jsonrpc"
)

const defaultPlan = `Here is the plan.

@@@task
# Implement the feature

## Objective
Implement the requested change.

## Definition of Done
- The change builds and behaves as requested

## Verification
- go build ./...
@@@
`

const defaultBuild = `Implemented the change as requested.

Task completed. Verification passed.
`

type agent struct {
	out   *bufio.Writer
	outMu sync.Mutex

	sessionID string
	mode      string

	planOutput  string
	buildOutput string
}

func main() {
	a := &agent{
		out:         bufio.NewWriter(os.Stdout),
		mode:        jsonrpc.ModePlan,
		planOutput:  outputFromEnv("MOCK_PLAN_FILE", defaultPlan),
		buildOutput: outputFromEnv("MOCK_BUILD_FILE", defaultBuild),
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		a.handle(line)
	}
}

func outputFromEnv(envKey, fallback string) string {
	path := os.Getenv(envKey)
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: failed to read %s: %v\n", path, err)
		return fallback
	}
	return string(data)
}

func (a *agent) handle(line []byte) {
	var req jsonrpc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: bad line: %v\n", err)
		return
	}

	switch req.Method {
	case jsonrpc.MethodInitialize:
		a.respond(req.ID, jsonrpc.InitializeResult{
			ProtocolVersion: 1,
			ServerInfo:      jsonrpc.ServerInfo{Name: "mock-agent", Version: "1.0.0"},
		})

	case jsonrpc.MethodSessionNew:
		a.sessionID = uuid.New().String()
		a.respond(req.ID, jsonrpc.SessionNewResult{SessionID: a.sessionID})

	case jsonrpc.MethodSessionLoad:
		var params jsonrpc.SessionLoadParams
		_ = json.Unmarshal(req.Params, &params)
		a.sessionID = params.SessionID
		a.respond(req.ID, map[string]any{})

	case jsonrpc.MethodSessionSetMode:
		var params jsonrpc.SessionSetModeParams
		_ = json.Unmarshal(req.Params, &params)
		a.mode = params.ModeID
		a.respond(req.ID, map[string]any{})

	case jsonrpc.MethodSessionPrompt:
		a.runTurn(req.ID)

	case jsonrpc.MethodSessionCancel:
		// Notification; nothing in flight to cancel in the mock.

	default:
		a.respondError(req.ID, jsonrpc.MethodNotFound, fmt.Sprintf("unknown method %s", req.Method))
	}
}

// runTurn streams the scripted output as content updates, then signals
// completion and answers the prompt call.
func (a *agent) runTurn(id interface{}) {
	output := a.buildOutput
	if a.mode == jsonrpc.ModePlan {
		output = a.planOutput
	}

	a.notifyUpdate(jsonrpc.UpdateContent, jsonrpc.SessionUpdateContent{Text: output})
	a.notifyUpdate(jsonrpc.UpdateComplete, jsonrpc.SessionUpdateComplete{
		SessionID: a.sessionID,
		Success:   true,
	})
	a.respond(id, map[string]any{"stopReason": "end_turn"})
}

func (a *agent) notifyUpdate(updateType string, data any) {
	payload, _ := json.Marshal(data)
	params, _ := json.Marshal(jsonrpc.SessionUpdate{
		SessionID: a.sessionID,
		Type:      updateType,
		Data:      payload,
	})
	a.write(jsonrpc.Request{
		JSONRPC: "2.0",
		Method:  jsonrpc.NotificationSessionUpdate,
		Params:  params,
	})
}

func (a *agent) respond(id interface{}, result any) {
	data, _ := json.Marshal(result)
	a.write(jsonrpc.Response{JSONRPC: "2.0", ID: id, Result: data})
}

func (a *agent) respondError(id interface{}, code int, message string) {
	a.write(jsonrpc.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpc.Error{Code: code, Message: message},
	})
}

func (a *agent) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, _ = a.out.Write(append(data, '\n'))
	_ = a.out.Flush()
}
