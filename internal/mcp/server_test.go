package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelforge/internal/executor"
	"voxelforge/internal/locate"
	"voxelforge/internal/service"
	"voxelforge/internal/store"
	"voxelforge/internal/world"
)

// runSession feeds newline-delimited requests through a fully wired
// server and returns the decoded responses in order.
func runSession(t *testing.T, requests ...string) []response {
	t.Helper()

	st, err := store.NewBuildStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	loop := world.NewTickLoop()
	t.Cleanup(loop.Close)

	svc := service.NewBuildService(service.Config{
		Store:    st,
		Executor: executor.NewTaskExecutor(executor.Config{Effector: world.NewMemoryWorld(loop)}),
	})
	loc := locate.NewLocationService(locate.Config{Store: st})

	var out bytes.Buffer
	srv := NewServer("voxelforge-test", "0.0.0", strings.NewReader(strings.Join(requests, "\n")+"\n"), &out)
	RegisterBuildTools(srv, svc, loc)
	require.NoError(t, srv.Serve(context.Background()))

	var responses []response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp response
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	return responses
}

func rpc(id int, method string, params string) string {
	if params == "" {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q}`, id, method)
	}
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, id, method, params)
}

func call(id int, tool string, args string) string {
	return rpc(id, "tools/call", fmt.Sprintf(`{"name":%q,"arguments":%s}`, tool, args))
}

// toolResult re-decodes a response's result as a tool-call envelope.
func toolResult(t *testing.T, resp response) callToolResult {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var res callToolResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.NotEmpty(t, res.Content)
	return res
}

// toolJSON unmarshals the text payload of a successful tool call.
func toolJSON(t *testing.T, resp response, into any) {
	t.Helper()
	res := toolResult(t, resp)
	require.False(t, res.IsError, "tool failed: %s", res.Content[0].Text)
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), into))
}

func TestInitializeAndListTools(t *testing.T) {
	responses := runSession(t,
		rpc(1, "initialize", `{}`),
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		rpc(2, "tools/list", ""),
	)
	require.Len(t, responses, 2, "notification must not produce a response")

	raw, err := json.Marshal(responses[0].Result)
	require.NoError(t, err)
	var init initializeResult
	require.NoError(t, json.Unmarshal(raw, &init))
	assert.Equal(t, "voxelforge-test", init.ServerInfo.Name)
	assert.Equal(t, protocolVersion, init.ProtocolVersion)

	raw, err = json.Marshal(responses[1].Result)
	require.NoError(t, err)
	var list listToolsResult
	require.NoError(t, json.Unmarshal(raw, &list))

	names := make([]string, len(list.Tools))
	for i, tool := range list.Tools {
		names[i] = tool.Name
	}
	for _, want := range []string{
		"create_build", "get_build", "delete_build", "add_task", "insert_task",
		"update_task", "delete_task", "list_tasks", "reorder_tasks",
		"execute_build", "find_builds_in_area", "audit_build",
	} {
		assert.Contains(t, names, want)
	}
}

func TestUnknownMethodAndTool(t *testing.T) {
	responses := runSession(t,
		rpc(1, "resources/list", ""),
		call(2, "no_such_tool", `{}`),
	)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeMethodNotFound, responses[0].Error.Code)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, codeInvalidParams, responses[1].Error.Code)
}

func TestParseErrorRecovery(t *testing.T) {
	responses := runSession(t,
		`this is not json`,
		rpc(1, "tools/list", ""),
	)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, codeParseError, responses[0].Error.Code)
	assert.Nil(t, responses[1].Error, "server did not recover after parse error")
}

func TestBuildLifecycleOverTools(t *testing.T) {
	fill := `{"x1":0,"y1":64,"z1":0,"x2":2,"y2":64,"z2":2,"block_type":"minecraft:stone"}`

	// The scripted session references build ids up front, so pin the
	// id generator.
	st, err := store.NewBuildStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	loop := world.NewTickLoop()
	t.Cleanup(loop.Close)
	svc := service.NewBuildService(service.Config{
		Store:    st,
		Executor: executor.NewTaskExecutor(executor.Config{Effector: world.NewMemoryWorld(loop)}),
		IDGen:    func() string { return "fixed-id" },
	})
	loc := locate.NewLocationService(locate.Config{Store: st})

	var out bytes.Buffer
	script := strings.Join([]string{
		call(1, "create_build", `{"name":"plaza"}`),
		call(2, "add_task", fmt.Sprintf(`{"build_id":"fixed-id","task_type":"BLOCK_FILL","task_data":%s}`, fill)),
		call(3, "execute_build", `{"build_id":"fixed-id"}`),
		call(4, "find_builds_in_area", `{"min_x":0,"min_y":60,"min_z":0,"max_x":5,"max_y":70,"max_z":5}`),
		call(5, "audit_build", `{"build_id":"fixed-id"}`),
	}, "\n") + "\n"
	srv := NewServer("voxelforge-test", "0.0.0", strings.NewReader(script), &out)
	RegisterBuildTools(srv, svc, loc)
	require.NoError(t, srv.Serve(context.Background()))

	var scripted []response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp response
		require.NoError(t, dec.Decode(&resp))
		scripted = append(scripted, resp)
	}
	require.Len(t, scripted, 5)

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	toolJSON(t, scripted[0], &created)
	assert.Equal(t, "fixed-id", created.ID)
	assert.Equal(t, "CREATED", created.Status)

	var summary struct {
		Success       bool `json:"success"`
		TasksExecuted int  `json:"tasks_executed"`
	}
	toolJSON(t, scripted[2], &summary)
	assert.True(t, summary.Success)
	assert.Equal(t, 1, summary.TasksExecuted)

	var report struct {
		BuildCount int `json:"build_count"`
	}
	toolJSON(t, scripted[3], &report)
	assert.Equal(t, 1, report.BuildCount)

	var audit struct {
		Warnings int `json:"warnings"`
		Errors   int `json:"errors"`
	}
	toolJSON(t, scripted[4], &audit)
	assert.Zero(t, audit.Warnings)
	assert.Zero(t, audit.Errors)
}

func TestDomainErrorsStayInBand(t *testing.T) {
	responses := runSession(t,
		call(1, "get_build", `{"build_id":"missing"}`),
		call(2, "create_build", `{}`),
		call(3, "execute_build", `{"build_id":"missing"}`),
	)
	require.Len(t, responses, 3)

	notFound := toolResult(t, responses[0])
	assert.True(t, notFound.IsError)
	assert.Contains(t, notFound.Content[0].Text, "not found")

	invalid := toolResult(t, responses[1])
	assert.True(t, invalid.IsError)
	assert.Contains(t, invalid.Content[0].Text, "validation error")

	missing := toolResult(t, responses[2])
	assert.True(t, missing.IsError)
	assert.Contains(t, missing.Content[0].Text, "not found")
}

func TestFindBuildsRejectsDegenerateBox(t *testing.T) {
	// min above max must surface the query layer's rejection, not be
	// silently reordered by the transport.
	responses := runSession(t,
		call(1, "find_builds_in_area", `{"min_x":5,"min_y":0,"min_z":0,"max_x":0,"max_y":1,"max_z":1}`),
	)
	require.Len(t, responses, 1)
	res := toolResult(t, responses[0])
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "validation error")
	assert.Contains(t, res.Content[0].Text, "degenerate query box")
}
