// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package geotab

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/model"
)

type recordedCall struct {
	Method string
	Params map[string]json.RawMessage
}

// fakeServer answers JSON-RPC calls through handle and records each request.
type fakeServer struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []recordedCall
	handle func(method string, params map[string]json.RawMessage) (status int, body string)
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/apiv1" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Method string                     `json:"method"`
		Params map[string]json.RawMessage `json:"params"`
	}
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &req); err != nil {
		f.t.Errorf("bad request body: %v", err)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{Method: req.Method, Params: req.Params})
	f.mu.Unlock()

	status, resp := f.handle(req.Method, req.Params)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (f *fakeServer) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeServer) last(method string) recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i]
		}
	}
	f.t.Fatalf("no %s call recorded", method)
	return recordedCall{}
}

const authOK = `{"result":{"credentials":{"database":"fleet","sessionId":"s1","userName":"svc"},"path":"ThisServer"}}`

func newTestClient(t *testing.T, handle func(string, map[string]json.RawMessage) (int, string)) (*Client, *fakeServer) {
	t.Helper()
	fake := &fakeServer{t: t, handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c := NewClient(Options{
		Server:            srv.URL,
		Username:          "svc",
		Password:          "secret",
		Database:          "fleet",
		RequestsPerSecond: -1,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		Logger:            slog.New(slog.DiscardHandler),
	})
	c.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c, fake
}

func TestDevicesDropsArchivedAndKeepsRawFields(t *testing.T) {
	c, fake := newTestClient(t, func(method string, params map[string]json.RawMessage) (int, string) {
		switch method {
		case "Authenticate":
			return 200, authOK
		case "Get":
			return 200, `{"result":[
				{"id":"b1","serialNumber":"G9A","name":"Truck 1","timeZoneId":"America/Vancouver","activeTo":"2050-01-01T00:00:00.000Z","vehicleIdentificationNumber":"VIN1"},
				{"id":"b2","serialNumber":"G9B","name":"Old truck","activeTo":"2024-01-01T00:00:00.000Z"}
			]}`
		}
		return 500, ""
	})

	devices, err := c.Devices(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "G9A", devices[0].SerialNumber)
	assert.Equal(t, "VIN1", devices[0].Raw["vehicleIdentificationNumber"])

	get := fake.last("Get")
	assert.JSONEq(t, `"Device"`, string(get.Params["typeName"]))
	assert.JSONEq(t, `{"groups":[{"id":"g1"}],"fromDate":"2025-03-01T12:00:00Z"}`, string(get.Params["search"]))
	assert.JSONEq(t, `{"database":"fleet","userName":"svc","sessionId":"s1"}`, string(get.Params["credentials"]))
}

func TestUsersDecodesKeysAndSecurityGroups(t *testing.T) {
	c, fake := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		return 200, `{"result":[{"id":"u1","name":"ann","timezoneId":"UTC",
			"securityGroups":[{"id":"GroupDriveUserSecurityId"}],
			"keys":[{"driverKeyType":"CustomNfc","id":"k1","keyId":"42","serialNumber":"AA11"}]}]}`
	})

	users, err := c.Users(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []string{"GroupDriveUserSecurityId"}, users[0].SecurityGroups)
	require.Len(t, users[0].Keys, 1)
	assert.Equal(t, model.Key{DriverKeyType: "CustomNfc", ID: "k1", KeyID: 42, SerialNumber: "AA11"}, users[0].Keys[0])
	assert.JSONEq(t, `{"driverGroups":[{"id":"g1"}],"fromDate":"2025-03-01T12:00:00Z"}`, string(fake.last("Get").Params["search"]))
}

func TestCallReauthenticatesOnceOnInvalidUser(t *testing.T) {
	gets := 0
	c, fake := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		gets++
		if gets == 1 {
			return 200, `{"error":{"name":"JSONRPCError","message":"Incorrect login credentials","errors":[{"name":"InvalidUserException","message":"Incorrect login credentials"}]}}`
		}
		return 200, `{"result":[]}`
	})

	groups, err := c.Groups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, []string{"Authenticate", "Get", "Authenticate", "Get"}, fake.methods())
}

func TestCallGivesUpAfterSecondInvalidUser(t *testing.T) {
	c, _ := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		return 200, `{"error":{"name":"InvalidUserException","message":"expired"}}`
	})

	_, err := c.Groups(context.Background())
	require.Error(t, err)
	assert.True(t, IsInvalidUser(err))
}

func TestAuthenticateFailure(t *testing.T) {
	c, _ := newTestClient(t, func(string, map[string]json.RawMessage) (int, string) {
		return 200, `{"error":{"name":"InvalidUserException","message":"Incorrect login credentials"}}`
	})

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, InvalidUserException, apiErr.Name)
}

func TestAuthenticateFollowsRedirectPath(t *testing.T) {
	target, targetFake := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		return 200, `{"result":[{"id":"g1","name":"Depot"}]}`
	})
	redirect := `{"result":{"credentials":{"database":"fleet","sessionId":"s9","userName":"svc"},"path":"` + target.server + `"}}`
	c, fake := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, redirect
		}
		return 500, "wrong server"
	})

	groups, err := c.Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Group{{ID: "g1", Name: "Depot"}}, groups)
	assert.Equal(t, []string{"Authenticate"}, fake.methods())
	assert.Equal(t, []string{"Get"}, targetFake.methods())
}

func TestPostRetriesServerErrors(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		attempts++
		if attempts < 3 {
			return http.StatusServiceUnavailable, "busy"
		}
		return 200, `{"result":[]}`
	})

	_, err := c.Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPostReturnsHTTPErrorWhenRetriesExhausted(t *testing.T) {
	c, _ := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		return http.StatusBadGateway, "down"
	})

	_, err := c.Groups(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
}

func TestSendCommandsBuildsOneMultiCall(t *testing.T) {
	c, fake := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		return 200, `{"result":["m1","m2"]}`
	})
	key := model.Key{DriverKeyType: "CustomNfc", ID: "k1", KeyID: 7, SerialNumber: "AA11"}

	err := c.SendCommands(context.Background(), []model.AuthListCommand{
		model.NewClearCommand("b1"),
		model.NewAddCommand("b2", key),
	})
	require.NoError(t, err)

	call := fake.last("ExecuteMultiCall")
	assert.JSONEq(t, `[
		{"method":"Add","params":{"typeName":"TextMessage","entity":{
			"device":{"id":"b1"},"isDirectionToVehicle":true,
			"messageContent":{"contentType":"DriverAuthList","clearAuthList":true,"addToAuthList":false}}}},
		{"method":"Add","params":{"typeName":"TextMessage","entity":{
			"device":{"id":"b2"},"isDirectionToVehicle":true,
			"messageContent":{"contentType":"DriverAuthList","clearAuthList":false,"addToAuthList":true,
				"driverKey":{"driverKeyType":"CustomNfc","id":"k1","keyId":7,"serialNumber":"AA11"}}}}}
	]`, string(call.Params["calls"]))
}

func TestSendCommandsEmptyIsNoop(t *testing.T) {
	c, fake := newTestClient(t, func(string, map[string]json.RawMessage) (int, string) {
		return 500, ""
	})
	require.NoError(t, c.SendCommands(context.Background(), nil))
	assert.Empty(t, fake.methods())
}

func TestSetDevicePreservesUnmodelledFields(t *testing.T) {
	c, fake := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		return 200, `{"result":null}`
	})
	raw, err := decodeRaw([]byte(`{"id":"b1","name":"Truck","odometer":12345,
		"customParameters":[{"description":"Other","bytes":"AQ==","offset":10,"isEnabled":true,"version":3}]}`))
	require.NoError(t, err)

	d := model.Device{
		ID:         "b1",
		TimeZoneID: "America/Edmonton",
		CustomParameters: []model.CustomParameter{
			{Description: "Other", Bytes: "AQ==", Offset: 10, IsEnabled: true},
			{Description: "Enable Authorised Driver List", Bytes: "CA==", Offset: 164},
		},
		Raw: raw,
	}
	require.NoError(t, c.SetDevice(context.Background(), d))

	assert.JSONEq(t, `{"id":"b1","name":"Truck","odometer":12345,"timeZoneId":"America/Edmonton",
		"customParameters":[
			{"description":"Other","bytes":"AQ==","offset":10,"isEnabled":true,"version":3},
			{"description":"Enable Authorised Driver List","bytes":"CA==","offset":164,"isEnabled":false}]}`,
		string(fake.last("Set").Params["entity"]))
	assert.NotContains(t, d.Raw, "timeZoneId", "raw entity must not be mutated")
}

func TestSetUserReplacesSecurityGroups(t *testing.T) {
	c, fake := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		return 200, `{"result":null}`
	})
	u := model.User{
		ID:             "u1",
		TimeZoneID:     "America/Vancouver",
		SecurityGroups: []string{"new"},
		Raw:            map[string]any{"id": "u1", "name": "ann", "securityGroups": []any{map[string]any{"id": "old"}}},
	}
	require.NoError(t, c.SetUser(context.Background(), u))
	assert.JSONEq(t, `{"id":"u1","name":"ann","timezoneId":"America/Vancouver","securityGroups":[{"id":"new"}]}`,
		string(fake.last("Set").Params["entity"]))
	assert.ErrorIs(t, c.SetUser(context.Background(), model.User{}), errNilEntity)
}

func TestTextMessagesFiltersAuthList(t *testing.T) {
	c, _ := newTestClient(t, func(method string, _ map[string]json.RawMessage) (int, string) {
		if method == "Authenticate" {
			return 200, authOK
		}
		return 200, `{"result":[
			{"id":"m1","device":{"id":"b1"},"sent":"2025-03-01T10:00:00Z","delivered":"2025-03-01T10:05:00Z",
			 "messageContent":{"contentType":"DriverAuthList","addToAuthList":true,"driverKey":{"serialNumber":"AA11","keyId":1}}},
			{"id":"m2","device":{"id":"b1"},"sent":"2025-03-01T11:00:00Z",
			 "messageContent":{"contentType":"Normal","message":"hello"}},
			{"id":"m3","device":{"id":"b2"},"sent":"2025-03-01T11:00:00Z",
			 "messageContent":{"contentType":"DriverAuthList","clearAuthList":true}}
		]}`
	})

	msgs, err := c.TextMessages(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Delivered)
	require.NotNil(t, msgs[0].Command.Key)
	assert.Equal(t, "AA11", msgs[0].Command.Key.SerialNumber)
	assert.True(t, msgs[0].Command.Add)
	assert.Nil(t, msgs[1].Delivered)
	assert.True(t, msgs[1].Command.Clear)
}

func TestRetryDelay(t *testing.T) {
	c := NewClient(Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	assert.Equal(t, 400*time.Millisecond, c.retryDelay(3, ""))
	assert.Equal(t, time.Second, c.retryDelay(10, ""))
	assert.Equal(t, time.Second, c.retryDelay(1, "30"))
	assert.Equal(t, time.Duration(0), parseRetryAfterSeconds("soon"))
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
