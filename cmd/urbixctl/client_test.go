package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_DecodesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/d1/login", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "A login is already in progress for this device"})
	}))
	defer srv.Close()

	client, err := newAPIClient(srv.URL)
	require.NoError(t, err)

	_, err = startLogin(context.Background(), client, "d1", nil)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "already in progress")
}

func TestNewAPIClient_RejectsBadScheme(t *testing.T) {
	_, err := newAPIClient("ftp://example.com")
	assert.Error(t, err)
}

func TestFollow_SendsOTPAndReportsBalance(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotOTP := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/otp/d1", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		send := func(v string) {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(v))
		}
		send(`{"type":"connected","payload":{"client_id":"c1","device_id":"d1"}}`)
		// Events of other attempts on the same device are ignored
		send(`{"type":"login_progress","payload":{"attempt_id":"other","device_id":"d1","phase":"awaiting_otp","attempt":1}}`)
		send(`{"type":"login_progress","payload":{"attempt_id":"a1","device_id":"d1","phase":"awaiting_otp","attempt":1}}`)

		var frame struct {
			OTP string `json:"otp"`
		}
		if err := conn.ReadJSON(&frame); err == nil {
			gotOTP <- frame.OTP
		}
		send(`{"type":"otp_received","payload":{"device_id":"d1"}}`)
		send(`{"type":"login_result","payload":{"attempt_id":"a1","device_id":"d1","status":"success","balance":"12.5","message":"Login successful"}}`)
	}))
	defer srv.Close()

	client, err := newAPIClient(srv.URL)
	require.NoError(t, err)
	conn, err := client.dialOTPSocket(context.Background(), "d1")
	require.NoError(t, err)
	defer conn.Close()

	prompts := 0
	var out bytes.Buffer
	err = follow(conn, "a1", func() (string, error) {
		prompts++
		return "482913", nil
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, 1, prompts)
	assert.Equal(t, "482913", <-gotOTP)
	assert.Contains(t, out.String(), "awaiting_otp")
	assert.Contains(t, out.String(), "Login successful, balance 12.50")
}

func TestFollow_ReturnsFailure(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"login_result","payload":{"attempt_id":"a1","device_id":"d1","status":"failed","reason":"otp_timeout","message":"No OTP received in time"}}`))
		// Hold the connection until the client is done reading
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	client, err := newAPIClient(srv.URL)
	require.NoError(t, err)
	conn, err := client.dialOTPSocket(context.Background(), "d1")
	require.NoError(t, err)
	defer conn.Close()

	err = follow(conn, "a1", func() (string, error) {
		t.Fatal("no OTP prompt expected")
		return "", nil
	}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "otp_timeout")
}
