package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type estimate struct {
	ShoulderWidth float64 `json:"shoulder_width"`
	Height        float64 `json:"height"`
}

func TestGetJSON_OK(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"shoulder_width": 44.5, "height": 178}`)

	var got estimate
	found, err := GetJSON(context.Background(), mock, "http://tracker/estimate", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if got.ShoulderWidth != 44.5 || got.Height != 178 {
		t.Errorf("got %+v", got)
	}

	req := mock.Requests[0]
	if req.Method != http.MethodGet {
		t.Errorf("got method %s, want GET", req.Method)
	}
	if req.Header.Get("Accept") != "application/json" {
		t.Errorf("got Accept %q", req.Header.Get("Accept"))
	}
}

func TestGetJSON_NoContent(t *testing.T) {
	mock := NewMockHTTPClient()

	var got estimate
	found, err := GetJSON(context.Background(), mock, "http://tracker/estimate", &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if found {
		t.Error("expected found=false for 204")
	}
}

func TestGetJSON_StatusError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusServiceUnavailable, "busy")

	var got estimate
	_, err := GetJSON(context.Background(), mock, "http://tracker/estimate", &got)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("got status %d", se.StatusCode)
	}
}

func TestGetJSON_BadBody(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"shoulder_width":`)

	var got estimate
	if _, err := GetJSON(context.Background(), mock, "http://tracker/estimate", &got); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGetJSON_TransportError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection refused"))

	var got estimate
	if _, err := GetJSON(context.Background(), mock, "http://tracker/estimate", &got); err == nil {
		t.Fatal("expected transport error")
	}
	if mock.RequestCount() != 1 {
		t.Errorf("got %d requests, want 1", mock.RequestCount())
	}
}

func TestMockHTTPClient_Handler(t *testing.T) {
	mock := NewMockHTTPClient().
		AddHandler(func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("user") != "alice" {
				return nil, errors.New("missing user")
			}
			return cannedResponse(req, http.StatusOK, `{"height": 180}`), nil
		}).
		AddResponse(http.StatusOK, `{"height": 170}`)

	var got estimate
	if _, err := GetJSON(context.Background(), mock, "http://tracker/estimate?user=alice", &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got.Height != 180 {
		t.Errorf("handler reply not used: %+v", got)
	}
	if _, err := GetJSON(context.Background(), mock, "http://tracker/estimate", &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got.Height != 170 {
		t.Errorf("queued reply not used: %+v", got)
	}
	if found, _ := GetJSON(context.Background(), mock, "http://tracker/estimate", &got); found {
		t.Error("exhausted queue should answer 204")
	}
}

func TestGetJSON_HTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"shoulder_width": 41, "height": 169}`))
	}))
	defer server.Close()

	var got estimate
	found, err := GetJSON(context.Background(), server.Client(), server.URL, &got)
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !found || got.Height != 169 {
		t.Errorf("got found=%v %+v", found, got)
	}
}

func TestGetJSON_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got estimate
	if _, err := GetJSON(ctx, server.Client(), server.URL, &got); err == nil {
		t.Fatal("expected context error")
	}
}
