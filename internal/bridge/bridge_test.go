package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/turn"
)

// TestHTTPEngine_Generate checks the request/response round trip and
// bearer auth header.
func TestHTTPEngine_Generate(t *testing.T) {
	var gotAuth string
	var gotBody turn.CanonicalContext
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(engineResponse{Payloads: []bus.ReplyPayload{
			{Text: "first"}, {Text: "second"},
		}})
	}))
	defer srv.Close()

	e := NewHTTPEngine(config.EngineConfig{Endpoint: srv.URL, Token: "secret"})
	stream, err := e.Generate(context.Background(), &turn.CanonicalContext{
		AccountID: "main", Body: "hello",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var payloads []bus.ReplyPayload
	for p := range stream {
		payloads = append(payloads, p)
	}
	if len(payloads) != 2 || payloads[0].Text != "first" || payloads[1].Text != "second" {
		t.Errorf("payloads = %+v", payloads)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Body != "hello" {
		t.Errorf("engine received body %q", gotBody.Body)
	}
}

func TestHTTPEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPEngine(config.EngineConfig{Endpoint: srv.URL})
	if _, err := e.Generate(context.Background(), &turn.CanonicalContext{}); err == nil {
		t.Error("Generate succeeded on 503")
	}
}

func TestHTTPEngine_NoEndpoint(t *testing.T) {
	e := NewHTTPEngine(config.EngineConfig{})
	if _, err := e.Generate(context.Background(), &turn.CanonicalContext{}); err == nil {
		t.Error("Generate succeeded without an endpoint")
	}
}

// TestWebhookSender checks the outbound message shapes for send, reply
// and media calls.
func TestWebhookSender(t *testing.T) {
	var got []outboundMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg outboundMessage
		json.NewDecoder(r.Body).Decode(&msg)
		got = append(got, msg)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(config.OutboundConfig{Endpoint: srv.URL})
	ctx := context.Background()

	if err := s.Send(ctx, "main", "oc_1", "text", `{"text":"hi"}`); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Reply(ctx, "main", "om_5", "post", `{}`); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if err := s.SendMedia(ctx, "main", "oc_1", bus.MediaAttachment{
		Path: "/tmp/a.png", ContentType: "image/png", Caption: "chart",
	}); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("posted %d messages, want 3", len(got))
	}
	if got[0].ConversationID != "oc_1" || got[0].MsgType != "text" {
		t.Errorf("send message = %+v", got[0])
	}
	if got[1].ReplyToMessageID != "om_5" || got[1].ConversationID != "" {
		t.Errorf("reply message = %+v", got[1])
	}
	if got[2].MediaPath != "/tmp/a.png" || got[2].MediaCaption != "chart" {
		t.Errorf("media message = %+v", got[2])
	}
}

// TestHTTPDirectory checks the query shapes and bearer auth for user and
// group name resolution.
func TestHTTPDirectory(t *testing.T) {
	var gotAuth string
	var got []directoryQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var q directoryQuery
		json.NewDecoder(r.Body).Decode(&q)
		got = append(got, q)
		name := "Alice Chen"
		if q.Kind == "conversation" {
			name = "Platform Team"
		}
		json.NewEncoder(w).Encode(directoryResult{Name: name})
	}))
	defer srv.Close()

	d := NewHTTPDirectory(config.DirectoryConfig{Endpoint: srv.URL, Token: "secret"})
	ctx := context.Background()

	user, err := d.UserName(ctx, "main", "ou_alice")
	if err != nil {
		t.Fatalf("UserName: %v", err)
	}
	group, err := d.GroupName(ctx, "main", "oc_team")
	if err != nil {
		t.Fatalf("GroupName: %v", err)
	}

	if user != "Alice Chen" || group != "Platform Team" {
		t.Errorf("resolved names = %q, %q", user, group)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(got) != 2 {
		t.Fatalf("posted %d queries, want 2", len(got))
	}
	if got[0].Kind != "user" || got[0].ID != "ou_alice" || got[0].AccountID != "main" {
		t.Errorf("user query = %+v", got[0])
	}
	if got[1].Kind != "conversation" || got[1].ID != "oc_team" {
		t.Errorf("group query = %+v", got[1])
	}
}

func TestHTTPDirectory_NoEndpoint(t *testing.T) {
	d := NewHTTPDirectory(config.DirectoryConfig{})
	if _, err := d.UserName(context.Background(), "main", "ou_1"); err == nil {
		t.Error("UserName succeeded without an endpoint")
	}
}

func TestHTTPDirectory_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown id", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewHTTPDirectory(config.DirectoryConfig{Endpoint: srv.URL})
	if _, err := d.UserName(context.Background(), "main", "ou_1"); err == nil {
		t.Error("UserName succeeded on 404")
	}
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(config.OutboundConfig{Endpoint: srv.URL})
	if err := s.Send(context.Background(), "main", "oc_1", "text", "{}"); err == nil {
		t.Error("Send succeeded on 502")
	}
}
