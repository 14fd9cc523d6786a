package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gtmq/internal/config"
	"gtmq/internal/domain"
)

func webhookItem() domain.QueueItem {
	return domain.QueueItem{ID: "item-1", ActionType: domain.ActionSendMessage}
}

func TestWebhookHandleSuccess(t *testing.T) {
	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(webhookResponse{ExternalRef: "msg-99", RollbackToken: "tok-1"})
	}))
	defer srv.Close()

	h := NewWebhookHandler(domain.ActionSendMessage, config.HandlerConfig{Endpoint: srv.URL, Reversible: true})
	out, err := h.Handle(context.Background(), webhookItem(), map[string]any{"recipient": "a@x"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.ExternalRef != "msg-99" || out.RollbackToken != "tok-1" {
		t.Fatalf("outcome: %+v", out)
	}
	if got.QueueItemID != "item-1" || got.ActionType != domain.ActionSendMessage {
		t.Fatalf("request payload: %+v", got)
	}
	if got.Context["recipient"] != "a@x" {
		t.Fatalf("context not relayed: %+v", got.Context)
	}
}

func TestWebhookIrreversibleDropsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(webhookResponse{ExternalRef: "msg-1", RollbackToken: "tok-1"})
	}))
	defer srv.Close()

	h := NewWebhookHandler(domain.ActionSendMessage, config.HandlerConfig{Endpoint: srv.URL})
	out, err := h.Handle(context.Background(), webhookItem(), nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.RollbackToken != "" {
		t.Fatal("irreversible handler must not surface a rollback token")
	}
}

func TestWebhookStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		h := NewWebhookHandler(domain.ActionSendMessage, config.HandlerConfig{Endpoint: srv.URL})
		_, err := h.Handle(context.Background(), webhookItem(), nil)
		srv.Close()
		if err == nil {
			t.Fatalf("status %d should error", tc.status)
		}
		if IsTransient(err) != tc.transient {
			t.Fatalf("status %d: transient=%v, want %v", tc.status, IsTransient(err), tc.transient)
		}
	}
}

func TestWebhookNetworkErrorTransient(t *testing.T) {
	// Nothing listens here.
	h := NewWebhookHandler(domain.ActionSendMessage, config.HandlerConfig{Endpoint: "http://127.0.0.1:1/hook"})
	_, err := h.Handle(context.Background(), webhookItem(), nil)
	if err == nil {
		t.Fatal("expected network error")
	}
	if !IsTransient(err) {
		t.Fatalf("network error should be transient: %v", err)
	}
}

func TestWebhookMissingExternalRefPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	h := NewWebhookHandler(domain.ActionSendMessage, config.HandlerConfig{Endpoint: srv.URL})
	_, err := h.Handle(context.Background(), webhookItem(), nil)
	if err == nil || IsTransient(err) {
		t.Fatalf("missing external_ref should be permanent, got %v", err)
	}
}

func TestWebhookUndo(t *testing.T) {
	var undoPath string
	var undoBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		undoPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&undoBody)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	h := NewWebhookHandler(domain.ActionSendMessage, config.HandlerConfig{Endpoint: srv.URL + "/hook", Reversible: true})
	ok, err := h.Undo(context.Background(), "tok-1")
	if err != nil || !ok {
		t.Fatalf("undo: ok=%v err=%v", ok, err)
	}
	if undoPath != "/hook/undo" {
		t.Fatalf("undo path = %q", undoPath)
	}
	if undoBody["rollback_token"] != "tok-1" {
		t.Fatalf("undo body: %+v", undoBody)
	}

	h.Reversible = false
	ok, err = h.Undo(context.Background(), "tok-1")
	if err != nil || ok {
		t.Fatalf("irreversible undo should report false, got ok=%v err=%v", ok, err)
	}
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := config.Default("test")
	cfg.Handlers = map[string]config.HandlerConfig{
		domain.ActionSendMessage:     {Endpoint: "http://localhost:9/send", Reversible: true},
		domain.ActionScheduleMeeting: {Endpoint: "http://localhost:9/meet"},
	}
	reg, err := RegistryFromConfig(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if len(reg.Registered()) != 2 {
		t.Fatalf("registered: %v", reg.Registered())
	}
	if _, err := reg.Get(domain.ActionUpdateRecord); err == nil {
		t.Fatal("unconfigured action type should not resolve")
	}

	cfg.Handlers["bad-type"] = config.HandlerConfig{Endpoint: "http://localhost:9/x"}
	if _, err := RegistryFromConfig(cfg); err == nil {
		t.Fatal("unknown action type should fail registry build")
	}
}
