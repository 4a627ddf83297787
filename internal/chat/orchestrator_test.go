package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatmux/internal/conversations"
	"chatmux/internal/dispatch"
	"chatmux/internal/metrics"
	"chatmux/internal/providers"
	"chatmux/internal/storage"
)

const remoteOK = `{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`

type recorder struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (r *recorder) last() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[len(r.payloads)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func fakeProvider(t *testing.T, status int, body string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		_ = json.NewDecoder(r.Body).Decode(&p)
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, p)
		rec.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestOrchestrator(t *testing.T, cfg dispatch.Config) (*Orchestrator, *conversations.Store) {
	t.Helper()
	d := dispatch.New(cfg, dispatch.Options{
		Logger:     zerolog.Nop(),
		Metrics:    metrics.New(),
		ThinkDelay: time.Millisecond,
	})
	store := conversations.New(conversations.Config{
		KV:      storage.NewMemoryStore(),
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(),
	})
	return New(Config{Dispatcher: d, Store: store, Logger: zerolog.Nop()}), store
}

func TestSubmitCreatesConversation(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, remoteOK)
	o, store := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "sk-test", BaseURL: srv.URL})
	ctx := context.Background()

	reply, err := o.Submit(ctx, "  Hello  ", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if reply.Role != conversations.RoleAssistant || reply.Content != "pong" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	cur := o.Current()
	if cur.ID == "" || cur.Title != "Hello" {
		t.Fatalf("unexpected current state %+v", cur)
	}
	rec, ok, err := store.Get(ctx, cur.ID)
	if err != nil || !ok {
		t.Fatalf("expected stored conversation, ok=%v err=%v", ok, err)
	}
	if rec.Title != "Hello" || len(rec.Messages) != 2 {
		t.Fatalf("unexpected stored record %+v", rec)
	}
	if rec.Messages[0].Role != conversations.RoleUser || rec.Messages[0].Content != "Hello" {
		t.Fatalf("unexpected first message %+v", rec.Messages[0])
	}

	if _, err := o.Submit(ctx, "again", nil); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	all, _ := store.List(ctx)
	if len(all) != 1 || len(all[0].Messages) != 4 {
		t.Fatalf("follow-up must extend the same conversation, got %+v", all)
	}
}

func TestSubmitLongMessageTitle(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, remoteOK)
	o, _ := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})

	text := strings.Repeat("x", 30)
	if _, err := o.Submit(context.Background(), text, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if want := strings.Repeat("x", 20) + "..."; o.Current().Title != want {
		t.Fatalf("expected %q, got %q", want, o.Current().Title)
	}
}

func TestSubmitEmptyMessage(t *testing.T) {
	srv, rec := fakeProvider(t, http.StatusOK, remoteOK)
	o, store := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})

	if _, err := o.Submit(context.Background(), "   \n", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("provider must not be called")
	}
	if all, _ := store.List(context.Background()); len(all) != 0 {
		t.Fatalf("nothing should be stored, got %d records", len(all))
	}
}

func TestSubmitProviderErrorBecomesMessage(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusUnauthorized, `{"error":"invalid key"}`)
	o, store := newTestOrchestrator(t, dispatch.Config{Provider: providers.DeepSeek, APIKey: "bad", BaseURL: srv.URL})
	ctx := context.Background()

	reply, err := o.Submit(ctx, "hi", nil)
	if err != nil {
		t.Fatalf("provider failures must not be returned: %v", err)
	}
	if !strings.HasPrefix(reply.Content, "❌ Error: ") || !strings.Contains(reply.Content, "401") {
		t.Fatalf("unexpected banner %q", reply.Content)
	}
	if strings.Contains(reply.Content, "Ollama") {
		t.Fatalf("generic banner must not mention Ollama: %q", reply.Content)
	}
	rec, _, _ := store.Get(ctx, o.Current().ID)
	if len(rec.Messages) != 2 || rec.Messages[1].Content != reply.Content {
		t.Fatalf("error message should be stored, got %+v", rec.Messages)
	}
}

func TestSubmitLocalConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	o, _ := newTestOrchestrator(t, dispatch.Config{Provider: providers.Ollama, LocalBaseURL: addr})
	reply, err := o.Submit(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, want := range []string{"❌ Network request failed", "4. Is the Ollama service started", "Details: ", "is the local Ollama service started?"} {
		if !strings.Contains(reply.Content, want) {
			t.Fatalf("banner missing %q:\n%s", want, reply.Content)
		}
	}
}

func TestErrorBannerRemoteConnectivity(t *testing.T) {
	err := &providers.ConnectivityError{Provider: providers.Kimi, Err: errors.New("dial tcp: refused")}
	got := ErrorBanner(providers.Kimi, err)
	if !strings.Contains(got, "3. Is the network connection working\n\nDetails: ") {
		t.Fatalf("unexpected banner %q", got)
	}
	if strings.Contains(got, "Ollama") {
		t.Fatalf("remote banner must not mention Ollama: %q", got)
	}
}

func TestWebSearchIsOneShot(t *testing.T) {
	srv, rec := fakeProvider(t, http.StatusOK, remoteOK)
	o, _ := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})
	ctx := context.Background()

	o.EnableWebSearch(true)
	reply, err := o.Submit(ctx, "news", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, ok := rec.last()["plugins"]; !ok {
		t.Fatalf("first send should carry the search toggle: %v", rec.last())
	}
	if !strings.Contains(reply.Content, "Search results") {
		t.Fatalf("expected search banner, got %q", reply.Content)
	}
	if o.WebSearchArmed() {
		t.Fatalf("web search must be disarmed after one send")
	}

	if _, err := o.Submit(ctx, "more", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, ok := rec.last()["plugins"]; ok {
		t.Fatalf("second send must not search: %v", rec.last())
	}
}

func TestWebSearchDisarmedAfterFailure(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusInternalServerError, "boom")
	o, _ := newTestOrchestrator(t, dispatch.Config{Provider: providers.Kimi, APIKey: "k", BaseURL: srv.URL})

	o.EnableWebSearch(true)
	if _, err := o.Submit(context.Background(), "news", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.WebSearchArmed() {
		t.Fatalf("web search must be disarmed even when the send fails")
	}
}

func TestThinkingStepsAreReported(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, remoteOK)
	o, _ := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})
	o.EnableThinking(true)

	var steps []string
	reply, err := o.Submit(context.Background(), "think", func(s string) { steps = append(steps, s) })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(steps) != len(dispatch.ThinkingSteps) {
		t.Fatalf("expected %d steps, got %v", len(dispatch.ThinkingSteps), steps)
	}
	if reply.Content != "pong" {
		t.Fatalf("unexpected reply %q", reply.Content)
	}
}

func TestSubmitWhileBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		_, _ = io.WriteString(w, remoteOK)
	}))
	t.Cleanup(srv.Close)

	o, _ := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})
	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "first", nil)
		done <- err
	}()
	<-entered

	if _, err := o.Submit(context.Background(), "second", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := o.NewConversation(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from NewConversation, got %v", err)
	}
	if _, err := o.RenameCurrent(context.Background(), "racing title"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from RenameCurrent, got %v", err)
	}
	if _, err := o.Send(context.Background(), Request{Text: "third", WebSearch: true}, nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from Send, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if len(o.Messages()) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(o.Messages()))
	}
	if o.WebSearchArmed() {
		t.Fatalf("a rejected send must not arm web search")
	}
}

func TestOpenDeleteRename(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, remoteOK)
	o, store := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})
	ctx := context.Background()

	if _, err := o.Submit(ctx, "first topic", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	firstID := o.Current().ID

	if err := o.NewConversation(); err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	if o.Current().ID != "" || len(o.Messages()) != 0 {
		t.Fatalf("expected a blank conversation")
	}

	state, err := o.Open(ctx, firstID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if state.Title != "first topic" || len(state.Messages) != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	if _, err := o.Open(ctx, "nope"); !errors.Is(err, conversations.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	state, err = o.RenameCurrent(ctx, "Renamed")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if state.Title != "Renamed" {
		t.Fatalf("unexpected title %q", state.Title)
	}
	if _, err := o.RenameCurrent(ctx, " "); !errors.Is(err, conversations.ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}

	removed, err := o.Delete(ctx, firstID)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if o.Current().ID != "" {
		t.Fatalf("deleting the active conversation should reset it")
	}
	if all, _ := store.List(ctx); len(all) != 0 {
		t.Fatalf("expected empty store, got %d", len(all))
	}
}

func TestEditMessageAndExportCurrent(t *testing.T) {
	srv, _ := fakeProvider(t, http.StatusOK, remoteOK)
	o, store := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})
	ctx := context.Background()

	if _, err := o.ExportCurrent(conversations.FormatMarkdown); !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
	if _, err := o.Submit(ctx, "Hi", nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := o.EditMessage(ctx, 5, "x"); !errors.Is(err, ErrMessageIndex) {
		t.Fatalf("expected ErrMessageIndex, got %v", err)
	}
	state, err := o.EditMessage(ctx, 1, "edited answer")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if state.Messages[1].Content != "edited answer" || state.Messages[1].Role != conversations.RoleAssistant {
		t.Fatalf("unexpected edited message %+v", state.Messages[1])
	}
	rec, _, _ := store.Get(ctx, state.ID)
	if rec.Messages[1].Content != "edited answer" {
		t.Fatalf("edit not persisted: %+v", rec.Messages)
	}

	exp, err := o.ExportCurrent(conversations.FormatText)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exp.Filename != "Hi.txt" || !strings.Contains(exp.Body, "Assistant (") || !strings.Contains(exp.Body, "edited answer") {
		t.Fatalf("unexpected export %+v", exp)
	}
}

func TestSendUsesItsOwnToggles(t *testing.T) {
	srv, rec := fakeProvider(t, http.StatusOK, remoteOK)
	o, _ := newTestOrchestrator(t, dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL})
	ctx := context.Background()

	var steps int
	reply, err := o.Send(ctx, Request{Text: "news", WebSearch: true, Thinking: true}, func(string) { steps++ })
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := rec.last()["plugins"]; !ok || !strings.Contains(reply.Content, "Search results") {
		t.Fatalf("expected a search send, got payload %v reply %q", rec.last(), reply.Content)
	}
	if steps != len(dispatch.ThinkingSteps) {
		t.Fatalf("expected thinking steps, got %d", steps)
	}

	if _, err := o.Send(ctx, Request{Text: "plain"}, func(string) { steps++ }); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := rec.last()["plugins"]; ok {
		t.Fatalf("toggles must not carry over between sends: %v", rec.last())
	}
	if steps != len(dispatch.ThinkingSteps) {
		t.Fatalf("thinking must not carry over between sends, got %d steps", steps)
	}
}

func TestCancelledSendIsStillStored(t *testing.T) {
	srv, rec := fakeProvider(t, http.StatusOK, remoteOK)
	kv, err := storage.Open(context.Background(), "sqlite", "file:"+filepath.Join(t.TempDir(), "chat.db"), true)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	d := dispatch.New(dispatch.Config{Provider: providers.Qwen, APIKey: "k", BaseURL: srv.URL}, dispatch.Options{
		Logger:     zerolog.Nop(),
		Metrics:    metrics.New(),
		ThinkDelay: time.Millisecond,
	})
	store := conversations.New(conversations.Config{KV: kv, Logger: zerolog.Nop(), Metrics: metrics.New()})
	o := New(Config{Dispatcher: d, Store: store, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reply, err := o.Send(ctx, Request{Text: "left early", Thinking: true}, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(reply.Content, context.Canceled.Error()) {
		t.Fatalf("expected a cancellation banner, got %q", reply.Content)
	}
	if rec.count() != 0 {
		t.Fatalf("a cancelled send must not reach the provider")
	}

	stored, ok, err := store.Get(context.Background(), o.Current().ID)
	if err != nil || !ok {
		t.Fatalf("expected stored conversation, ok=%v err=%v", ok, err)
	}
	if len(stored.Messages) != 2 || stored.Messages[1].Content != reply.Content {
		t.Fatalf("stored thread must match the shown one, got %+v", stored.Messages)
	}

	exp, err := store.Export(context.Background(), stored.ID, conversations.FormatMarkdown)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(exp.Body, reply.Content) {
		t.Fatalf("export is missing the banner:\n%s", exp.Body)
	}
}
