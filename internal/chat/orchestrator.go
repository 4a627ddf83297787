// Package chat ties the dispatcher to the conversation store: it keeps the
// active conversation, appends messages as they are sent and answered, and
// persists after every change.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatmux/internal/conversations"
	"chatmux/internal/dispatch"
	"chatmux/internal/providers"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("a message is already being answered")
	ErrNoMessages   = errors.New("current conversation has no messages")
	ErrMessageIndex = errors.New("message index out of range")
)

// Dispatcher is the part of dispatch.Dispatcher the orchestrator needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
	DispatchWithThinking(ctx context.Context, req dispatch.Request, onStep func(string)) (dispatch.Result, error)
	Snapshot() dispatch.Config
}

const persistTimeout = 5 * time.Second

type Config struct {
	Dispatcher Dispatcher
	Store      *conversations.Store
	Logger     zerolog.Logger
}

// State is a copy of the active conversation.
type State struct {
	ID       string
	Title    string
	Messages []conversations.Message
}

type Orchestrator struct {
	dispatcher Dispatcher
	store      *conversations.Store
	logger     zerolog.Logger

	mu        sync.Mutex
	busy      bool
	currentID string
	title     string
	messages  []conversations.Message
	webSearch bool
	thinking  bool
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		logger:     cfg.Logger.With().Str("component", "chat").Logger(),
	}
}

// EnableWebSearch arms web search for the next Submit only.
func (o *Orchestrator) EnableWebSearch(on bool) {
	o.mu.Lock()
	o.webSearch = on
	o.mu.Unlock()
}

// EnableThinking toggles the thinking sequence for every following Submit.
func (o *Orchestrator) EnableThinking(on bool) {
	o.mu.Lock()
	o.thinking = on
	o.mu.Unlock()
}

func (o *Orchestrator) WebSearchArmed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.webSearch
}

// Request is one send with its own toggles, independent of the armed flags.
type Request struct {
	Text      string
	WebSearch bool
	Thinking  bool
}

// Submit sends text to the selected provider and returns the assistant
// message that was appended. Provider failures do not surface as errors:
// they become an assistant message describing the failure. The web-search
// flag armed with EnableWebSearch is consumed by this call.
func (o *Orchestrator) Submit(ctx context.Context, text string, onThinking func(string)) (conversations.Message, error) {
	return o.submit(ctx, text, func() (bool, bool) {
		return o.webSearch, o.thinking
	}, onThinking)
}

// Send is Submit with the toggles taken from req. Concurrent callers, such as
// HTTP requests, use it so a rejected send cannot leave a toggle behind for
// the next one.
func (o *Orchestrator) Send(ctx context.Context, req Request, onThinking func(string)) (conversations.Message, error) {
	return o.submit(ctx, req.Text, func() (bool, bool) {
		return req.WebSearch, req.Thinking
	}, onThinking)
}

// submit runs one exchange. toggles is called with o.mu held, once the send
// is known to go ahead.
func (o *Orchestrator) submit(ctx context.Context, text string, toggles func() (webSearch, thinking bool), onThinking func(string)) (conversations.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversations.Message{}, ErrEmptyMessage
	}

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return conversations.Message{}, ErrBusy
	}
	o.busy = true
	webSearch, thinking := toggles()
	o.webSearch = false
	o.messages = append(o.messages, conversations.NewMessage(conversations.RoleUser, text, o.store.Now()))
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()

	o.persist(ctx)

	provider := o.dispatcher.Snapshot().Provider
	req := dispatch.Request{Text: text, WebSearch: webSearch}
	var (
		res dispatch.Result
		err error
	)
	if thinking {
		res, err = o.dispatcher.DispatchWithThinking(ctx, req, onThinking)
	} else {
		res, err = o.dispatcher.Dispatch(ctx, req)
	}

	content := res.Text
	if err != nil {
		content = ErrorBanner(provider, err)
	}
	reply := conversations.NewMessage(conversations.RoleAssistant, content, o.store.Now())

	o.mu.Lock()
	o.messages = append(o.messages, reply)
	o.mu.Unlock()

	o.persist(ctx)
	return reply, nil
}

// persist writes the active conversation. The first write of a new
// conversation assigns its id and title. The write outlives a cancelled
// caller so the stored thread matches what was shown. Store failures are
// logged; the in-memory conversation stays usable.
func (o *Orchestrator) persist(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	o.mu.Lock()
	rec := conversations.Record{ID: o.currentID, Title: o.title, Messages: slices.Clone(o.messages)}
	o.mu.Unlock()

	saved, err := o.store.Upsert(ctx, rec, true)
	if err != nil {
		o.logger.Error().Err(err).Str("id", rec.ID).Msg("persist conversation")
		return
	}

	o.mu.Lock()
	o.currentID, o.title = saved.ID, saved.Title
	o.mu.Unlock()
}

// ErrorBanner renders a dispatch failure as assistant text. Connectivity
// failures get a checklist; the Ollama line only shows for the local provider.
func ErrorBanner(provider providers.ProviderID, err error) string {
	if providers.KindOf(err) != providers.KindConnectivity {
		return "❌ Error: " + err.Error()
	}
	var b strings.Builder
	b.WriteString("❌ Network request failed, please check:\n")
	b.WriteString("1. Is the API key correct\n")
	b.WriteString("2. Is the API URL correct\n")
	b.WriteString("3. Is the network connection working\n")
	if provider == providers.Ollama {
		b.WriteString("4. Is the Ollama service started\n")
	}
	fmt.Fprintf(&b, "\nDetails: %s", err.Error())
	return b.String()
}

// NewConversation clears the active conversation. Nothing is stored until
// the first message is sent.
func (o *Orchestrator) NewConversation() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return ErrBusy
	}
	o.reset()
	return nil
}

func (o *Orchestrator) reset() {
	o.currentID, o.title, o.messages = "", "", nil
}

// Open makes a stored conversation the active one.
func (o *Orchestrator) Open(ctx context.Context, id string) (State, error) {
	rec, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return State{}, err
	}
	if !ok {
		return State{}, conversations.ErrNotFound
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return State{}, ErrBusy
	}
	o.currentID, o.title, o.messages = rec.ID, rec.Title, slices.Clone(rec.Messages)
	return o.stateLocked(), nil
}

func (o *Orchestrator) Current() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Orchestrator) Messages() []conversations.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.messages)
}

func (o *Orchestrator) stateLocked() State {
	return State{ID: o.currentID, Title: o.title, Messages: slices.Clone(o.messages)}
}

// Delete removes a stored conversation. Deleting the active one starts a
// fresh conversation.
func (o *Orchestrator) Delete(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	if o.busy && id == o.currentID {
		o.mu.Unlock()
		return false, ErrBusy
	}
	o.mu.Unlock()

	removed, err := o.store.Remove(ctx, id)
	if err != nil {
		return false, err
	}

	o.mu.Lock()
	if id == o.currentID {
		o.reset()
	}
	o.mu.Unlock()
	return removed, nil
}

// RenameCurrent retitles the active conversation, creating its record from
// the messages shown so far if it was never stored.
func (o *Orchestrator) RenameCurrent(ctx context.Context, title string) (State, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return State{}, ErrBusy
	}
	id, pending := o.currentID, slices.Clone(o.messages)
	o.mu.Unlock()

	rec, err := o.store.Rename(ctx, id, title, pending)
	if err != nil {
		return State{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.currentID, o.title = rec.ID, rec.Title
	return o.stateLocked(), nil
}

// ExportCurrent renders the active conversation without reading it back
// from the store.
func (o *Orchestrator) ExportCurrent(format conversations.Format) (conversations.Export, error) {
	o.mu.Lock()
	rec := conversations.Record{ID: o.currentID, Title: o.title, Messages: slices.Clone(o.messages)}
	o.mu.Unlock()

	if len(rec.Messages) == 0 {
		return conversations.Export{}, ErrNoMessages
	}
	if rec.Title == "" {
		rec.Title = conversations.AutoTitle(rec.Messages[0].Content)
	}
	return conversations.Render(rec, format)
}

// EditMessage replaces the content of message idx in place and stores the
// conversation again. Role and time label are kept.
func (o *Orchestrator) EditMessage(ctx context.Context, idx int, content string) (State, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return State{}, ErrBusy
	}
	if idx < 0 || idx >= len(o.messages) {
		o.mu.Unlock()
		return State{}, fmt.Errorf("%w: %d", ErrMessageIndex, idx)
	}
	o.messages[idx].Content = content
	rec := conversations.Record{ID: o.currentID, Title: o.title, Messages: slices.Clone(o.messages)}
	o.mu.Unlock()

	saved, err := o.store.Upsert(ctx, rec, false)
	if err != nil {
		return State{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.currentID, o.title = saved.ID, saved.Title
	return o.stateLocked(), nil
}
