package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/provider"
)

// Submission and configuration errors.
var (
	// ErrStreamInFlight rejects a submission while another is streaming.
	ErrStreamInFlight = errors.New("a response is already streaming")
	// ErrEmptySubmission rejects a submission with neither text nor file.
	ErrEmptySubmission = errors.New("nothing to submit")
	// ErrUnknownProvider rejects selection of an unconfigured backend.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrAttachmentTooLarge rejects payloads above the intake bound.
	ErrAttachmentTooLarge = errors.New("attachment exceeds the 4 MiB limit")
	// ErrAttachmentsUnsupported rejects attachments on a backend without
	// attachment support.
	ErrAttachmentsUnsupported = errors.New("the active provider does not support attachments")
)

// QuotaMessage is the user-facing text for rate-limited provider failures.
// All other provider errors surface their raw message.
const QuotaMessage = "quota exceeded, please try again later"

const (
	persistTimeout = 10 * time.Second
	enrichTimeout  = 30 * time.Second
)

// EventKind labels manager notifications.
type EventKind int

const (
	// EventTurnUpdated fires for every applied chunk and on submission.
	EventTurnUpdated EventKind = iota
	// EventTurnCommitted fires when a turn settles.
	EventTurnCommitted
	// EventTurnFailed fires when the provider aborts a turn.
	EventTurnFailed
	// EventCancelled fires when the user stops a stream.
	EventCancelled
	// EventTurnEnriched fires when an enrichment result lands on a turn.
	EventTurnEnriched
	// EventWarning fires for non-fatal collaborator failures.
	EventWarning
)

// Event is a wake-up notification for render surfaces. Events carry no turn
// data; subscribers read state through Snapshot. The channel is buffered and
// lossy, which is safe because Snapshot is always complete.
type Event struct {
	Kind    EventKind
	TurnID  uuid.UUID
	Message string
}

// Snapshot is a consistent copy of the visible conversation state.
type Snapshot struct {
	Turns      []Turn
	State      TurnState
	Err        string
	Provider   string
	Deep       bool
	Attachment *provider.Attachment
}

// Config assembles a Manager.
type Config struct {
	// Providers maps backend names to adapters. Required, non-empty.
	Providers map[string]provider.Provider
	// Active names the initially selected provider. Required.
	Active string
	// WorkspaceID binds committed turns to a workspace. Optional.
	WorkspaceID uuid.UUID

	History   HistoryStore // optional
	Suggester Suggester    // optional
	Images    ImageFinder  // optional
	Summaries Summarizer   // optional

	Logger log.Logger
}

// Manager owns one visible conversation: the turn list, the single in-flight
// stream, cancellation, and the enrichment fan-out. All exported methods are
// safe for concurrent use; Submit never blocks on network I/O.
type Manager struct {
	mu sync.Mutex

	providers map[string]provider.Provider
	active    string
	deep      bool

	attachment  *provider.Attachment
	workspaceID uuid.UUID

	history   HistoryStore
	suggester Suggester
	images    ImageFinder
	summaries Summarizer

	// conv is the bound multi-turn handle; nil forces a new session on the
	// next submission. convProvider records which backend it belongs to.
	conv         provider.Conversation
	convProvider string

	turns   []*Turn
	pending *Turn
	state   TurnState
	lastErr string

	// cancelled freezes the pending turn: once set, no chunk, enrichment
	// result, or persistence may touch it.
	cancelled bool

	// generation identifies the current session binding. It is bumped when
	// the visible turn list is torn down (new chat, history load) so stale
	// stream chunks and enrichment results are dropped silently.
	generation uint64

	cancelStream context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	tasks      sync.WaitGroup

	events chan Event
	logger log.Logger
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if _, ok := cfg.Providers[cfg.Active]; !ok {
		return nil, ErrUnknownProvider
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		providers:   cfg.Providers,
		active:      cfg.Active,
		workspaceID: cfg.WorkspaceID,
		history:     cfg.History,
		suggester:   cfg.Suggester,
		images:      cfg.Images,
		summaries:   cfg.Summaries,
		baseCtx:     ctx,
		baseCancel:  cancel,
		events:      make(chan Event, 128),
		logger:      logger,
	}, nil
}

// Close cancels any in-flight work and waits for background tasks to finish.
func (m *Manager) Close() {
	m.baseCancel()
	m.tasks.Wait()
}

// Events returns the notification channel. Notifications may be dropped under
// load; consumers must treat them as hints to call Snapshot.
func (m *Manager) Events() <-chan Event { return m.events }

// Snapshot returns a deep copy of the visible state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := make([]Turn, len(m.turns))
	for i, t := range m.turns {
		turns[i] = t.clone()
	}

	snap := Snapshot{
		Turns:    turns,
		State:    m.state,
		Err:      m.lastErr,
		Provider: m.active,
		Deep:     m.deep,
	}
	if m.attachment != nil {
		att := *m.attachment
		snap.Attachment = &att
	}
	return snap
}

// Provider returns the active backend name.
func (m *Manager) Provider() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Submit starts one question/answer exchange. It is rejected while another
// exchange is in flight or when both query and attachment are empty. The
// stream runs in the background; progress is observable through Events and
// Snapshot.
func (m *Manager) Submit(query string) error {
	m.mu.Lock()

	if m.state.Busy() {
		m.mu.Unlock()
		return ErrStreamInFlight
	}

	att := m.attachment
	if strings.TrimSpace(query) == "" && att == nil {
		m.mu.Unlock()
		return ErrEmptySubmission
	}

	prov := m.providers[m.active]
	caps := prov.Capabilities()
	if att != nil && !caps.Attachments {
		m.mu.Unlock()
		return ErrAttachmentsUnsupported
	}

	// New session vs continuation: no binding, binding from another
	// provider, or (plain backend) an empty visible list.
	conv := m.conv
	newSession := conv == nil || m.convProvider != m.active
	if !caps.Grounding && len(m.turns) == 0 {
		newSession = true
	}
	if newSession {
		conv = nil
	}
	opts := provider.Options{Deep: m.deep && caps.DeepMode}

	m.attachment = nil // consumed by this submission

	userTurn := &Turn{ID: uuid.New(), Role: RoleUser, Content: query, Attachment: att}
	pending := &Turn{ID: uuid.New(), Role: RoleModel}
	m.turns = append(m.turns, userTurn, pending)
	m.pending = pending
	m.cancelled = false
	m.state = StateSubmitted
	m.lastErr = ""

	streamCtx, cancel := context.WithCancel(m.baseCtx)
	m.cancelStream = cancel
	gen := m.generation
	pendingID := pending.ID

	m.tasks.Add(1)
	m.mu.Unlock()

	m.emit(Event{Kind: EventTurnUpdated, TurnID: pendingID})

	req := provider.Request{Query: query, Attachment: att}
	go m.run(streamCtx, gen, prov, conv, opts, newSession, req, pendingID)
	return nil
}

// Stop freezes the in-flight turn. Idempotent; no-op when nothing streams.
// The partially accumulated content stays visible, nothing further may touch
// it, and no history record is written.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.state.Busy() {
		m.mu.Unlock()
		return
	}
	m.cancelled = true
	m.state = StateCancelled
	m.pending = nil
	cancel := m.cancelStream
	m.cancelStream = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.emit(Event{Kind: EventCancelled})
}

// SelectProvider switches the active backend. An in-flight stream is not
// cancelled, but the session binding resets so the next submission starts a
// new session. Leaving a plain-chat session with visible turns discards the
// turn list, since that backend cannot rebind them.
func (m *Manager) SelectProvider(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := m.providers[name]
	if !ok {
		return ErrUnknownProvider
	}
	if name == m.active {
		return nil
	}

	if cur := m.providers[m.active]; cur != nil && !cur.Capabilities().Grounding &&
		len(m.turns) > 0 && m.pending == nil {
		m.turns = nil
		m.state = StateIdle
		m.lastErr = ""
	}

	m.active = name
	m.conv = nil
	m.convProvider = ""

	if m.attachment != nil && !next.Capabilities().Attachments {
		m.attachment = nil
	}
	if m.deep && !next.Capabilities().DeepMode {
		m.deep = false
	}
	return nil
}

// SetDeep toggles grounded deep-research mode. It is forced off on backends
// without DeepMode. A mode change resets session continuation for the next
// submission without touching in-flight work.
func (m *Manager) SetDeep(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if on && !m.providers[m.active].Capabilities().DeepMode {
		on = false
	}
	if on == m.deep {
		return
	}
	m.deep = on
	m.conv = nil
	m.convProvider = ""
}

// Attach stages an already-validated file for the next submission and resets
// session continuation.
func (m *Manager) Attach(att provider.Attachment) error {
	if len(att.Data) > provider.MaxAttachmentSize {
		return ErrAttachmentTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.providers[m.active].Capabilities().Attachments {
		return ErrAttachmentsUnsupported
	}
	m.attachment = &att
	m.conv = nil
	m.convProvider = ""
	return nil
}

// Detach removes the staged attachment and resets session continuation for
// the next submission. An in-flight stream is unaffected.
func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachment = nil
	m.conv = nil
	m.convProvider = ""
}

// NewChat tears the session down: the visible list clears, any in-flight
// stream's remaining chunks and pending enrichment results are dropped.
func (m *Manager) NewChat() {
	m.mu.Lock()
	m.generation++
	m.turns = nil
	m.pending = nil
	m.conv = nil
	m.convProvider = ""
	m.attachment = nil
	m.cancelled = false
	m.state = StateIdle
	m.lastErr = ""
	cancel := m.cancelStream
	m.cancelStream = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Load replaces the visible list with turns from a history record, tearing
// down the current session. The next submission starts a new session.
func (m *Manager) Load(turns []Turn) {
	m.mu.Lock()
	m.generation++
	m.turns = make([]*Turn, len(turns))
	for i := range turns {
		t := turns[i].clone()
		m.turns[i] = &t
	}
	m.pending = nil
	m.conv = nil
	m.convProvider = ""
	m.attachment = nil
	m.cancelled = false
	m.state = StateIdle
	m.lastErr = ""
	cancel := m.cancelStream
	m.cancelStream = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// run drives one stream end to end. It owns no state directly; every apply
// goes through a generation- and cancellation-checked method.
func (m *Manager) run(ctx context.Context, gen uint64, prov provider.Provider,
	conv provider.Conversation, opts provider.Options, newSession bool,
	req provider.Request, pendingID uuid.UUID) {
	defer m.tasks.Done()

	if conv == nil {
		opened, err := prov.Open(ctx, opts)
		if err != nil {
			m.failTurn(gen, pendingID, err)
			return
		}
		conv = opened
		m.bindConversation(gen, prov.Name(), opened)
	}

	m.markStreaming(gen, pendingID)

	for ch, err := range conv.Send(ctx, req) {
		if err != nil {
			m.failTurn(gen, pendingID, err)
			return
		}
		if !m.applyChunk(gen, pendingID, ch) {
			// Cancelled or superseded: stop pulling so the adapter can
			// release the stream.
			return
		}
	}

	m.finish(gen, pendingID, newSession, req.Query, prov.Name(), opts.Deep)
}

func (m *Manager) bindConversation(gen uint64, name string, conv provider.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A provider switch while Open was in flight means this binding is for
	// the previous backend; the next submission must open its own session.
	if gen != m.generation || name != m.active {
		return
	}
	m.conv = conv
	m.convProvider = name
}

func (m *Manager) markStreaming(gen uint64, pendingID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.pending == nil || m.pending.ID != pendingID {
		return
	}
	if m.state == StateSubmitted {
		m.state = StateStreaming
	}
}

// applyChunk folds one chunk into the pending turn. It returns false when the
// turn is frozen or gone, which tells run to stop pulling.
func (m *Manager) applyChunk(gen uint64, pendingID uuid.UUID, ch provider.Chunk) bool {
	m.mu.Lock()
	if gen != m.generation || m.cancelled || m.pending == nil || m.pending.ID != pendingID {
		m.mu.Unlock()
		return false
	}

	m.pending.Content += ch.TextDelta
	m.pending.Sources = MergeSources(m.pending.Sources, ch.Sources)
	m.pending.Citations = MergeCitations(m.pending.Citations, ch.Citations)
	m.mu.Unlock()

	m.emit(Event{Kind: EventTurnUpdated, TurnID: pendingID})
	return true
}

// finish commits the pending turn: extract the trailing table, freeze the
// turn, persist it when it opened a new session, then fan out enrichment.
// providerName and deep were captured at submission, so a provider switch
// during the stream does not mislabel the record.
func (m *Manager) finish(gen uint64, pendingID uuid.UUID, newSession bool,
	query, providerName string, deep bool) {
	m.mu.Lock()
	if gen != m.generation || m.cancelled || m.pending == nil || m.pending.ID != pendingID {
		m.mu.Unlock()
		return
	}

	m.state = StateCommitting
	remaining, table := ExtractTable(m.pending.Content)
	m.pending.Content = remaining
	m.pending.Table = table

	committed := m.pending.clone()
	m.pending = nil
	m.cancelStream = nil
	m.state = StateCommitted

	workspaceID := m.workspaceID
	m.mu.Unlock()

	m.emit(Event{Kind: EventTurnCommitted, TurnID: committed.ID})

	if !newSession {
		return
	}

	if m.history != nil {
		ctx, cancel := context.WithTimeout(m.baseCtx, persistTimeout)
		err := m.history.Insert(ctx, HistoryEntry{
			ID:          committed.ID,
			WorkspaceID: workspaceID,
			Provider:    providerName,
			Deep:        deep,
			Query:       query,
			Turn:        committed,
		})
		cancel()
		if err != nil {
			// Non-fatal: the answer stays on screen.
			m.logger.Warn("history insert failed", "turn_id", committed.ID, "error", err)
			m.emit(Event{Kind: EventWarning, TurnID: committed.ID, Message: "could not save to history"})
		}
	}

	m.dispatch(gen, committed)
}

// failTurn discards the pending placeholder and surfaces the error message.
// Rate-limit failures get the dedicated quota text.
func (m *Manager) failTurn(gen uint64, pendingID uuid.UUID, err error) {
	if errors.Is(err, context.Canceled) {
		// Cooperative cancellation is not an error.
		return
	}

	m.mu.Lock()
	if gen != m.generation || m.cancelled || m.pending == nil || m.pending.ID != pendingID {
		m.mu.Unlock()
		return
	}

	kept := m.turns[:0]
	for _, t := range m.turns {
		if t.ID != pendingID {
			kept = append(kept, t)
		}
	}
	m.turns = kept
	m.pending = nil
	m.cancelStream = nil
	m.state = StateErrored

	msg := err.Error()
	if pe, ok := provider.AsError(err); ok {
		if pe.Kind == provider.KindRateLimited {
			msg = QuotaMessage
		} else {
			msg = pe.Message
		}
	}
	m.lastErr = msg
	m.mu.Unlock()

	m.logger.Error("stream failed", "turn_id", pendingID, "error", err)
	m.emit(Event{Kind: EventTurnFailed, Message: msg})
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// Dropped notifications are fine; Snapshot carries the full state.
	}
}
