package vcdiagram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultExportTimeout is how long ExportRequest waits for the surface.
const DefaultExportTimeout = 10 * time.Second

// Surface is the rendering side of a session: it displays documents and, when
// asked, serializes what it currently shows. An export answer arrives later
// through Session.ResolveExport with the same request id.
type Surface interface {
	Display(xml string) error
	RequestExport(requestID string) error
}

// HistoryStore persists committed history entries. Failures are logged and
// do not fail the session operation.
type HistoryStore interface {
	Append(ctx context.Context, snap Snapshot) error
	Reset(ctx context.Context) error
}

type Option func(*Session)

// WithExportTimeout overrides DefaultExportTimeout.
func WithExportTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.exportTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithHistoryStore(store HistoryStore) Option {
	return func(s *Session) {
		s.store = store
	}
}

// WithHistory seeds the history, typically from a HistoryStore on restart.
func WithHistory(history []Snapshot) Option {
	return func(s *Session) {
		s.history = append([]Snapshot(nil), history...)
	}
}

type exportRequest struct {
	id     string
	result chan string
}

// Session owns the diagram a conversation is working on: the current
// document, the history of documents it replaced and the export handshake
// with the rendering surface.
//
// Display, Load, Edit, Clear and Restore run one at a time. Edit keeps that
// exclusivity across its export, so nothing is loaded between reading the
// diagram and writing the edited one back.
type Session struct {
	surface       Surface
	store         HistoryStore
	logger        *slog.Logger
	exportTimeout time.Duration
	now           func() time.Time

	opMu sync.Mutex // serializes document-changing operations

	mu            sync.Mutex // guards the fields below
	current       *Document
	currentSource Source
	history       []Snapshot
	pending       *exportRequest
	lastFragment  string
	streamBase    *Document // document from before the stream in progress, nil when idle
	streamSource  Source
}

// NewSession starts a session on the canonical empty document.
func NewSession(surface Surface, opts ...Option) *Session {
	s := &Session{
		surface:       surface,
		logger:        slog.Default(),
		exportTimeout: DefaultExportTimeout,
		now:           time.Now,
		current:       EmptyDocument(),
		currentSource: SourceLoad,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "session"))
	return s
}

// Load replaces the current document. The document it replaces goes to
// history unless it is equal to doc or is the empty document.
func (s *Session) Load(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("load: %w", &MalformedDocumentError{Offset: -1, Reason: "nil document"})
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	_, err := s.commit(doc.Clone(), SourceLoad, true)
	return err
}

// Clear returns the session to the empty document and forgets its history.
func (s *Session) Clear() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	empty := EmptyDocument()
	s.mu.Lock()
	s.current = empty
	s.currentSource = SourceLoad
	s.history = nil
	s.lastFragment = ""
	s.streamBase = nil
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Reset(context.Background()); err != nil {
			s.logger.Warn("history reset failed", slog.Any("error", err))
		}
	}
	s.logger.Info("diagram cleared")
	return s.show(empty)
}

// Display reconciles a diagram fragment produced by the model into the
// current document.
//
// Frames with final == false are streaming previews: they update the current
// document and the surface but leave history alone. The final frame commits
// the document from before the stream to history, so a whole tool call
// yields one entry.
//
// It reports whether the current document changed. A fragment that cannot be
// normalized leaves the session untouched and returns the
// *MalformedDocumentError, which callers treat as "no update".
func (s *Session) Display(fragment string, final bool) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	incoming, err := Normalize(fragment)
	if err != nil {
		s.logger.Debug("fragment rejected", slog.Bool("final", final), slog.Any("error", err))
		if final {
			s.finishStream()
		}
		return false, err
	}
	normalized := incoming.String()

	s.mu.Lock()
	repeat := normalized == s.lastFragment
	s.lastFragment = normalized
	previous := s.current
	s.mu.Unlock()
	if repeat && !final {
		return false, nil
	}

	return s.commit(Reconcile(previous, incoming), SourceDisplay, final)
}

// ExportRequest asks the surface for its live document and waits for the
// answer. Only one request may be outstanding; a second fails at once with a
// *ConcurrentExportError. Without an answer within the export timeout it fails
// with an *ExportTimeoutError and the request is forgotten, so a late answer
// is ignored.
func (s *Session) ExportRequest(ctx context.Context) (string, error) {
	if s.surface == nil {
		return "", errors.New("request export: session has no surface")
	}
	s.mu.Lock()
	if s.pending != nil {
		pendingID := s.pending.id
		s.mu.Unlock()
		return "", &ConcurrentExportError{PendingID: pendingID}
	}
	req := &exportRequest{id: uuid.NewString(), result: make(chan string, 1)}
	s.pending = req
	s.mu.Unlock()

	if err := s.surface.RequestExport(req.id); err != nil {
		s.forget(req)
		return "", fmt.Errorf("request export: %w", err)
	}

	timer := time.NewTimer(s.exportTimeout)
	defer timer.Stop()
	select {
	case xml := <-req.result:
		return xml, nil
	case <-timer.C:
		if !s.forget(req) {
			return <-req.result, nil
		}
		s.logger.Warn("export timed out", slog.String("request_id", req.id), slog.Duration("after", s.exportTimeout))
		return "", &ExportTimeoutError{RequestID: req.id, After: s.exportTimeout}
	case <-ctx.Done():
		if !s.forget(req) {
			return <-req.result, nil
		}
		return "", ctx.Err()
	}
}

// ResolveExport delivers the surface's answer to the pending export request.
// It returns false, and does nothing, when requestID is not the pending one:
// the request timed out, was cancelled, or was never made.
func (s *Session) ResolveExport(requestID, xml string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.id != requestID {
		s.logger.Debug("stale export answer ignored", slog.String("request_id", requestID))
		return false
	}
	s.pending.result <- xml
	s.pending = nil
	return true
}

// PendingExport returns the id of the outstanding export request, if any.
func (s *Session) PendingExport() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.id, true
}

// forget clears the pending slot if it still holds req. False means an answer
// was already delivered to req.result.
func (s *Session) forget(req *exportRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != req {
		return false
	}
	s.pending = nil
	return true
}

// Edit applies a patch batch to the diagram the surface currently shows.
//
// The live document is exported and pretty-printed, which is the form the
// model is shown, and the edits are matched against that text. The result
// must parse as a complete document. On any failure nothing changes and
// EditResult.Current holds the text the edits were matched against.
func (s *Session) Edit(ctx context.Context, edits []EditOperation) (EditResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	exported, err := s.ExportRequest(ctx)
	if err != nil {
		return EditResult{}, err
	}
	current := FormatXML(exported)

	patched, err := ApplyEdits(current, edits)
	if err != nil {
		res := EditResult{Current: current}
		var editErr *EditError
		if errors.As(err, &editErr) {
			res.Applied = editErr.Applied
		}
		s.logger.Warn("edit batch rejected", slog.Int("edits", len(edits)), slog.Any("error", err))
		return res, err
	}

	doc, err := ParseDocument(patched)
	if err != nil {
		s.logger.Warn("edited diagram does not parse", slog.Any("error", err))
		return EditResult{Current: current}, fmt.Errorf("edited diagram: %w", err)
	}

	_, err = s.commit(doc, SourceEdit, true)
	return EditResult{Applied: len(edits), XML: doc.String(), Current: current}, err
}

// Restore loads the history entry at index. The entry stays in history.
func (s *Session) Restore(index int) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if index < 0 || index >= len(s.history) {
		n := len(s.history)
		s.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrHistoryIndex, index, n)
	}
	snap := s.history[index]
	s.mu.Unlock()

	doc, err := ParseDocument(snap.XML)
	if err != nil {
		return fmt.Errorf("restore %s: %w", snap.ID, err)
	}
	_, err = s.commit(doc, SourceRestore, true)
	return err
}

// History returns a copy of the committed entries, oldest first.
func (s *Session) History() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.history...)
}

// Current returns a copy of the current document.
func (s *Session) Current() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

func (s *Session) CurrentXML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.String()
}

// commit makes doc current. A non-final commit is a streaming preview and
// only remembers what it replaced; a final one records that in history.
// Callers hold opMu.
func (s *Session) commit(doc *Document, source Source, final bool) (bool, error) {
	s.mu.Lock()
	changed := !s.current.Equal(doc)
	if !final {
		if !changed {
			s.mu.Unlock()
			return false, nil
		}
		if s.streamBase == nil {
			s.streamBase, s.streamSource = s.current, s.currentSource
		}
		s.current, s.currentSource = doc, source
		s.mu.Unlock()
		return true, s.show(doc)
	}

	base, baseSource := s.current, s.currentSource
	if s.streamBase != nil {
		base, baseSource = s.streamBase, s.streamSource
		s.streamBase = nil
	}
	var snap *Snapshot
	if !base.IsEmpty() && !base.Equal(doc) {
		entry := s.snapshot(base, baseSource)
		s.history = append(s.history, entry)
		snap = &entry
	}
	s.current, s.currentSource = doc, source
	s.mu.Unlock()

	if snap != nil {
		s.persist(*snap)
		s.logger.Info("diagram committed",
			slog.String("source", string(source)),
			slog.String("changes", SummarizeOps(Diff(base, doc))))
	}
	if !changed {
		return snap != nil, nil
	}
	return true, s.show(doc)
}

// finishStream closes a stream that ended on an unusable frame, committing
// the pre-stream document the same way a final frame would.
func (s *Session) finishStream() {
	s.mu.Lock()
	doc, source, streaming := s.current, s.currentSource, s.streamBase != nil
	s.mu.Unlock()
	if !streaming {
		return
	}
	if _, err := s.commit(doc, source, true); err != nil {
		s.logger.Warn("display failed", slog.Any("error", err))
	}
}

func (s *Session) snapshot(doc *Document, source Source) Snapshot {
	xml := doc.String()
	return Snapshot{
		ID:        uuid.NewString(),
		XML:       xml,
		Hash:      hashString(xml),
		Source:    source,
		CreatedAt: s.now().UTC(),
	}
}

func (s *Session) persist(snap Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.Append(context.Background(), snap); err != nil {
		s.logger.Warn("history append failed", slog.String("snapshot", snap.ID), slog.Any("error", err))
	}
}

func (s *Session) show(doc *Document) error {
	if s.surface == nil {
		return nil
	}
	if err := s.surface.Display(doc.String()); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	return nil
}
