package lsp

import (
	"log/slog"
	"sync"
	"time"

	"spelld/internal/diag"
	"spelld/internal/settings"
)

// AnalyzeFunc checks document text against a resolved snapshot.
type AnalyzeFunc func(text, languageID string, st settings.Settings) ([]diag.Diagnostic, error)

// LoadSettingsFunc resolves the configuration for a document, merging the
// registered import files.
type LoadSettingsFunc func(uri string, importPaths []string) (settings.Settings, error)

// PublishFunc delivers diagnostics for a document version. An empty slice
// clears previously published diagnostics.
type PublishFunc func(uri string, version int, diags []diag.Diagnostic)

const (
	defaultStage1Delay     = 50 * time.Millisecond
	defaultStage2Delay     = 50 * time.Millisecond
	defaultInvalidateDelay = 100 * time.Millisecond
	defaultRevalidateDelay = 250 * time.Millisecond
)

// SchedulerOptions configures a Scheduler. Zero durations take the defaults;
// Analyze, LoadSettings and Publish are required.
type SchedulerOptions struct {
	Stage1Delay     time.Duration
	InvalidateDelay time.Duration
	RevalidateDelay time.Duration
	Analyze         AnalyzeFunc
	LoadSettings    LoadSettingsFunc
	Publish         PublishFunc
	Logger          *slog.Logger
}

type document struct {
	version    int
	languageID string
	text       string
}

// Scheduler decides when and with what configuration an open document gets
// re-checked, and turns results into diagnostics publications.
//
// Change events pass a fixed short stage-1 debounce that shields settings
// resolution from keystroke bursts, then an eligibility check, then a
// settings-tunable stage-2 debounce before dispatch. A new event for the same
// URI at any point restarts the whole pipeline for that URI; whatever was in
// flight is ignored when it completes. Settings and document content are read
// at fire time, never snapshotted at schedule time.
type Scheduler struct {
	analyze AnalyzeFunc
	publish PublishFunc
	log     *slog.Logger

	stage1Delay     time.Duration
	invalidateDelay time.Duration
	revalidateDelay time.Duration

	cache   *settingsCache
	stage1  *debouncer
	stage2  *debouncer
	cascade *debouncer

	mu        sync.Mutex
	docs      map[string]*document
	gens      map[string]uint64
	published map[string]int // uri -> version of the last publish
	imports   []string       // config import registry, append-only
}

// NewScheduler constructs a scheduler with the given collaborators.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		analyze:         opts.Analyze,
		publish:         opts.Publish,
		log:             logger,
		stage1Delay:     opts.Stage1Delay,
		invalidateDelay: opts.InvalidateDelay,
		revalidateDelay: opts.RevalidateDelay,
		stage1:          newDebouncer(),
		stage2:          newDebouncer(),
		cascade:         newDebouncer(),
		docs:            make(map[string]*document),
		gens:            make(map[string]uint64),
		published:       make(map[string]int),
	}
	if s.stage1Delay <= 0 {
		s.stage1Delay = defaultStage1Delay
	}
	if s.invalidateDelay <= 0 {
		s.invalidateDelay = defaultInvalidateDelay
	}
	if s.revalidateDelay <= 0 {
		s.revalidateDelay = defaultRevalidateDelay
	}
	s.cache = newSettingsCache(opts.LoadSettings, logger)
	return s
}

// Stop cancels every pending timer. In-flight analysis completes but its
// results are discarded.
func (s *Scheduler) Stop() {
	s.stage1.stopAll()
	s.stage2.stopAll()
	s.cascade.stopAll()
	s.mu.Lock()
	for uri := range s.gens {
		s.gens[uri]++
	}
	s.mu.Unlock()
}

// DocumentOpened records a freshly opened document and schedules validation.
func (s *Scheduler) DocumentOpened(uri string, version int, languageID, text string) {
	if !s.validEvent(uri, version) {
		return
	}
	s.mu.Lock()
	s.docs[uri] = &document{version: version, languageID: languageID, text: text}
	s.mu.Unlock()
	s.kick(uri)
}

// DocumentChanged replaces a document's content (full sync) and schedules
// validation. An empty languageID keeps the previous one.
func (s *Scheduler) DocumentChanged(uri string, version int, languageID, text string) {
	if !s.validEvent(uri, version) {
		return
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok {
		s.docs[uri] = &document{version: version, languageID: languageID, text: text}
	} else {
		if version < doc.version {
			s.mu.Unlock()
			s.log.Error("drop event: version regression", "uri", uri, "version", version, "current", doc.version)
			return
		}
		doc.version = version
		doc.text = text
		if languageID != "" {
			doc.languageID = languageID
		}
	}
	s.mu.Unlock()
	s.kick(uri)
}

// DocumentSaved optionally refreshes content from the save payload and
// schedules validation. Saves do not advance the version.
func (s *Scheduler) DocumentSaved(uri string, text *string) {
	if uri == "" {
		s.log.Error("drop event: empty uri")
		return
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok {
		s.mu.Unlock()
		s.log.Error("drop event: save for unopened document", "uri", uri)
		return
	}
	if text != nil {
		doc.text = *text
	}
	s.mu.Unlock()
	s.kick(uri)
}

// DocumentClosed forgets the document, cancels pending work and clears any
// published diagnostics for it.
func (s *Scheduler) DocumentClosed(uri string) {
	if uri == "" {
		s.log.Error("drop event: empty uri")
		return
	}
	s.stage1.cancel(uri)
	s.stage2.cancel(uri)
	s.mu.Lock()
	doc, open := s.docs[uri]
	delete(s.docs, uri)
	// Generations stay monotonic across close/reopen so an in-flight result
	// from before the close can never match again.
	s.gens[uri]++
	version := 0
	if open {
		version = doc.version
	}
	_, had := s.published[uri]
	delete(s.published, uri)
	s.mu.Unlock()
	if had {
		s.publish(uri, version, nil)
	}
	s.log.Debug("document closed", "uri", uri)
}

// ConfigurationChanged feeds the invalidation cascade: one debounced cache
// invalidation followed by one debounced revalidation of every open document,
// no matter how many signals arrive.
func (s *Scheduler) ConfigurationChanged() {
	s.scheduleConfigCascade("didChangeConfiguration")
}

// RegisterConfigurationFile adds a settings file to the import registry and
// feeds the invalidation cascade. The registry is append-only for the process
// lifetime.
func (s *Scheduler) RegisterConfigurationFile(path string) {
	if path == "" {
		s.log.Error("drop event: empty configuration file path")
		return
	}
	s.mu.Lock()
	known := false
	for _, p := range s.imports {
		if p == path {
			known = true
			break
		}
	}
	if !known {
		s.imports = append(s.imports, path)
	}
	s.mu.Unlock()
	s.log.Info("configuration file registered", "path", path, "new", !known)
	s.scheduleConfigCascade("registerConfigurationFile")
}

// ImportedFiles returns the registered configuration files in order.
func (s *Scheduler) ImportedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.imports...)
}

// DocumentText returns the current content and version of an open document.
func (s *Scheduler) DocumentText(uri string) (string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		return "", 0, false
	}
	return doc.text, doc.version, true
}

// OpenURIs lists the currently open documents.
func (s *Scheduler) OpenURIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	return uris
}

// ClearAllPublished publishes an empty list for every URI with visible
// diagnostics. Used at shutdown.
func (s *Scheduler) ClearAllPublished() {
	s.mu.Lock()
	prev := s.published
	s.published = make(map[string]int)
	s.mu.Unlock()
	for uri, version := range prev {
		s.publish(uri, version, nil)
	}
}

func (s *Scheduler) validEvent(uri string, version int) bool {
	if uri == "" {
		s.log.Error("drop event: empty uri")
		return false
	}
	if version < 0 {
		s.log.Error("drop event: negative version", "uri", uri, "version", version)
		return false
	}
	return true
}

// kick is the single pipeline entry point: bump the document's generation and
// restart its stage-1 timer. The freshest event always wins.
func (s *Scheduler) kick(uri string) {
	s.mu.Lock()
	s.gens[uri]++
	gen := s.gens[uri]
	s.mu.Unlock()
	s.log.Debug("schedule validation", "uri", uri, "gen", gen)
	s.stage1.schedule(uri, s.stage1Delay, func() { s.stage1Fire(uri, gen) })
}

func (s *Scheduler) isLatest(uri string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[uri] == gen
}

func (s *Scheduler) docSnapshot(uri string) (document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		return document{}, false
	}
	return *doc, true
}

// stage1Fire runs after the burst-absorbing debounce: resolve settings, check
// eligibility, and either clear diagnostics or arm the stage-2 timer with the
// settings-tunable delay. Settings are resolved here, not at schedule time,
// so a configuration change landing inside the window is honored.
func (s *Scheduler) stage1Fire(uri string, gen uint64) {
	if !s.isLatest(uri, gen) {
		return
	}
	st := s.cache.resolve(uri, s.ImportedFiles())
	doc, ok := s.docSnapshot(uri)
	if !ok || !s.isLatest(uri, gen) {
		return
	}
	st = settings.ApplyDirectives(st, doc.text)
	if !s.eligible(st, uri, doc.languageID) {
		// Publishing empty rather than skipping is what clears stale
		// diagnostics when a document stops being eligible.
		s.log.Debug("document not eligible", "uri", uri, "language", doc.languageID, "enabled", st.Enabled)
		s.publishChecked(uri, doc.version, nil)
		return
	}
	s.stage2.schedule(uri, st.Delay(), func() { s.stage2Fire(uri, gen) })
}

func (s *Scheduler) eligible(st settings.Settings, uri, languageID string) bool {
	if !st.Enabled {
		return false
	}
	if !st.LanguageEnabled(languageID) {
		return false
	}
	return !st.PathIgnored(uriToPath(uri))
}

// stage2Fire re-resolves settings and re-reads the document at fire time,
// then hands off to the executor.
func (s *Scheduler) stage2Fire(uri string, gen uint64) {
	if !s.isLatest(uri, gen) {
		return
	}
	st := s.cache.resolve(uri, s.ImportedFiles())
	doc, ok := s.docSnapshot(uri)
	if !ok || !s.isLatest(uri, gen) {
		return
	}
	s.execute(uri, gen, doc, settings.ApplyDirectives(st, doc.text))
}

// execute invokes the analyzer and publishes the outcome. Checking may have
// been disabled between the stages, so the gate is re-checked here; a failed
// analysis never clears previously published diagnostics.
func (s *Scheduler) execute(uri string, gen uint64, doc document, st settings.Settings) {
	if !st.Enabled {
		s.publishChecked(uri, doc.version, nil)
		return
	}
	start := time.Now()
	diags, err := s.analyze(doc.text, doc.languageID, st)
	if err != nil {
		s.log.Error("analysis failed", "uri", uri, "version", doc.version, "err", err)
		return
	}
	if !s.isLatest(uri, gen) {
		s.log.Debug("discard superseded analysis", "uri", uri, "gen", gen)
		return
	}
	s.log.Debug("analysis complete", "uri", uri, "version", doc.version, "diags", len(diags), "elapsed", time.Since(start))
	s.publishChecked(uri, doc.version, diags)
}

// publishChecked enforces per-URI version ordering: a result computed for an
// older version never overwrites one already published for a newer version.
// A document closed since the work was scheduled gets nothing at all; close
// already published its clear, and recording a pre-close version here would
// make the ordering guard swallow publishes after a reopen at version 1.
func (s *Scheduler) publishChecked(uri string, version int, diags []diag.Diagnostic) {
	s.mu.Lock()
	if last, ok := s.published[uri]; ok && version < last {
		s.mu.Unlock()
		s.log.Debug("discard stale publish", "uri", uri, "version", version, "published", last)
		return
	}
	if _, open := s.docs[uri]; !open {
		s.mu.Unlock()
		s.log.Debug("discard publish for closed document", "uri", uri)
		return
	}
	s.published[uri] = version
	s.mu.Unlock()
	s.publish(uri, version, diags)
}

func (s *Scheduler) scheduleConfigCascade(reason string) {
	s.log.Debug("configuration change signal", "reason", reason)
	s.cascade.schedule("invalidate", s.invalidateDelay, func() {
		s.cache.invalidateAll()
		s.log.Info("settings cache invalidated")
		s.cascade.schedule("revalidate", s.revalidateDelay, func() {
			uris := s.OpenURIs()
			s.log.Info("revalidating open documents", "count", len(uris))
			for _, uri := range uris {
				s.kick(uri)
			}
		})
	})
}
