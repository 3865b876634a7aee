// Package orchestrator runs the monitoring cycle: post detection,
// comment re-checks, and backlog imports, paced by the rate governor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/comments"
	"github.com/bnowain/FB-Monitor/internal/config"
	"github.com/bnowain/FB-Monitor/internal/extract"
	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/metrics"
	"github.com/bnowain/FB-Monitor/internal/monitor"
	"github.com/bnowain/FB-Monitor/internal/ratelimit"
	"github.com/bnowain/FB-Monitor/internal/stealth"
	"github.com/bnowain/FB-Monitor/internal/track"
)

// Loader retrieves a page through an identity. An empty account means
// the anonymous path (circuit pool); a named account means a persistent
// authenticated session.
type Loader interface {
	Load(ctx context.Context, account, url string) monitor.NavResult
}

// missingAbsence is how long a post must be absent from fresh
// extraction before it is tombstoned. A single missed pass (an
// extraction hiccup) never counts as a deletion.
const missingAbsence = 48 * time.Hour

// Deps are the collaborators an Orchestrator needs.
type Deps struct {
	Config    config.Config
	Loader    Loader
	Chain     *extract.Chain
	Extractor monitor.Extractor
	Store     monitor.Store
	Snapshots monitor.SnapshotStore
	Publisher monitor.Publisher
	Notifier  monitor.Notifier
	Governor  *ratelimit.Governor
	Tracker   *track.Scheduler
	State     *track.StateFile
	// Rotate requests a fresh circuit identity for the anonymous class.
	Rotate ratelimit.RotateFunc
	Clock  monitor.Clock
}

// Orchestrator coordinates one monitoring agent.
type Orchestrator struct {
	cfg       config.Config
	loader    Loader
	chain     *extract.Chain
	extractor monitor.Extractor
	store     monitor.Store
	snaps     monitor.SnapshotStore
	pub       monitor.Publisher
	notifier  monitor.Notifier
	governor  *ratelimit.Governor
	tracker   *track.Scheduler
	state     *track.StateFile
	rotate    ratelimit.RotateFunc
	clock     monitor.Clock
	rng       *rand.Rand
	sleep     func(ctx context.Context, d time.Duration) error

	// seen is the per-page registry of already-processed post IDs,
	// carried across runs through the state file.
	seen map[string]map[string]struct{}
	// known caches each tracked post's merged comment set for the
	// lifetime of the process, so re-checks can prefer richer variants.
	known map[string][]monitor.Comment
}

// New wires an Orchestrator. Nil optional collaborators (snapshots,
// publisher, notifier) degrade to no-ops.
func New(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = monitor.SystemClock{}
	}
	o := &Orchestrator{
		cfg:       d.Config,
		loader:    d.Loader,
		chain:     d.Chain,
		extractor: d.Extractor,
		store:     d.Store,
		snaps:     d.Snapshots,
		pub:       d.Publisher,
		notifier:  d.Notifier,
		governor:  d.Governor,
		tracker:   d.Tracker,
		state:     d.State,
		rotate:    d.Rotate,
		clock:     d.Clock,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepCtx,
		seen:      map[string]map[string]struct{}{},
		known:     map[string][]monitor.Comment{},
	}
	if o.snaps == nil {
		o.snaps = noopSnapshots{}
	}
	return o
}

// RestoreState reloads jobs and the seen-post registry from a prior run.
func (o *Orchestrator) RestoreState(st track.State) {
	for _, job := range st.Jobs {
		o.tracker.Restore(job)
	}
	if st.SeenPosts != nil {
		o.seen = st.SeenPosts
	}
	logging.L.Info("state restored",
		zap.Int("jobs", len(st.Jobs)),
		zap.Int("pages", len(st.SeenPosts)))
}

// RunCycle executes one full monitoring cycle. Per-item failures are
// contained: a dead page or post never aborts the rest of the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := o.clock.Now()
	cycleID := uuid.NewString()
	logging.L.Info("cycle started", zap.String("cycle", cycleID))
	var errs []error

	if err := o.detectPhase(ctx); err != nil {
		errs = append(errs, err)
	}
	if ctx.Err() == nil {
		if err := o.recheckPhase(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if ctx.Err() == nil {
		if err := o.importPhase(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := o.persistState(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveCycle(result)
	logging.L.Info("cycle finished",
		zap.String("cycle", cycleID),
		zap.String("result", result),
		zap.Duration("took", o.clock.Now().Sub(start)))
	return err
}

// detectPhase visits each monitored page and processes newly discovered
// posts. Anonymous pages run first so the pooled identity takes the
// brunt of detection traffic before any authenticated session appears.
func (o *Orchestrator) detectPhase(ctx context.Context) error {
	var errs []error
	for _, pg := range o.orderedPages() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.detectPage(ctx, pg); err != nil {
			logging.L.Warn("page detection failed",
				zap.String("page", pg.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("page %s: %w", pg.Name, err))
		}
		if err := o.pause(ctx); err != nil {
			return err
		}
	}

	if swept, err := o.store.SweepMissing(ctx, missingAbsence); err != nil {
		errs = append(errs, fmt.Errorf("sweep missing: %w", err))
	} else if swept > 0 {
		logging.L.Info("posts tombstoned after prolonged absence", zap.Int("count", swept))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) detectPage(ctx context.Context, pg config.PageConfig) error {
	class := classFor(pg.Account)
	if err := o.governor.WaitIfNeeded(ctx, class, o.rotateFor(class)); err != nil {
		return err
	}
	res := o.loader.Load(ctx, pg.Account, pg.URL)
	o.governor.Record(class)
	if res.Outcome != monitor.OutcomeOK {
		return fmt.Errorf("load returned %s: %w", res.Outcome, res.Err)
	}

	o.snapshotHTML(ctx, pg.Name, res.HTML)

	found := o.chain.Extract(ctx, pg.URL, res.HTML)
	pageSeen := o.seenFor(pg.Name)
	var ids []string
	fresh := 0
	for _, f := range found {
		ids = append(ids, f.ID)
		if _, ok := pageSeen[f.ID]; ok {
			continue
		}
		pageSeen[f.ID] = struct{}{}
		fresh++
		if err := o.handleNewPost(ctx, pg, f); err != nil {
			logging.L.Warn("new post handling failed",
				zap.String("post", f.ID), zap.Error(err))
		}
	}
	if err := o.store.MarkSeen(ctx, pg.Name, ids); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}

	logging.L.Info("page checked",
		zap.String("page", pg.Name),
		zap.Int("posts_visible", len(ids)),
		zap.Int("posts_new", fresh))
	return nil
}

func (o *Orchestrator) handleNewPost(ctx context.Context, pg config.PageConfig, f extract.Found) error {
	canonical := extract.CanonicalPostURL(f.URL)
	post := monitor.PostData{
		ID:        f.ID,
		URL:       canonical,
		Page:      pg.Name,
		Text:      f.Preview,
		FetchedAt: o.clock.Now(),
	}
	if err := o.store.SavePost(ctx, post); err != nil {
		return fmt.Errorf("save post: %w", err)
	}
	// Queue the permalink so the import phase backfills full content.
	if err := o.store.AddImport(ctx, canonical); err != nil {
		logging.L.Warn("backlog queueing failed", zap.String("post", f.ID), zap.Error(err))
	}
	o.tracker.Add(f.ID, canonical, pg.Name, pg.Account)
	metrics.ObservePostDiscovered(pg.Name)

	if o.pub != nil {
		event := map[string]any{
			"post_id":  f.ID,
			"page":     pg.Name,
			"url":      canonical,
			"strategy": f.Strategy,
			"found_at": o.clock.Now(),
		}
		topic := o.cfg.Publish.TopicID
		if topic == "" {
			topic = "new-posts"
		}
		if _, err := o.pub.Publish(ctx, topic, event); err != nil {
			logging.L.Warn("event publish failed", zap.String("post", f.ID), zap.Error(err))
		}
	}
	if o.notifier != nil {
		title := fmt.Sprintf("New post on %s", pg.Name)
		if err := o.notifier.Notify(ctx, title, canonical); err != nil {
			logging.L.Warn("notification failed", zap.String("post", f.ID), zap.Error(err))
		}
	}
	logging.L.Info("new post discovered",
		zap.String("page", pg.Name),
		zap.String("post", f.ID),
		zap.String("strategy", f.Strategy))
	return nil
}

// recheckPhase revisits tracked posts whose age tier says they are due
// and merges any comments that appeared since the last pass.
func (o *Orchestrator) recheckPhase(ctx context.Context) error {
	due := o.tracker.Due(o.cfg.Track.ActiveInterval)
	if len(due) == 0 {
		return nil
	}
	logging.L.Info("re-checking tracked posts", zap.Int("due", len(due)))

	var errs []error
	for _, job := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.recheckPost(ctx, job); err != nil {
			logging.L.Warn("comment re-check failed",
				zap.String("post", job.PostID), zap.Error(err))
			errs = append(errs, fmt.Errorf("post %s: %w", job.PostID, err))
		}
		o.tracker.MarkChecked(job.PostID)
		if err := o.pause(ctx); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) recheckPost(ctx context.Context, job track.Job) error {
	class := classFor(job.Account)
	if err := o.governor.WaitIfNeeded(ctx, class, o.rotateFor(class)); err != nil {
		return err
	}
	res := o.loader.Load(ctx, job.Account, job.URL)
	o.governor.Record(class)
	if res.Outcome != monitor.OutcomeOK {
		return fmt.Errorf("load returned %s: %w", res.Outcome, res.Err)
	}

	fresh, err := o.extractor.ExtractComments(ctx, loadedPage{html: res.HTML, url: job.URL})
	if err != nil {
		return fmt.Errorf("extract comments: %w", err)
	}
	merged, added := comments.Merge(o.known[job.PostID], fresh)
	o.known[job.PostID] = merged

	saved, err := o.store.SaveComments(ctx, job.PostID, merged)
	if err != nil {
		return fmt.Errorf("save comments: %w", err)
	}
	metrics.ObserveCommentsAdded(saved)
	if added > 0 || saved > 0 {
		logging.L.Info("comments merged",
			zap.String("post", job.PostID),
			zap.Int("new_this_pass", added),
			zap.Int("rows_added", saved))
	}
	return nil
}

// importPhase backfills full content for queued post URLs.
func (o *Orchestrator) importPhase(ctx context.Context) error {
	pending, err := o.store.PendingImports(ctx)
	if err != nil {
		return fmt.Errorf("list pending imports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	logging.L.Info("importing backlog", zap.Int("pending", len(pending)))

	var errs []error
	for _, url := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.importPost(ctx, url); err != nil {
			logging.L.Warn("backlog import failed", zap.String("url", url), zap.Error(err))
			errs = append(errs, fmt.Errorf("import %s: %w", url, err))
			continue
		}
		if err := o.store.MarkImported(ctx, url); err != nil {
			errs = append(errs, fmt.Errorf("mark imported %s: %w", url, err))
		}
		if err := o.pause(ctx); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) importPost(ctx context.Context, url string) error {
	id := extract.PostID(url)
	if id == "" {
		// Not a recognizable post URL; drop it from the backlog.
		logging.L.Warn("unrecognized backlog URL dropped", zap.String("url", url))
		return nil
	}
	class := ratelimit.ClassAnonymous
	if err := o.governor.WaitIfNeeded(ctx, class, o.rotateFor(class)); err != nil {
		return err
	}
	res := o.loader.Load(ctx, "", url)
	o.governor.Record(class)
	if res.Outcome != monitor.OutcomeOK {
		return fmt.Errorf("load returned %s: %w", res.Outcome, res.Err)
	}

	post, err := o.extractor.ParsePost(ctx, loadedPage{html: res.HTML, url: url}, url, id)
	if err != nil {
		return fmt.Errorf("parse post: %w", err)
	}
	if existing, err := o.store.GetPost(ctx, id); err == nil && existing != nil {
		post.Page = existing.Page
	}
	if err := o.store.SavePost(ctx, post); err != nil {
		return fmt.Errorf("save post: %w", err)
	}
	o.tracker.Add(id, url, post.Page, "")
	return nil
}

func (o *Orchestrator) persistState() error {
	if o.state == nil {
		return nil
	}
	st := track.State{Jobs: o.tracker.Jobs(), SeenPosts: o.seen}
	if err := o.state.Save(st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// orderedPages returns the monitored pages with anonymous ones first,
// then grouped by account so each authenticated session is used in one
// contiguous stretch.
func (o *Orchestrator) orderedPages() []config.PageConfig {
	pages := make([]config.PageConfig, len(o.cfg.Pages))
	copy(pages, o.cfg.Pages)
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Account < pages[j].Account
	})
	return pages
}

func (o *Orchestrator) seenFor(page string) map[string]struct{} {
	set, ok := o.seen[page]
	if !ok {
		set = map[string]struct{}{}
		o.seen[page] = set
	}
	return set
}

// rotateFor returns the rotation callback for the class. Authenticated
// sessions cannot rotate circuits without burning the login, so only the
// anonymous class gets one.
func (o *Orchestrator) rotateFor(class string) ratelimit.RotateFunc {
	if class != ratelimit.ClassAnonymous || o.rotate == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := o.rotate(ctx); err != nil {
			return err
		}
		metrics.ObserveRotation()
		return nil
	}
}

func (o *Orchestrator) snapshotHTML(ctx context.Context, page, html string) {
	now := o.clock.Now()
	path := fmt.Sprintf("%s/%s/%s.html", page, now.Format("2006-01-02"), now.Format("150405"))
	uri, err := o.snaps.PutObject(ctx, path, "text/html", []byte(html))
	if err != nil {
		logging.L.Warn("snapshot failed", zap.String("page", page), zap.Error(err))
		return
	}
	if uri != "" {
		logging.L.Debug("snapshot stored", zap.String("uri", uri))
	}
}

// pause injects a human-scale delay between consecutive visits.
func (o *Orchestrator) pause(ctx context.Context) error {
	return o.sleep(ctx, stealth.HumanDelay(o.rng, 2*time.Second, 8*time.Second))
}

func classFor(account string) string {
	if account == "" {
		return ratelimit.ClassAnonymous
	}
	return ratelimit.ClassAuthenticated
}

type loadedPage struct {
	html string
	url  string
}

func (p loadedPage) HTML() string { return p.html }
func (p loadedPage) URL() string  { return p.url }

type noopSnapshots struct{}

func (noopSnapshots) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
