// Package learner runs the background profile learner: a bounded worker
// pool that watches conversation traffic and periodically distills what it
// reveals about the user into the persistent profile.
package learner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/sigil-dev/sigil/pkg/config"
	"github.com/sigil-dev/sigil/pkg/llm"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
)

// maxMessageChars bounds how much of a single message reaches the learner
// prompt.
const maxMessageChars = 1000

// job is one learning unit: the unlearned messages a user accumulated.
type job struct {
	userID   string
	messages []memory.Message
}

// Pool buffers conversation messages per user and dispatches a learning job
// to a worker once a user accumulates the configured cadence of unlearned
// messages. Learning never blocks the request path: Observe is cheap, and a
// full queue re-buffers instead of stalling.
type Pool struct {
	store  store.Store
	client llm.Client
	cfg    config.LearnerConfig

	jobs     chan job
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu      sync.Mutex
	pending map[string][]memory.Message

	statMu  sync.Mutex
	learned int
}

// NewPool creates a learner pool. Workers do not run until Start.
func NewPool(st store.Store, client llm.Client, cfg config.LearnerConfig) *Pool {
	return &Pool{
		store:   st,
		client:  client,
		cfg:     cfg,
		jobs:    make(chan job, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		pending: map[string][]memory.Message{},
	}
}

// Start spawns the worker goroutines. Safe to call once; duplicate calls are
// no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Learner pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting learner pool",
		"workers", p.cfg.Workers, "cadence_messages", p.cfg.CadenceMessages)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Stop signals the workers and waits for them. Workers finish their current
// job and drain whatever is already queued before exiting.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Learner pool stopped")
}

// Observe records one appended conversation message. Once the user has a
// full cadence of unlearned messages they are handed to a worker as a job.
// The signature matches the engine's message hook.
func (p *Pool) Observe(userID string, msg memory.Message) {
	if userID == "" {
		return
	}

	p.mu.Lock()
	p.pending[userID] = append(p.pending[userID], msg)
	if len(p.pending[userID]) < p.cfg.CadenceMessages {
		p.mu.Unlock()
		return
	}
	batch := p.pending[userID]
	delete(p.pending, userID)
	p.mu.Unlock()

	select {
	case p.jobs <- job{userID: userID, messages: batch}:
	default:
		// Queue full: keep the batch buffered so the signal is not lost,
		// a later message retriggers the dispatch.
		slog.Warn("Learner queue full, re-buffering batch",
			"user_id", userID, "messages", len(batch))
		p.mu.Lock()
		p.pending[userID] = append(batch, p.pending[userID]...)
		p.mu.Unlock()
	}
}

// Learned reports how many learning jobs completed successfully.
func (p *Pool) Learned() int {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	return p.learned
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := slog.With("learner_worker", id)
	log.Debug("Learner worker started")

	for {
		select {
		case <-p.stopCh:
			p.drain(ctx, log)
			return
		case <-ctx.Done():
			log.Info("Context cancelled, learner worker shutting down")
			return
		case j := <-p.jobs:
			p.process(ctx, j, log)
		}
	}
}

// drain empties the queue during shutdown so accepted work is not dropped.
func (p *Pool) drain(ctx context.Context, log *slog.Logger) {
	for {
		select {
		case j := <-p.jobs:
			p.process(ctx, j, log)
		default:
			log.Debug("Learner worker shutting down")
			return
		}
	}
}

// process runs one learning pass: ask the model for a profile delta from the
// batch, merge it, stamp the learning time, and persist.
func (p *Pool) process(ctx context.Context, j job, log *slog.Logger) {
	profile, err := p.store.LoadProfile(ctx, j.userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("Failed to load profile for learning", "user_id", j.userID, "error", err)
			return
		}
		profile = memory.NewProfile(j.userID)
	}

	out, err := p.client.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: buildLearnerPrompt(profile, j.messages)},
	})
	if err != nil {
		log.Warn("Learner model call failed", "user_id", j.userID, "error", err)
		return
	}

	delta, err := parseDelta(out)
	if err != nil {
		log.Warn("Learner output unusable, skipping batch", "user_id", j.userID, "error", err)
		return
	}

	now := time.Now()
	delta.LastUpdated = now
	profile.Merge(delta)
	profile.LastLearnedAt = now

	if err := p.store.SaveProfile(ctx, profile); err != nil {
		log.Warn("Failed to persist learned profile", "user_id", j.userID, "error", err)
		return
	}

	p.statMu.Lock()
	p.learned++
	p.statMu.Unlock()
	log.Info("Profile updated from conversation",
		"user_id", j.userID, "messages", len(j.messages))
}

// buildLearnerPrompt renders the current profile and the new messages into
// one extraction request.
func buildLearnerPrompt(profile *memory.Profile, messages []memory.Message) string {
	var sb strings.Builder
	sb.WriteString("You maintain a user profile for a personal assistant. ")
	sb.WriteString("From the conversation excerpt below, extract durable facts about the user.\n\n")
	sb.WriteString("Current profile:\n")
	current, _ := json.Marshal(profile)
	sb.Write(current)
	sb.WriteString("\n\nConversation:\n")
	for _, msg := range messages {
		content := msg.Content
		if len(content) > maxMessageChars {
			content = content[:maxMessageChars] + "..."
		}
		fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, content)
	}
	sb.WriteString(`
Reply with a single JSON object holding only NEW or CHANGED facts:
{"preferences": {"key": "value"}, "goals": ["..."], "expertise": ["..."], "projects": {"name": "status"}, "communication_style": "concise|detailed|casual|formal", "who": "one-line description"}
Omit fields with nothing new. Reply with {} when the excerpt reveals nothing durable. Output only the JSON.`)
	return sb.String()
}

// learnedDelta is the wire shape the learner model replies with.
type learnedDelta struct {
	Preferences        map[string]string `json:"preferences"`
	Goals              []string          `json:"goals"`
	Expertise          []string          `json:"expertise"`
	Projects           map[string]string `json:"projects"`
	CommunicationStyle string            `json:"communication_style"`
	Who                string            `json:"who"`
}

// parseDelta decodes the model reply, tolerating code fences and minor JSON
// damage the same way the protocol layer does.
func parseDelta(out string) (*memory.Profile, error) {
	raw := strings.TrimSpace(out)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty learner reply")
	}

	var wire learnedDelta
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("learner reply is not a JSON object: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
			return nil, fmt.Errorf("learner reply is not a JSON object: %w", err)
		}
	}

	return &memory.Profile{
		Preferences:        wire.Preferences,
		Goals:              wire.Goals,
		Expertise:          wire.Expertise,
		Projects:           wire.Projects,
		CommunicationStyle: memory.CommunicationStyle(wire.CommunicationStyle),
		Who:                wire.Who,
	}, nil
}
