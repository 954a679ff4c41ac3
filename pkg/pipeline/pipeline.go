// Package pipeline wires the gate, rate limiter, pause controller,
// classifier, relationship extraction, context assembler, generator,
// and HTS dispatcher into the single ordered path every inbound
// message travels: admission, then pacing, then response. Each
// contact's messages are processed strictly in order via
// contactqueue, while distinct contacts run concurrently up to a
// global ceiling.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"relay/internal/contactqueue"
	"relay/pkg/admission"
	"relay/pkg/assembler"
	"relay/pkg/channel"
	"relay/pkg/classifier"
	"relay/pkg/domain"
	"relay/pkg/events"
	"relay/pkg/generator"
	"relay/pkg/hts"
	"relay/pkg/mem"
	"relay/pkg/metrics"
	"relay/pkg/pause"
	"relay/pkg/ratelimit"
	"relay/pkg/relationship"
	"relay/pkg/style"
)

// Senders resolves the channel.Adapter to use for outgoing messages
// on a given channel id.
type Senders interface {
	Get(id domain.ChannelID) (channel.Adapter, bool)
}

// Coordinator is the pipeline's single entry point.
type Coordinator struct {
	mem          mem.Store
	gate         *admission.Gate
	limiter      *ratelimit.Limiter
	pauseCtl     *pause.Controller
	sleepWindow  *pause.SleepWindow
	classifier   *classifier.Classifier
	relAccum     *relationship.Accumulator
	assembler    *assembler.Assembler
	generator    *generator.Generator
	hts          *hts.Dispatcher
	styleAccum   *style.Accumulator
	bus          events.Bus
	senders      Senders

	autoReplyUnknown bool
	autoReplyText    string

	queue *contactqueue.Queue
	sem   *semaphore.Weighted

	statusMu     sync.Mutex
	statusCounts map[string]int64
	activeInFlight int64
}

// New builds a Coordinator. sleepWindow may be nil if sleep hours are
// disabled. When autoReplyUnknown is set, every pairing-requested
// decision sends autoReplyText back to the contact, rather than holding
// the message in silence until an operator reviews it.
func New(
	ctx context.Context,
	memStore mem.Store,
	gate *admission.Gate,
	limiter *ratelimit.Limiter,
	pauseCtl *pause.Controller,
	sleepWindow *pause.SleepWindow,
	cls *classifier.Classifier,
	relAccum *relationship.Accumulator,
	asm *assembler.Assembler,
	gen *generator.Generator,
	dispatcher *hts.Dispatcher,
	styleAccum *style.Accumulator,
	bus events.Bus,
	senders Senders,
	maxInFlight int,
	autoReplyUnknown bool,
	autoReplyText string,
) *Coordinator {
	return &Coordinator{
		mem: memStore,
		gate: gate, limiter: limiter, pauseCtl: pauseCtl, sleepWindow: sleepWindow,
		classifier: cls, relAccum: relAccum, assembler: asm, generator: gen,
		hts: dispatcher, styleAccum: styleAccum, bus: bus, senders: senders,
		autoReplyUnknown: autoReplyUnknown, autoReplyText: autoReplyText,
		queue:        contactqueue.New(ctx),
		sem:          semaphore.NewWeighted(int64(maxInFlight)),
		statusCounts: make(map[string]int64),
	}
}

// Submit enqueues msg for processing on its contact's ordered worker.
// It returns immediately; processing happens asynchronously.
func (c *Coordinator) Submit(ctx context.Context, msg domain.NormalizedMessage) {
	c.bus.Publish(events.New(events.KindMessageReceived, msg.Contact, msg))
	c.queue.Submit(msg.Contact.String(), func(workerCtx context.Context) {
		if err := c.sem.Acquire(workerCtx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		atomic.AddInt64(&c.activeInFlight, 1)
		metrics.ActiveContactsInFlight.Inc()
		defer func() {
			atomic.AddInt64(&c.activeInFlight, -1)
			metrics.ActiveContactsInFlight.Dec()
		}()

		c.process(workerCtx, msg)
	})
}

// stageTimer returns a stop function that records stage's elapsed
// time against the processing-duration histogram when called.
func (c *Coordinator) stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.ProcessingDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// finish records msg's terminal status for both the Prometheus
// counter and the lighter in-memory snapshot published on
// events.KindMetricsUpdate.
func (c *Coordinator) finish(status string) {
	metrics.MessagesProcessed.WithLabelValues(status).Inc()

	c.statusMu.Lock()
	c.statusCounts[status]++
	snapshot := metrics.Snapshot{
		ProcessedByStatus: make(map[string]int64, len(c.statusCounts)),
		ActiveInFlight:    atomic.LoadInt64(&c.activeInFlight),
	}
	for k, v := range c.statusCounts {
		snapshot.ProcessedByStatus[k] = v
	}
	c.statusMu.Unlock()

	c.bus.Publish(events.New(events.KindMetricsUpdate, domain.ContactID{}, snapshot))
}

// process runs one message through the full decision and response
// path. Every stage after admission can fail soft: an error here logs
// a warning and stops processing this message, but never brings down
// the worker or blocks other contacts.
func (c *Coordinator) process(ctx context.Context, msg domain.NormalizedMessage) {
	// An own-echo: the operator replied manually through the channel
	// itself. Pause the contact indefinitely rather than risk the
	// generator talking over a human who just took the conversation
	// back, and never let this message reach admission.
	if msg.FromMe {
		if err := c.pauseCtl.PauseFromMe(ctx, msg.Contact); err != nil {
			slog.Error("failed to pause contact after fromMe echo", "contact", msg.Contact, "error", err)
		}
		c.finish("from_me_echo")
		return
	}

	stopAdmission := c.stageTimer("admission")
	decision, err := c.gate.Evaluate(ctx, msg)
	stopAdmission()
	if err != nil {
		slog.Error("admission evaluation failed", "contact", msg.Contact, "error", err)
		c.finish("admission_error")
		return
	}

	// Record this message as seen only after the admission decision is
	// made, so auto-approval-on-history reflects history that predates
	// this message rather than the message approving itself.
	if !msg.IsGroup {
		if err := c.mem.RecordMessageSeen(ctx, msg.Contact, msg.ReceivedAt); err != nil {
			slog.Warn("failed to record message seen", "contact", msg.Contact, "error", err)
		}
	}

	if decision != admission.DecisionAdmit {
		if decision == admission.DecisionPairingRequested && c.autoReplyUnknown && c.autoReplyText != "" {
			if sender, ok := c.senders.Get(msg.Contact.Channel); ok {
				if err := c.hts.Send(ctx, sender, msg.Contact, c.autoReplyText); err != nil {
					slog.Warn("auto-reply to unknown contact failed", "contact", msg.Contact, "error", err)
				}
			} else {
				slog.Warn("no adapter registered for auto-reply", "channel", msg.Contact.Channel)
			}
		}
		c.finish(string(decision))
		return
	}

	if paused, reason, err := c.pauseCtl.IsPaused(ctx, msg.Contact); err != nil {
		slog.Warn("pause check failed, proceeding", "error", err)
	} else if paused {
		slog.Debug("message dropped: contact paused", "contact", msg.Contact, "reason", reason)
		c.finish("paused")
		return
	}

	if c.sleepWindow != nil && c.sleepWindow.Contains(time.Now()) {
		if err := c.pauseCtl.DeferDuringSleep(ctx, *c.sleepWindow, msg); err != nil {
			slog.Error("failed to defer message during sleep hours", "error", err)
		}
		c.finish("deferred")
		return
	}

	if err := c.limiter.Allow(ctx, msg.Contact); err != nil {
		slog.Debug("message dropped: rate limited", "contact", msg.Contact)
		c.finish("rate_limited")
		return
	}

	class := c.classifier.Classify(ctx, msg.Text)

	signals := relationship.Extract(msg.Contact, msg.Text)
	var overrideRelationship domain.RelationshipType
	if rel, ok := relationship.HighConfidenceOverride(signals); ok {
		overrideRelationship = rel
	}
	if len(signals) > 0 {
		if err := c.relAccum.Enqueue(ctx, signals); err != nil {
			slog.Warn("failed to enqueue relationship signals", "error", err)
		}
	}

	approved, err := c.gate.ApprovedContact(ctx, msg.Contact)
	if err != nil || approved == nil {
		slog.Error("could not load approved contact after admission", "contact", msg.Contact, "error", err)
		c.finish("approved_lookup_error")
		return
	}

	stopAssemble := c.stageTimer("assemble")
	assembled := c.assembler.Assemble(ctx, *approved, overrideRelationship)
	stopAssemble()

	stopGenerate := c.stageTimer("generate")
	reply, err := c.generator.Generate(ctx, class, msg.Text, assembled)
	stopGenerate()
	if err != nil {
		slog.Error("response generation failed", "contact", msg.Contact, "error", err)
		c.finish("generation_error")
		return
	}

	sender, ok := c.senders.Get(msg.Contact.Channel)
	if !ok {
		slog.Error("no adapter registered for channel", "channel", msg.Contact.Channel)
		c.finish("no_adapter")
		return
	}

	stopDispatch := c.stageTimer("dispatch")
	err = c.hts.Send(ctx, sender, msg.Contact, reply)
	stopDispatch()
	if err != nil {
		slog.Error("dispatch failed", "contact", msg.Contact, "error", err)
		c.finish("dispatch_error")
		return
	}

	if err := c.styleAccum.Observe(ctx, msg.Contact, reply); err != nil {
		slog.Warn("style observation failed", "error", err)
	}

	c.finish("sent")
}
