// Package coordinator runs the trigger control loop: watch the
// synchronization signals, and when an acquisition is live, fire one
// trigger request at the stimulus peer and route the reported duration
// downstream. One coordinator owns one loop; cycles never overlap.
package coordinator

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"stimsync/internal/journal"
	"stimsync/internal/metrics"
	"stimsync/internal/queue"
	"stimsync/internal/settings"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultConfirmTimeout bounds the start-signal reconfirmation wait.
	DefaultConfirmTimeout = 1000 * time.Millisecond
	// DefaultPollInterval paces the loop when there is nothing to do.
	DefaultPollInterval = time.Millisecond
)

// Flag is the read side of a synchronization signal.
type Flag interface {
	IsSet() bool
}

// StartFlag is the acquisition-start signal. The coordinator is its
// designated clearer; everything else only reads it.
type StartFlag interface {
	IsSet() bool
	Wait(timeout time.Duration) (bool, error)
	Clear()
}

// Link performs one trigger request/reply exchange with the peer.
type Link interface {
	SendTriggerAndAwaitDuration(req any) (float64, bool)
}

// Deps wires a coordinator to its collaborators. Saving,
// HardwareTriggered and Waiting may be nil when ScanningTrigger is off,
// since the gating condition is never evaluated then.
type Deps struct {
	Link      Link
	Settings  *queue.Settings
	Durations *queue.Durations

	Stop              Flag
	Start             StartFlag
	Saving            Flag
	HardwareTriggered Flag
	Waiting           Flag

	ScanningTrigger bool
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration

	Journal journal.Journal
	Metrics *metrics.Metrics
}

type Coordinator struct {
	link      Link
	settings  *queue.Settings
	durations *queue.Durations

	stop              Flag
	start             StartFlag
	saving            Flag
	hardwareTriggered Flag
	waiting           Flag

	scanningTrigger bool
	confirmTimeout  time.Duration
	pollInterval    time.Duration

	journal journal.Journal
	metrics *metrics.Metrics

	request     *settings.Request
	lastCond    bool
	lastOutcome journal.Outcome

	// Shared with the status surface; everything above is loop-private.
	fired   atomic.Int64
	condNow atomic.Bool
}

func New(d Deps) (*Coordinator, error) {
	if d.Link == nil {
		return nil, errors.New("coordinator: link is required")
	}
	if d.Settings == nil || d.Durations == nil {
		return nil, errors.New("coordinator: settings and duration queues are required")
	}
	if d.Stop == nil || d.Start == nil {
		return nil, errors.New("coordinator: stop and start signals are required")
	}
	if d.ScanningTrigger && (d.Saving == nil || d.HardwareTriggered == nil || d.Waiting == nil) {
		return nil, errors.New("coordinator: scanning trigger mode requires saving, hardware trigger and waiting signals")
	}
	if d.ConfirmTimeout <= 0 {
		d.ConfirmTimeout = DefaultConfirmTimeout
	}
	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Coordinator{
		link:              d.Link,
		settings:          d.Settings,
		durations:         d.Durations,
		stop:              d.Stop,
		start:             d.Start,
		saving:            d.Saving,
		hardwareTriggered: d.HardwareTriggered,
		waiting:           d.Waiting,
		scanningTrigger:   d.ScanningTrigger,
		confirmTimeout:    d.ConfirmTimeout,
		pollInterval:      d.PollInterval,
		journal:           d.Journal,
		metrics:           d.Metrics,
	}, nil
}

// Run executes the control loop until the stop signal is set. Every
// failure inside one iteration degrades to skipping that cycle; only
// stop ends the loop.
func (c *Coordinator) Run() {
	log.Println("Coordinator started")
	defer log.Println("Coordinator stopped")

	for !c.stop.IsSet() {
		c.drainSettings()

		if !c.triggerCondition() {
			c.lastOutcome = journal.OutcomeNone
			time.Sleep(c.pollInterval)
			continue
		}

		if c.request == nil {
			// The gate opened before any settings ever arrived. There is
			// nothing to send, so treat it as one more skip condition.
			if c.lastOutcome != journal.OutcomeSkippedNoSettings {
				log.Println("Skipping trigger: no settings received yet")
			}
			c.metrics.SkippedNoSettings.Inc()
			c.record(journal.OutcomeSkippedNoSettings, 0)
			time.Sleep(c.pollInterval)
			continue
		}

		// Reconfirm the start signal is backed by a running acquisition
		// before dispatching, in case the flag was raised ahead of the
		// first frame.
		started, err := c.start.Wait(c.confirmTimeout)
		if err != nil {
			log.Printf("Warning: start signal wait failed (%v), falling back to plain check", err)
			started = c.start.IsSet()
		}
		if !started {
			if c.lastOutcome != journal.OutcomeSkippedUnconfirmed {
				log.Println("Skipping trigger: acquisition start not reconfirmed")
			}
			c.metrics.SkippedUnconfirmed.Inc()
			c.record(journal.OutcomeSkippedUnconfirmed, 0)
			time.Sleep(c.pollInterval)
			continue
		}

		c.fire()
	}
}

// fire dispatches exactly one trigger request and routes the outcome.
// The start signal is cleared whatever the peer answered, so one start
// pulse can never produce two triggers.
func (c *Coordinator) fire() {
	log.Printf("Sending trigger with %d settings keys", len(c.request.Lightsheet))

	began := time.Now()
	d, ok := c.link.SendTriggerAndAwaitDuration(c.request)
	elapsed := time.Since(began)

	c.fired.Add(1)
	c.metrics.TriggersFired.Inc()
	c.metrics.RoundTrip.Observe(elapsed.Seconds())

	if ok {
		c.durations.Put(d)
		c.metrics.DurationsDelivered.Inc()
		c.metrics.LastDuration.Set(d)
		log.Printf("Trigger answered: duration %g", d)
		c.record(journal.OutcomeDelivered, elapsed.Milliseconds())
	} else {
		log.Println("Trigger answered: no duration")
		c.metrics.AbsentResults.Inc()
		c.record(journal.OutcomeAbsent, elapsed.Milliseconds())
	}

	c.start.Clear()
}

// drainSettings empties the settings queue and keeps only the newest
// payload. Everything older is stale by definition and dropped.
func (c *Coordinator) drainSettings() {
	var last map[string]any
	n := 0
	for {
		v, ok := c.settings.TryPop()
		if !ok {
			break
		}
		last = v
		n++
	}
	if n == 0 {
		return
	}
	c.request = settings.NewRequest(last)
	c.metrics.SettingsApplied.Inc()
	if n > 1 {
		c.metrics.SettingsDiscarded.Add(float64(n - 1))
	}
}

// triggerCondition reports whether this cycle should fire. With the
// scanning trigger disabled the answer is always no: triggering is
// driven elsewhere and this loop stays passive.
func (c *Coordinator) triggerCondition() bool {
	if !c.scanningTrigger {
		return false
	}

	start := c.start.IsSet()
	saving := c.saving.IsSet()
	triggered := c.hardwareTriggered.IsSet()
	waiting := c.waiting.IsSet()
	cond := start && saving && triggered && !waiting
	c.condNow.Store(cond)

	if cond != c.lastCond {
		log.Printf("Trigger condition changed: start=%t, saving=%t, hardware_triggered=%t, waiting=%t -> %t",
			start, saving, triggered, waiting, cond)
		c.lastCond = cond
		c.metrics.ConditionTransitions.Inc()
	}
	return cond
}

// Fired reports how many trigger requests have been dispatched so far.
func (c *Coordinator) Fired() int64 {
	return c.fired.Load()
}

// ConditionMet reports the gating condition as of its last evaluation.
// Always false with the scanning trigger disabled.
func (c *Coordinator) ConditionMet() bool {
	return c.condNow.Load()
}

// record writes a journal entry. Consecutive identical skip outcomes
// collapse into one entry so a long skip episode does not flood the
// journal; fired outcomes are always written. Reported durations stay
// out of the journal: the entry holds outcome and latency, nothing more.
func (c *Coordinator) record(o journal.Outcome, latencyMS int64) {
	skip := o == journal.OutcomeSkippedUnconfirmed || o == journal.OutcomeSkippedNoSettings
	if skip && o == c.lastOutcome {
		return
	}
	c.lastOutcome = o

	entry := journal.Entry{
		Timestamp: time.Now(),
		Outcome:   o,
		LatencyMS: latencyMS,
	}
	if _, err := c.journal.Record(context.Background(), entry); err != nil {
		log.Printf("Warning: journal write failed: %v", err)
	}
}
