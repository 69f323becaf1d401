// Package notify routes qualifying vehicle events to notification channels
// under operator-defined rules and rate limits.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"gatewatch/internal/domain/vehicle"
	"gatewatch/internal/metrics"
)

// RuleSource loads the enabled notification rules for a gate.
type RuleSource interface {
	RulesForGate(ctx context.Context, gateID int64) ([]vehicle.NotificationRule, error)
}

// Dispatcher fans events out to channel senders. Dispatch is fire-and-forget
// from the pipeline's view: events are queued and a worker goroutine does the
// rule evaluation and sends, so network-bound transports never stall frame
// processing.
type Dispatcher struct {
	rules    RuleSource
	senders  map[vehicle.Channel]Sender
	cache    *gocache.Cache
	debounce *debounceGate
	metrics  *metrics.Metrics
	log      zerolog.Logger

	queue chan vehicle.Event
	wg    sync.WaitGroup
}

type Options struct {
	DebounceWindow time.Duration
	QueueSize      int
	RuleCacheTTL   time.Duration
	Now            func() time.Time // test hook, defaults to time.Now
}

func NewDispatcher(rules RuleSource, senders map[vehicle.Channel]Sender, m *metrics.Metrics, log zerolog.Logger, opts Options) *Dispatcher {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.RuleCacheTTL <= 0 {
		opts.RuleCacheTTL = 30 * time.Second
	}
	return &Dispatcher{
		rules:    rules,
		senders:  senders,
		cache:    gocache.New(opts.RuleCacheTTL, 2*opts.RuleCacheTTL),
		debounce: newDebounceGate(opts.DebounceWindow, opts.Now),
		metrics:  m,
		log:      log.With().Str("component", "dispatcher").Logger(),
		queue:    make(chan vehicle.Event, opts.QueueSize),
	}
}

// Start launches the queue worker. Stop by cancelling ctx; Wait blocks until
// the worker has flushed whatever was already enqueued.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				d.drainQueue()
				return
			case ev := <-d.queue:
				d.dispatch(ctx, ev)
			}
		}
	}()
}

// drainQueue flushes events enqueued before shutdown so a persisted event does
// not silently lose its notification. Sends run on a fresh context because the
// worker's is already cancelled.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case ev := <-d.queue:
			d.dispatch(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch enqueues an event without blocking the caller. A full queue drops
// the event's notifications (never its persistence) and counts the drop.
func (d *Dispatcher) Dispatch(ev vehicle.Event) {
	select {
	case d.queue <- ev:
	default:
		d.log.Warn().Int64("event_id", ev.ID).Msg("notification queue full, dropping")
		d.metrics.IncNotification("queue", "dropped")
	}
}

// InvalidateGate evicts a gate's cached rules after a rule write.
func (d *Dispatcher) InvalidateGate(gateID int64) {
	d.cache.Delete(ruleCacheKey(gateID))
}

func ruleCacheKey(gateID int64) string {
	return "gate:" + strconv.FormatInt(gateID, 10)
}

func (d *Dispatcher) rulesForGate(ctx context.Context, gateID int64) ([]vehicle.NotificationRule, error) {
	key := ruleCacheKey(gateID)
	if cached, ok := d.cache.Get(key); ok {
		return cached.([]vehicle.NotificationRule), nil
	}
	rules, err := d.rules.RulesForGate(ctx, gateID)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(key, rules)
	return rules, nil
}

// dispatch runs the full rule evaluation for one event. Errors here are
// terminal for the notification only; nothing escalates to the caller.
func (d *Dispatcher) dispatch(ctx context.Context, ev vehicle.Event) {
	rules, err := d.rulesForGate(ctx, ev.GateID)
	if err != nil {
		d.log.Error().Err(err).Int64("gate_id", ev.GateID).Msg("failed to load notification rules")
		return
	}

	confidencePct := ev.Confidence * 100

	// recipients unioned per channel across surviving rules
	recipients := make(map[vehicle.Channel][]string)
	seen := make(map[vehicle.Channel]map[string]bool)
	candidates := make([]vehicle.Channel, 0, 3)

	for _, rule := range rules {
		if !rule.Enabled || float64(rule.MinConfidence) > confidencePct {
			continue
		}
		if !rule.AllowsDirection(ev.Direction) || !rule.AllowsVehicleType(ev.VehicleType) {
			continue
		}
		if _, ok := seen[rule.Channel]; !ok {
			candidates = append(candidates, rule.Channel)
			seen[rule.Channel] = make(map[string]bool)
		}
		for _, rcpt := range rule.RecipientList() {
			if !seen[rule.Channel][rcpt] {
				seen[rule.Channel][rcpt] = true
				recipients[rule.Channel] = append(recipients[rule.Channel], rcpt)
			}
		}
	}

	// per-(gate, channel) cooldown: inside the window the channel drops silently
	channels := candidates[:0]
	for _, ch := range candidates {
		if d.debounce.Allow(fmt.Sprintf("%d:%s", ev.GateID, ch)) {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return
	}

	subject, body := composeMessage(ev)

	for _, ch := range channels {
		sender, ok := d.senders[ch]
		if !ok {
			d.log.Warn().Str("channel", string(ch)).Msg("no sender for channel")
			d.metrics.IncNotification(string(ch), "failure")
			continue
		}
		msg := Message{Subject: subject, Body: body, Recipients: recipients[ch]}
		if err := d.send(ctx, sender, msg); err != nil {
			d.log.Error().
				Err(err).
				Str("channel", string(ch)).
				Int64("event_id", ev.ID).
				Msg("notification send failed")
			d.metrics.IncNotification(string(ch), "failure")
			continue
		}
		d.log.Info().
			Str("channel", string(ch)).
			Int64("event_id", ev.ID).
			Int("recipients", len(recipients[ch])).
			Msg("notification sent")
		d.metrics.IncNotification(string(ch), "success")
	}
}

// send shields the worker from a misbehaving transport: a panicking sender
// becomes an ordinary send error, so the remaining channels still go out and
// the queue worker stays alive.
func (d *Dispatcher) send(ctx context.Context, sender Sender, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return sender.Send(ctx, msg)
}

func composeMessage(ev vehicle.Event) (subject, body string) {
	gate := ev.GateName
	if gate == "" {
		gate = fmt.Sprintf("gate %d", ev.GateID)
	}
	camera := ev.CameraName
	if camera == "" {
		camera = fmt.Sprintf("camera %d", ev.CameraID)
	}
	snapshot := ""
	if ev.SnapshotURL != nil {
		snapshot = *ev.SnapshotURL
	}
	subject = fmt.Sprintf("Vehicle %s at %s", ev.Direction, gate)
	body = fmt.Sprintf("Time: %s\nGate: %s\nCamera: %s\nType: %s\nSnapshot: %s\n",
		ev.Timestamp.Format(time.RFC3339), gate, camera, ev.VehicleType, snapshot)
	return subject, body
}
