package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"application_stats_bot/internal/domain/chat"
	"application_stats_bot/internal/domain/report"
	"application_stats_bot/internal/domain/store"
	"application_stats_bot/internal/infra/telemetry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Action is what a tick did to a monitored channel.
type Action string

const (
	ActionEdited Action = "edited"
	ActionSent   Action = "sent"
)

// ReportTarget is one monitored channel.
type ReportTarget struct {
	Name      string
	Messenger chat.Messenger
	GuildID   string
	ChannelID string
}

// Heartbeat records that a tick completed.
type Heartbeat interface {
	Beat(at time.Time) error
}

// StatsReporter keeps exactly one up-to-date stats message in each monitored channel.
type StatsReporter struct {
	counter   store.Counter
	targets   []ReportTarget
	window    report.Window
	interval  time.Duration
	heartbeat Heartbeat
	now       func() time.Time
	logger    *logrus.Entry
}

func NewStatsReporter(counter store.Counter, targets []ReportTarget, window report.Window, interval time.Duration, heartbeat Heartbeat, logger *logrus.Entry) *StatsReporter {
	return &StatsReporter{
		counter:   counter,
		targets:   targets,
		window:    window,
		interval:  interval,
		heartbeat: heartbeat,
		now:       time.Now,
		logger:    logger,
	}
}

type preparedTarget struct {
	target ReportTarget
	last   *chat.Message
}

// Tick runs one reconciliation: resolve each channel and its latest message, compute a
// fresh snapshot, then edit our own latest message or post a new one.
// Errors are returned for logging only; a failing target does not stop the others.
func (r *StatsReporter) Tick(ctx context.Context) error {
	log := r.logger.WithField("tick_id", uuid.NewString())
	start := time.Now()
	defer func() {
		telemetry.ReportTickDuration.Observe(time.Since(start).Seconds())
	}()

	var errs []error
	var prepared []preparedTarget
	for _, t := range r.targets {
		last, err := r.prepare(ctx, t)
		if err != nil {
			telemetry.ReportTickFailures.WithLabelValues("resolve").Inc()
			log.WithError(err).WithField("target", t.Name).Error("Failed to resolve report channel")
			errs = append(errs, err)
			continue
		}
		prepared = append(prepared, preparedTarget{target: t, last: last})
	}
	if len(prepared) == 0 {
		return errors.Join(errs...)
	}

	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		telemetry.ReportTickFailures.WithLabelValues("snapshot").Inc()
		log.WithError(err).Error("Failed to compute stats snapshot")
		return errors.Join(append(errs, err)...)
	}
	now := r.now()
	embed := report.Render(snapshot, r.interval, now)

	for _, p := range prepared {
		targetLog := log.WithFields(logrus.Fields{"target": p.target.Name, "channel_id": p.target.ChannelID})
		action, err := r.upsert(ctx, p.target, p.last, embed)
		if err != nil {
			telemetry.ReportTickFailures.WithLabelValues("upsert").Inc()
			targetLog.WithError(err).Error("Failed to update stats message")
			errs = append(errs, err)
			continue
		}
		telemetry.ReportTicks.WithLabelValues(p.target.Name, string(action)).Inc()
		if action == ActionEdited {
			targetLog.Info("Edited last message")
		} else {
			targetLog.Info("Sent new message")
		}
	}

	if r.heartbeat != nil {
		if err := r.heartbeat.Beat(now); err != nil {
			log.WithError(err).Warn("Failed to append heartbeat")
		}
	}
	return errors.Join(errs...)
}

// Snapshot reads both counts and derives the report figures. The two counts are
// separate queries and may observe different instants.
func (r *StatsReporter) Snapshot(ctx context.Context) (*report.Snapshot, error) {
	submitted, err := r.counter.Count(ctx, store.CollectionApplications)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", store.CollectionApplications, err)
	}
	drafts, err := r.counter.Count(ctx, store.CollectionApplicationDrafts)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", store.CollectionApplicationDrafts, err)
	}
	return report.NewSnapshot(submitted, submitted+drafts, r.window, r.now())
}

func (r *StatsReporter) prepare(ctx context.Context, t ReportTarget) (*chat.Message, error) {
	if err := t.Messenger.ResolveChannel(ctx, t.GuildID, t.ChannelID); err != nil {
		return nil, fmt.Errorf("%s: failed to resolve channel %s: %w", t.Name, t.ChannelID, err)
	}
	last, err := t.Messenger.LastMessage(ctx, t.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to fetch last message in %s: %w", t.Name, t.ChannelID, err)
	}
	return last, nil
}

// upsert edits last when the bot wrote it and posts a new message otherwise.
// Another author may post between the read and the write; that is tolerated.
func (r *StatsReporter) upsert(ctx context.Context, t ReportTarget, last *chat.Message, embed *chat.Embed) (Action, error) {
	self := t.Messenger.SelfID()
	if last != nil && self != "" && last.AuthorID == self {
		if err := t.Messenger.EditEmbed(ctx, t.ChannelID, last.ID, embed); err != nil {
			return "", fmt.Errorf("%s: failed to edit message %s: %w", t.Name, last.ID, err)
		}
		return ActionEdited, nil
	}
	if _, err := t.Messenger.SendEmbed(ctx, t.ChannelID, embed); err != nil {
		return "", fmt.Errorf("%s: failed to send message: %w", t.Name, err)
	}
	return ActionSent, nil
}
