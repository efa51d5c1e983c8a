// Package app wires the lifecycle services over one Postgres database.
package app

import (
	"engageflow/cascade"
	"engageflow/channel"
	"engageflow/config"
	"engageflow/contract"
	"engageflow/db"
	"engageflow/event"
	"engageflow/logger"
	"engageflow/milestone"
	"engageflow/notify"
	"engageflow/outbox"
	"engageflow/payment"
	"engageflow/project"
	"engageflow/proposal"
	"engageflow/schedule"
)

// Database is what *pgxpool.Pool offers the services and side-effect sinks.
type Database interface {
	db.TxBeginner
	notify.Execer
	notify.Querier
}

type Options struct {
	Engagement              config.EngagementConfig
	BestEffortNotifications bool

	// Mailer defaults to a mailer that only logs.
	Mailer      event.Mailer
	SNS         notify.SNSPublisher
	SNSTopicARN string
	// Channels defaults to the plain Postgres provisioner.
	Channels channel.Provisioner
	Log      logger.Logger
}

type App struct {
	Runner     *event.Runner
	Factory    *contract.Factory
	Cascade    *cascade.Engine
	Proposals  *proposal.Service
	Contracts  *contract.Service
	Milestones *milestone.Service
	Payments   *payment.Service
}

func New(database Database, opts Options) *App {
	log := opts.Log
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	mailer := opts.Mailer
	if mailer == nil {
		mailer = notify.NewLogMailer(log)
	}
	channels := opts.Channels
	if channels == nil {
		channels = channel.NewPGProvisioner()
	}
	currency := opts.Engagement.DefaultCurrency
	if currency == "" {
		currency = "USD"
	}

	notifier := notify.NewStore(database)
	if opts.SNS != nil && opts.SNSTopicARN != "" {
		notifier = notifier.WithSNS(opts.SNS, opts.SNSTopicARN)
	}
	dispatcher := event.NewDispatcher(notifier, mailer, notify.NewDirectory(database), log).
		WithBestEffortNotifications(opts.BestEffortNotifications)
	runner := event.NewRunner(database, outbox.NewWriter(), dispatcher)

	projects := project.NewRepository()
	contracts := contract.NewRepository()
	milestones := milestone.NewRepository()

	factory := contract.NewFactory(contracts, milestones, channels, currency).
		WithScheduleOptions(schedule.Options{AbsorbResidue: opts.Engagement.AbsorbRoundingResidue})
	engine := cascade.NewEngine(runner, contracts, milestones, projects, log)

	return &App{
		Runner:     runner,
		Factory:    factory,
		Cascade:    engine,
		Proposals:  proposal.NewService(runner, proposal.NewRepository(), projects, factory, currency, log),
		Contracts:  contract.NewService(runner, contracts, milestones, projects, factory, log),
		Milestones: milestone.NewService(runner, milestones, engine, log),
		Payments:   payment.NewService(runner, payment.NewRepository(), contracts, milestones, currency, log),
	}
}
