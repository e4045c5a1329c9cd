package main

import (
	"context"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/ids"
	"github.com/go-go-golems/parley/pkg/persistence"
	"github.com/go-go-golems/parley/pkg/replyclient"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/templates"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/go-go-golems/parley/pkg/workspace"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type appSettings struct {
	replyclient.Settings `mapstructure:",squash"`

	FailureDelay    time.Duration `mapstructure:"failure-delay"`
	FallbackMessage string        `mapstructure:"fallback-message"`
	DB              string        `mapstructure:"db"`
	Templates       string        `mapstructure:"templates"`
	Folders         []string      `mapstructure:"folders"`
	DefaultFolder   string        `mapstructure:"default-folder"`
}

func loadSettings() (*appSettings, error) {
	s := &appSettings{}
	if err := viper.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	return s, nil
}

// app is the wired set of components shared by the commands.
type app struct {
	settings *appSettings
	counter  *ids.Counter
	store    *conversations.Store
	engine   *transitions.Engine
	ctrl     *replysync.Controller
	ws       *workspace.Workspace
	db       *persistence.SQLiteStore
}

type appOption func(*appOptions)

type appOptions struct {
	sink events.EventSink
}

func withEventSink(sink events.EventSink) appOption {
	return func(o *appOptions) {
		o.sink = sink
	}
}

func newApp(ctx context.Context, s *appSettings, options ...appOption) (*app, error) {
	opts := &appOptions{sink: events.NullSink{}}
	for _, o := range options {
		o(opts)
	}

	service, err := replyclient.New(s.Settings)
	if err != nil {
		return nil, err
	}

	lib := templates.Default()
	if s.Templates != "" {
		lib, err = templates.LoadFile(s.Templates)
		if err != nil {
			return nil, err
		}
	}

	counter := ids.NewCounter(0)
	storeOptions := []conversations.StoreOption{conversations.WithIDGenerator(counter)}
	if s.DefaultFolder != "" {
		storeOptions = append(storeOptions, conversations.WithDefaultFolder(s.DefaultFolder))
	}
	store := conversations.NewStore(storeOptions...)

	a := &app{
		settings: s,
		counter:  counter,
		store:    store,
	}

	if s.DB != "" {
		a.db, err = persistence.Open(s.DB)
		if err != nil {
			return nil, err
		}
		if err := a.db.Restore(ctx, store, counter); err != nil {
			_ = a.db.Close()
			return nil, err
		}
		a.db.Attach(store)
	}

	if err := store.SeedFolders(s.Folders...); err != nil {
		a.close()
		return nil, err
	}

	events.ForwardCommits(store, opts.sink)

	ctrlOptions := []replysync.Option{replysync.WithEventSink(opts.sink)}
	if s.FailureDelay > 0 {
		ctrlOptions = append(ctrlOptions, replysync.WithFailureDelay(s.FailureDelay))
	}
	if s.FallbackMessage != "" {
		ctrlOptions = append(ctrlOptions, replysync.WithFallbackMessage(s.FallbackMessage))
	}
	a.engine = transitions.NewEngine(counter, nil)
	a.ctrl = replysync.NewController(store, service, ctrlOptions...)
	a.ws = workspace.New(store, a.engine, a.ctrl, workspace.WithTemplates(lib))

	log.Debug().
		Str("backend", s.Backend).
		Str("db", s.DB).
		Int("conversations", store.Len()).
		Msg("Workspace ready")

	return a, nil
}

func (a *app) close() {
	if a.ctrl != nil {
		if err := a.ctrl.Close(); err != nil {
			log.Warn().Err(err).Msg("Could not close reply controller")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Could not close database")
		}
	}
}
