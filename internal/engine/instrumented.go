package engine

import (
	"context"

	"github.com/italolelis/game_downloader/internal/telemetry"
)

// InstrumentedEngine wraps an Engine with telemetry.
type InstrumentedEngine struct {
	engine    Engine
	telemetry *telemetry.Telemetry
}

// NewInstrumentedEngine creates a new instrumented engine.
func NewInstrumentedEngine(eng Engine, tel *telemetry.Telemetry) *InstrumentedEngine {
	return &InstrumentedEngine{
		engine:    eng,
		telemetry: tel,
	}
}

func (e *InstrumentedEngine) Name() string {
	return e.engine.Name()
}

// CreateSession creates a session with telemetry.
func (e *InstrumentedEngine) CreateSession(ctx context.Context, root string) (Session, error) {
	var ses Session

	err := e.telemetry.InstrumentEngineOperation(ctx, e.engine.Name(), "create_session", func(ctx context.Context) error {
		var err error

		ses, err = e.engine.CreateSession(ctx, root)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &instrumentedSession{session: ses, engine: e.engine.Name(), telemetry: e.telemetry}, nil
}

type instrumentedSession struct {
	session   Session
	engine    string
	telemetry *telemetry.Telemetry
}

func (s *instrumentedSession) Add(ctx context.Context, identifier string, opts AddOptions) (Handle, error) {
	var h Handle

	err := s.telemetry.InstrumentEngineOperation(ctx, s.engine, "add", func(ctx context.Context) error {
		var err error

		h, err = s.session.Add(ctx, identifier, opts)

		return err
	})
	if err != nil {
		return nil, err
	}

	return h, nil
}

func (s *instrumentedSession) Close() error {
	return s.telemetry.InstrumentEngineOperation(context.Background(), s.engine, "close_session", func(context.Context) error {
		return s.session.Close()
	})
}
