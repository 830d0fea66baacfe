// Package orchestrator runs shutdown and startup sequences.
//
// An execution is created from a frozen snapshot of its sequence: the
// compiled plan, the interlocks on its site and its permissives. Later
// catalog edits never reach a running execution.
//
// Lifecycle:
//
//	              approve             hold point
//	  pending ───────────────▶ running ─────────▶ paused
//	     │                      │  ▲                │
//	     │ reject               │  └─── continue ───┘
//	     ▼                      ▼
//	   failed        completed / failed / aborted
//
// Emergencies skip pending. Abort is valid from running and paused.
//
// Stage loop:
//
//	┌──────────────────────────────────────────────────────┐
//	│ for each stage from the resume point:                │
//	│   1. wait for permissives (bounded, polled)          │
//	│   2. evaluate interlocks, priority order             │
//	│   3. lock the stage's assets                         │
//	│   4. run steps: one goroutine each + WaitGroup       │
//	│   5. pause if a step is a hold point                 │
//	└──────────────────────────────────────────────────────┘
//
// Every transition and step outcome is appended to the execution log
// before it is visible through the API. Subscribe exposes the same
// transitions as events, and Forward relays them to MQTT.
//
// # Usage
//
//	engine, err := orchestrator.New(orchestrator.Deps{
//	    Catalog:    catalog,
//	    Evaluator:  condition.New(gateway),
//	    Dispatcher: dispatcher,
//	    Audit:      writer,
//	    Repository: orchestrator.NewSQLiteRepository(db.DB),
//	    Metrics:    influx,
//	    Logger:     log,
//	}, orchestrator.OptionsFromConfig(cfg.Sequencer))
//	writer.OnAppend(engine.PublishEntry)
//
//	exec, err := engine.Initiate(ctx, orchestrator.InitiateRequest{
//	    SequenceID: "seq-esd-1",
//	    Initiator:  "operator1",
//	    Reason:     "high pressure",
//	})
package orchestrator
