// Package execution runs approved plans against the governed data store.
//
// Every plan runs inside a single transaction. A real run commits only when
// the statement succeeds and the impact guard passes; a dry run takes the
// same path and always rolls back. Reads that fail with a transient data
// store error are retried with bounded exponential backoff. Writes are never
// retried.
//
// Basic usage:
//
//	store, err := execution.Open(&cfg.DataStore)
//	if err != nil {
//	    return err
//	}
//	engine := execution.NewEngine(store, &cfg.Execution)
//	defer engine.Close()
//
//	outcome, err := engine.Execute(ctx, execution.Request{
//	    Actor:    actor,
//	    Plan:     &p,
//	    Decision: decision,
//	})
package execution
