// Package bootstrap provides application initialization and lifecycle management.
// It builds the logger, tracer, stores, correlation engine, SIEM service,
// notification sinks, HTTP API and Kafka consumer from configuration, and
// tears them down in reverse order.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, bootstrap.Options{ConfigFile: path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
package bootstrap
