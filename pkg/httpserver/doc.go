// Package httpserver runs the billing HTTP surface: a thin wrapper around
// net/http with context-driven graceful shutdown, env-tunable timeouts, and a
// readiness handler for the infrastructure dependencies.
//
// Run blocks until the given context is canceled and then drains in-flight
// requests within the shutdown timeout. The server deliberately does not
// listen for OS signals; the daemon owns signal handling and cancels the
// context it passes in. Defaults are sized for webhook traffic (small JSON
// bodies, long-lived gateway connection pools).
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Listen failures are wrapped with ErrStart and drain failures with
// ErrShutdown; distinguish them with errors.Is.
package httpserver
