// Package bootstrap wires configuration, storage, sinks and the detector
// into a running application and tears it down in order.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, bootstrap.Options{ConfigPath: path})
//	if err != nil {
//	    return err
//	}
//	if err := app.Start(ctx); err != nil {
//	    _ = app.Shutdown(ctx)
//	    return err
//	}
//	app.WaitForShutdown(ctx)
//	return app.Shutdown(ctx)
package bootstrap
