// control/hotreload.go
// Reloads the configuration store when the process receives a signal.

package control

import (
	"context"
	"os"
	"os/signal"
)

// ReloadOnSignal calls store.Reload for every delivery of one of sigs until
// ctx ends. Reload errors go to onError and leave the snapshot unchanged.
func ReloadOnSignal(ctx context.Context, store *ConfigStore, onError func(error), sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if err := store.Reload(); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}
