package session

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/manash/seedgraph/pkg/models"
)

// SubmitInterruptible runs Submit while watching signals. The first signal
// sends a cancel request to the backend; the session still ends when the
// server closes the stream.
func (c *Controller) SubmitInterruptible(ctx context.Context, req *models.Request, signals <-chan os.Signal) (*Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	var res *Result
	g.Go(func() error {
		defer close(done)
		var err error
		res, err = c.Submit(ctx, req)
		return err
	})

	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
		case sig, ok := <-signals:
			if ok {
				c.log.Info("interrupt received, canceling generation", "signal", sig.String())
				c.Cancel(context.WithoutCancel(ctx))
			}
		}
		return nil
	})

	err := g.Wait()
	return res, err
}
