package provider

import (
	"context"
	"errors"
	"io"

	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/pkg/models"
)

var (
	ErrServerURLRequired = errors.New("server URL is required")
	ErrSubmitFailed      = errors.New("generation request failed")
	ErrCancelFailed      = errors.New("cancel request failed")
	ErrHistoryFailed     = errors.New("history request failed")
	ErrDownloadFailed    = errors.New("artifact download failed")
)

// Backend is the generation server as the client sees it.
type Backend interface {
	// Submit posts a request and returns the event stream body. The caller
	// owns and must close it.
	Submit(ctx context.Context, req *models.Request) (io.ReadCloser, error)
	// Cancel asks the server to stop the running job. It does not touch any
	// open stream.
	Cancel(ctx context.Context) error
	// History fetches the run log in generation order.
	History(ctx context.Context) ([]models.GenerationRecord, error)
	// Fetch downloads an artifact by its reference.
	Fetch(ctx context.Context, ref string) ([]byte, error)
	// ResolveURL turns an artifact reference into an absolute URL.
	ResolveURL(ref string) (string, error)
}

type Config struct {
	BaseURL    string
	TimeoutSec int
	Verbose    bool
	Logger     *logging.Logger
}
