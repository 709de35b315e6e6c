package session

import (
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/pkg/models"
)

func TestController_SubmitInterruptibleCancelsOnSignal(t *testing.T) {
	backend := &fakeBackend{
		body:             stepLine + canceledLine,
		onCancel:         make(chan struct{}),
		blockUntilCancel: true,
	}
	c := NewController(backend, graph.New())

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGINT

	res, err := c.SubmitInterruptible(context.Background(), models.NewRequest("fox"), signals)
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, res.State)
	assert.Equal(t, 1, backend.cancels)
}

func TestController_SubmitInterruptibleWithoutSignal(t *testing.T) {
	backend := &fakeBackend{body: resultA}
	c := NewController(backend, graph.New())

	res, err := c.SubmitInterruptible(context.Background(), models.NewRequest("fox"), make(chan os.Signal))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 0, backend.cancels)
}
