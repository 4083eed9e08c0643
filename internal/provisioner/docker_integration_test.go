//go:build integration

package provisioner

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestDockerRuntime_LaunchAndWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := logrus.NewEntry(logrus.New())
	runtime, err := NewDockerRuntime(ctx, logger)
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	defer runtime.Close()

	id, err := NewExecLauncher(logger).Launch(ctx, []string{"docker", "run", "-d", "--rm", "alpine", "sleep", "1"})
	require.NoError(t, err)

	list, err := runtime.ListRunning(ctx)
	require.NoError(t, err)
	found := false
	for _, c := range list {
		if c.ID == id.String() {
			found = true
		}
	}
	require.True(t, found, "launched container should be listed as running")

	require.NoError(t, runtime.Wait(ctx, id))
}
