package main

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartDetached_ReapsProcess(t *testing.T) {
	bin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}

	done, err := startDetached(exec.Command(bin))
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("launcher was not waited on")
	}
}

func TestStartDetached_StartFailure(t *testing.T) {
	done, err := startDetached(exec.Command("/nonexistent/ach-browser-launcher"))
	require.Error(t, err)
	assert.Nil(t, done)
}
