package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndCreatePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repmgrd.pid")

	assert.NoError(t, checkAndCreatePIDFile(path))

	b, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", os.Getpid()), strings.TrimSpace(string(b)))
}

func TestCheckAndCreatePIDFile_RefusesLivePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repmgrd.pid")

	// our own PID is certainly alive
	assert.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644))

	assert.Error(t, checkAndCreatePIDFile(path))
}

func TestCheckAndCreatePIDFile_OverwritesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repmgrd.pid")

	// PID 0 never names a live process we could signal
	assert.NoError(t, os.WriteFile(path, []byte("0\n"), 0o644))

	assert.NoError(t, checkAndCreatePIDFile(path))

	b, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", os.Getpid()), strings.TrimSpace(string(b)))
}

func TestRemovePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repmgrd.pid")
	assert.NoError(t, os.WriteFile(path, []byte("1234\n"), 0o644))

	removePIDFile(path)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
