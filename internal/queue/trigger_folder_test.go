// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package queue_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axion-inc/DesktopAgent/internal/queue"
)

func TestFolderTrigger_CollapsesBurstToLastPath(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var seen []string

	trigger, err := queue.NewFolderTrigger(dir, 50, func(path string) error {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer trigger.Close()

	first := filepath.Join(dir, "a.txt")
	second := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(first, []byte("1"), 0o644))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(second, []byte("2"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, second, seen[0])
}

func TestFolderTrigger_SeparateBurstsEachEnqueue(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var seen []string

	trigger, err := queue.NewFolderTrigger(dir, 20, func(path string) error {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer trigger.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.txt"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.txt"), []byte("y"), 0o644))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)
}
