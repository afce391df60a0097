package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willexec/willexec/internal/domain/execution"
	"github.com/willexec/willexec/internal/infrastructure/memory"
	"github.com/willexec/willexec/internal/infrastructure/storage"
)

const willYAML = `statementText: "three ways"
executorIdentity: "exec-1"
pollIntervalSeconds: 3600
beneficiaries:
  - accountId: alice
    splitWeight: "1"
  - accountId: bob
    splitWeight: "1"
  - accountId: carol
    splitWeight: "1"
monitoredAccounts:
  - platform: checkin
    identifier: principal
    graceWindowDays: "30"
`

func newStores() *storage.Stores {
	return &storage.Stores{
		Wills:      memory.NewWillRepository(),
		Executions: memory.NewExecutionRepository(),
	}
}

func run(t *testing.T, stores *storage.Stores, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func(ctx context.Context) (*storage.Stores, error) { return stores, nil }, zerolog.Nop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeWill(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "will.yaml")
	require.NoError(t, os.WriteFile(path, []byte(willYAML), 0o600))
	return path
}

func TestWillApplyAndShow(t *testing.T) {
	stores := newStores()
	path := writeWill(t)

	out, err := run(t, stores, "will", "apply", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 beneficiaries, 1 monitored accounts")

	out, err = run(t, stores, "will", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "executorIdentity: exec-1")
	assert.Contains(t, out, "accountId: carol")

	out, err = run(t, stores, "will", "show", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"executorIdentity": "exec-1"`)
}

func TestWillShow_NotConfigured(t *testing.T) {
	_, err := run(t, newStores(), "will", "show")
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	stores := newStores()
	_, err := run(t, stores, "will", "apply", "-f", writeWill(t))
	require.NoError(t, err)

	out, err := run(t, stores, "split", "--total", "100")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"alice", "1", "33"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"bob", "1", "33"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"carol", "1", "34"}, strings.Fields(lines[3]))

	_, err = run(t, stores, "split")
	assert.Error(t, err)
}

func TestSplit_FromFile(t *testing.T) {
	out, err := run(t, newStores(), "split", "--total", "10", "--file", writeWill(t))
	require.NoError(t, err)
	assert.Contains(t, out, "carol")
}

func TestExecutionListAndReset(t *testing.T) {
	stores := newStores()
	out, err := run(t, stores, "execution", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no executions")

	exec := execution.NewExecution(10, "inactive", []execution.Allocation{{AccountID: "alice", Amount: 10}}, time.Now().UTC())
	require.NoError(t, stores.Executions.Create(context.Background(), exec))

	out, err = run(t, stores, "execution", "list")
	require.NoError(t, err)
	assert.Contains(t, out, exec.ExecutionID.String())
	assert.Contains(t, out, "PENDING")

	_, err = run(t, stores, "execution", "reset")
	assert.Error(t, err)

	out, err = run(t, stores, "execution", "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "archived 1 execution(s)")

	active, err := stores.Executions.Active(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}
