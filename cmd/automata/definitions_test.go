package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/automata/pkg/cmd"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/persistence"
	"github.com/dukex/automata/pkg/persistence/file"
	"github.com/dukex/automata/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboardingYAML = `
id: onboarding
name: Onboarding
status: active
trigger_type: webhook
trigger_config:
  path: forms/signup
nodes:
  - id: start
    type: trigger
  - id: hot
    type: condition
    data:
      field: trigger.plan
      operator: equals
      value: enterprise
edges:
  - source: start
    target: hot
`

const orphanYAML = `
name: Orphan node
nodes:
  - id: start
    type: trigger
  - id: lonely
    type: delay
    data:
      duration: 1h
`

func newService(t *testing.T) (*services.Workflow, persistence.Persistence) {
	t.Helper()

	registry, err := cmd.NewRegistry(log.Discard(), cmd.CollaboratorConfig{})
	require.NoError(t, err)

	store := file.NewPersistence(t.TempDir())

	return services.NewWorkflow(store, services.WithNodeValidator(registry), services.WithLogger(log.Discard())), store
}

func writeDefinitions(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	return dir
}

func TestValidateDefinitions(t *testing.T) {
	service, _ := newService(t)
	dir := writeDefinitions(t, map[string]string{"a.yaml": onboardingYAML, "b.yaml": orphanYAML})

	var out bytes.Buffer

	err := validateDefinitions(&out, service, dir)
	require.ErrorIs(t, err, errInvalidDefinitions)

	assert.Contains(t, out.String(), "ok   "+filepath.Join(dir, "a.yaml")+" (Onboarding)")
	assert.Contains(t, out.String(), "FAIL "+filepath.Join(dir, "b.yaml"))
	assert.Contains(t, out.String(), "node lonely is not reachable from the trigger")
}

func TestImportDefinitions(t *testing.T) {
	service, store := newService(t)
	dir := writeDefinitions(t, map[string]string{"onboarding.yaml": onboardingYAML})

	var out bytes.Buffer

	require.NoError(t, importDefinitions(t.Context(), &out, service, dir))
	assert.Equal(t, "created onboarding Onboarding (active)\n", out.String())

	out.Reset()
	require.NoError(t, importDefinitions(t.Context(), &out, service, dir))
	assert.Equal(t, "updated onboarding Onboarding (active)\n", out.String())

	wf, err := store.WorkflowRepository().GetByID(t.Context(), "onboarding")
	require.NoError(t, err)
	assert.Len(t, wf.Nodes, 2)
}

func TestImportDefinitions_StoresNothingWhenInvalid(t *testing.T) {
	service, store := newService(t)
	dir := writeDefinitions(t, map[string]string{"a.yaml": onboardingYAML, "b.yaml": orphanYAML})

	var out bytes.Buffer

	require.ErrorIs(t, importDefinitions(t.Context(), &out, service, dir), errInvalidDefinitions)
	assert.Empty(t, out.String())

	all, err := store.WorkflowRepository().GetAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all)
}
