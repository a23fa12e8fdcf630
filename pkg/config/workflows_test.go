package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/automata/pkg/config"
	"github.com/dukex/automata/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const welcomeYAML = `
id: welcome
name: Welcome sequence
status: active
trigger_type: event
trigger_config:
  event_name: contact.created
error_handling: retry
max_retries: 2
nodes:
  - id: start
    type: trigger
  - id: wait
    type: delay
    data:
      duration: 24h
  - id: email
    type: sendEmail
    data:
      to: "{{ trigger.email }}"
      template_id: welcome-1
edges:
  - source: start
    target: wait
  - source: wait
    target: email
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestParse_SingleWorkflow(t *testing.T) {
	workflows, err := config.Parse([]byte(welcomeYAML))
	require.NoError(t, err)
	require.Len(t, workflows, 1)

	wf := workflows[0]
	assert.Equal(t, "welcome", wf.ID)
	assert.Equal(t, models.WorkflowStatusActive, wf.Status)
	assert.Equal(t, models.TriggerTypeEvent, wf.TriggerType)
	assert.Equal(t, models.ErrorHandlingRetry, wf.ErrorHandling)
	assert.Equal(t, 2, wf.MaxRetries)
	assert.JSONEq(t, `{"event_name":"contact.created"}`, string(wf.TriggerConfig))

	require.Len(t, wf.Nodes, 3)
	assert.JSONEq(t, `{"duration":"24h"}`, string(wf.Nodes[1].Data))
	assert.Equal(t, []models.Edge{{Source: "start", Target: "wait"}, {Source: "wait", Target: "email"}}, wf.Edges)

	cfg, err := wf.EventTrigger()
	require.NoError(t, err)
	assert.Equal(t, "contact.created", cfg.EventName)
}

func TestParse_DocumentsAndLists(t *testing.T) {
	data := `
workflows:
  - name: Lead scoring
    trigger_type: manual
  - name: Demo request
    trigger_type: webhook
    trigger_config: {path: forms/demo}
---
{"name": "Nightly digest", "trigger_type": "schedule", "trigger_config": {"cron": "@daily"}}
`

	workflows, err := config.Parse([]byte(data))
	require.NoError(t, err)
	require.Len(t, workflows, 3)

	assert.Equal(t, "Lead scoring", workflows[0].Name)
	assert.Equal(t, models.TriggerTypeWebhook, workflows[1].TriggerType)
	assert.Equal(t, models.TriggerTypeSchedule, workflows[2].TriggerType)
}

func TestParse_Rejects(t *testing.T) {
	for name, data := range map[string]string{
		"unknown key":        "name: x\ntriger_type: manual\n",
		"workflows not list": "workflows: {name: x}\n",
		"malformed yaml":     "name: [unterminated\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadWorkflows_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-welcome.yaml", welcomeYAML)
	writeFile(t, dir, "a-manual.json", `{"id":"manual","name":"Manual","trigger_type":"manual"}`)
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	defs, err := config.LoadWorkflows(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "manual", defs[0].Workflow.ID)
	assert.Equal(t, filepath.Join(dir, "a-manual.json"), defs[0].Source)
	assert.Equal(t, "welcome", defs[1].Workflow.ID)
}

func TestLoadWorkflows_Errors(t *testing.T) {
	_, err := config.LoadWorkflows(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = config.LoadWorkflows(t.TempDir())
	require.ErrorIs(t, err, config.ErrNoDefinitions)

	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "name: x\nnodes: 3\n")

	_, err = config.LoadWorkflows(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoadFile_MultipleSources(t *testing.T) {
	path := writeFile(t, t.TempDir(), "all.yaml", welcomeYAML+"---\nname: Other\ntrigger_type: manual\n")

	defs, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, path+"#0", defs[0].Source)
	assert.Equal(t, path+"#1", defs[1].Source)
}
