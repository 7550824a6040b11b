package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWRT/task-lifecycle/internal/models"
	"github.com/TWRT/task-lifecycle/internal/repository"
	"github.com/TWRT/task-lifecycle/internal/service"
)

const sample = `
project: Plant
tasks:
  - name: Inspect valves
    sheet: Maintenance
    number: 1
    priority: critical
    duration: 2
  - name: Order gaskets
    sheet: Maintenance
    duration: undefined
  - name: Duplicate number
    sheet: Maintenance
    number: 1
  - name: Bad duration
    duration: soon
  - name: ""
`

func newService(t *testing.T) *service.TaskService {
	t.Helper()
	svc := service.NewTaskService(
		repository.NewMemoryTaskStore(),
		repository.NewMemoryProjectStore(),
		nil,
		service.Options{},
	)
	t.Cleanup(svc.Close)
	return svc
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Plant", f.Project)
	require.Len(t, f.Tasks, 5)
	assert.Equal(t, "2", f.Tasks[0].Duration)
	assert.Equal(t, "undefined", f.Tasks[1].Duration)
}

func TestParse_RequiresProject(t *testing.T) {
	_, err := Parse([]byte("tasks: []"))
	assert.Error(t, err)

	_, err = Parse([]byte("project: [unclosed"))
	assert.Error(t, err)
}

func TestImport(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	svc := newService(t)

	res, err := Import(context.Background(), svc, "importer", f, nil)
	require.NoError(t, err)

	require.Len(t, res.Created, 2)
	assert.Equal(t, models.PriorityCritical, res.Created[0].Priority)
	assert.Equal(t, 2, *res.Created[0].EstimatedDurationDays)
	assert.Equal(t, 2, res.Created[1].Number)
	assert.Nil(t, res.Created[1].EstimatedDurationDays)

	require.Len(t, res.Skipped, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{res.Skipped[0].Index, res.Skipped[1].Index, res.Skipped[2].Index})

	projects, err := svc.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, models.ProjectUUID("Plant"), projects[0].UUID)
}

func TestImport_Rerun(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	svc := newService(t)
	ctx := context.Background()

	_, err = Import(ctx, svc, "importer", f, nil)
	require.NoError(t, err)

	// explicit numbers collide on the second run, auto-numbered rows append
	res, err := Import(ctx, svc, "importer", f, nil)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, 3, res.Created[0].Number)
}
