package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLog(store *fakeStore, schoolID string, created time.Time) string {
	id, _ := store.CreateImportLog(context.Background(), ImportLogEntry{
		SchoolID:     schoolID,
		InitiatedBy:  testActor,
		FileName:     "students.csv",
		TotalRecords: 1,
		Status:       LogStatusCompleted,
		CreatedAt:    created,
	})
	return id
}

func TestListImportLogs(t *testing.T) {
	store := newFakeStore()
	older := seedLog(store, testSchool, fixedNow.Add(-time.Hour))
	newer := seedLog(store, testSchool, fixedNow)
	seedLog(store, "other-school", fixedNow)
	svc := newTestService(store, nil)

	logs, err := svc.ListImportLogs(context.Background(), RoleSchoolAdmin, testSchool, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, newer, logs[0].ID)
	assert.Equal(t, older, logs[1].ID)
	assert.Equal(t, 10, store.listLimit, "default limit")

	_, err = svc.ListImportLogs(context.Background(), RoleSchoolAdmin, testSchool, 500)
	require.NoError(t, err)
	assert.Equal(t, 10, store.listLimit, "limit is capped")

	_, err = svc.ListImportLogs(context.Background(), RoleSchoolAdmin, testSchool, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, store.listLimit)

	_, err = svc.ListImportLogs(context.Background(), RoleTeacher, testSchool, 0)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGetImportLog(t *testing.T) {
	store := newFakeStore()
	id := seedLog(store, testSchool, fixedNow)
	svc := newTestService(store, nil)
	ctx := context.Background()

	entry, err := svc.GetImportLog(ctx, RoleSchoolAdmin, testSchool, id)
	require.NoError(t, err)
	assert.Equal(t, id, entry.ID)

	_, err = svc.GetImportLog(ctx, RoleSchoolAdmin, "other-school", id)
	assert.ErrorIs(t, err, ErrLogNotFound, "other schools' runs are hidden")

	entry, err = svc.GetImportLog(ctx, RoleSuperAdmin, "other-school", id)
	require.NoError(t, err)
	assert.Equal(t, testSchool, entry.SchoolID)

	_, err = svc.GetImportLog(ctx, RoleSchoolAdmin, testSchool, "not-a-uuid")
	assert.ErrorIs(t, err, ErrLogNotFound)

	_, err = svc.GetImportLog(ctx, RoleSchoolAdmin, testSchool, "0b6f7c2e-3a43-4c1e-9f4e-5d9c2b7a8e11")
	assert.ErrorIs(t, err, ErrLogNotFound)

	_, err = svc.GetImportLog(ctx, RoleParent, testSchool, id)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
