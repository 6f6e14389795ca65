package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFileService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "profile.json")
	return NewService(context.Background(), FileBackend{Path: path}, zap.NewNop()), path
}

func TestDefaultProfileCreated(t *testing.T) {
	s, path := newFileService(t)
	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "User", s.Get().Name)
	assert.Equal(t, 1.0, s.RiskModifier(Sedentary))
}

func TestBackConditionRaisesSedentary(t *testing.T) {
	ctx := context.Background()
	s, path := newFileService(t)

	require.NoError(t, s.UpdateCondition(ctx, "Lumbar Disc Herniation", "add"))
	assert.Equal(t, 1.5, s.RiskModifier(Sedentary))

	reloaded := NewService(ctx, FileBackend{Path: path}, zap.NewNop())
	assert.Equal(t, 1.5, reloaded.RiskModifier(Sedentary))
	assert.Equal(t, []string{"Lumbar Disc Herniation"}, reloaded.Get().Conditions)

	require.NoError(t, s.UpdateCondition(ctx, "Lower back pain", "add"))
	require.NoError(t, s.UpdateCondition(ctx, "Lower back pain", "remove"))
	assert.Equal(t, 1.0, s.RiskModifier(Sedentary))
}

func TestEyeConditionRaisesScreenTime(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)
	require.NoError(t, s.UpdateCondition(ctx, "Dry eye", "add"))
	assert.Equal(t, 1.3, s.RiskModifier(ScreenTime))
	require.NoError(t, s.UpdateCondition(ctx, "Dry eye", "remove"))
	assert.Equal(t, 1.0, s.RiskModifier(ScreenTime))
}

func TestTraitsAndHabits(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)
	require.NoError(t, s.UpdateTrait(ctx, "Night Owl", "add"))
	require.NoError(t, s.UpdateTrait(ctx, "Night Owl", "add"))
	require.NoError(t, s.UpdateHabit(ctx, "Coffee at 9", "add"))
	assert.Equal(t, []string{"Night Owl"}, s.Get().Traits)
	require.NoError(t, s.UpdateTrait(ctx, "Night Owl", "remove"))
	assert.Empty(t, s.Get().Traits)
	assert.Error(t, s.UpdateTrait(ctx, "x", "toggle"))
}

func TestPreferencesAndSummary(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileService(t)
	require.NoError(t, s.SetPreference(ctx, "mute_hydration", true))
	require.NoError(t, s.SetIdentity(ctx, "Ada", "Software Engineer"))
	assert.True(t, s.BoolPreference("mute_hydration"))
	assert.False(t, s.BoolPreference("mute_posture"))

	summary := s.Summary()
	assert.Contains(t, summary, "- Name: Ada")
	assert.Contains(t, summary, "Software Engineer")
	assert.Contains(t, summary, `"mute_hydration":true`)
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newFileService(t)
	p := s.Get()
	p.RiskModifiers[Sedentary] = 9
	assert.Equal(t, 1.0, s.RiskModifier(Sedentary))
}

func TestCorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	s := NewService(context.Background(), FileBackend{Path: path}, zap.NewNop())
	assert.Equal(t, "User", s.Get().Name)
}

type failingBackend struct{ fail bool }

func (b *failingBackend) Load(context.Context) (*Profile, error) { return nil, ErrProfileNotFound }

func (b *failingBackend) Save(context.Context, *Profile) error {
	if b.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestFailedSaveLeavesProfileUnchanged(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{}
	s := NewService(ctx, backend, zap.NewNop())

	backend.fail = true
	require.Error(t, s.UpdateCondition(ctx, "Herniated disc", "add"))
	require.Error(t, s.SetPreference(ctx, "mute_hydration", true))

	p := s.Get()
	assert.Empty(t, p.Conditions)
	assert.NotContains(t, p.Preferences, "mute_hydration")
	assert.Equal(t, 1.0, s.RiskModifier(Sedentary))

	backend.fail = false
	require.NoError(t, s.UpdateCondition(ctx, "Herniated disc", "add"))
	assert.Equal(t, 1.5, s.RiskModifier(Sedentary))
}
