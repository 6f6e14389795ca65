package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultClassifier(t *testing.T) {
	c := Default()

	assert.True(t, c.Match(Work, "Debugging auth bug"))
	assert.True(t, c.Match(Entertainment, "Watching tech talk on YouTube"))
	assert.True(t, c.Match(Sedentary, "VS Code"))
	assert.True(t, c.Match(Hydration, "Drank a glass of water"))
	assert.False(t, c.Match(Work, "Went for a walk"))
	assert.False(t, c.Match(Sedentary, ""))
	assert.False(t, c.Match(Category("unknown"), "coding"))
}

func TestKeywordsAnchorAtWordStart(t *testing.T) {
	c := Default()

	assert.False(t, c.Match(Sedentary, "Read about digital gardens"))
	assert.False(t, c.Match(Work, "Fixed the home network"))
	assert.False(t, c.Match(Entertainment, "Stayed in the endgame lobby"))
	assert.True(t, c.Match(Work, "Implementing retries"))
	assert.True(t, c.Match(Work, "committed the patch"))
	assert.True(t, c.Match(Sedentary, "pushed to GitHub"))
	assert.True(t, c.Match(Work, "back-end work"))
}

func TestWorkAndEntertainmentAreSedentary(t *testing.T) {
	rules := DefaultRules()
	c := Default()
	for _, cat := range []Category{Work, Entertainment} {
		for _, w := range rules.Categories[cat] {
			assert.Truef(t, c.Match(Sedentary, w), "%s keyword %q should be sedentary", cat, w)
		}
	}
}

func TestReplace(t *testing.T) {
	c, err := New(Rules{Categories: map[Category][]string{Work: {"spreadsheet"}}})
	require.NoError(t, err)
	assert.True(t, c.Match(Work, "Updating the SPREADSHEET"))
	assert.False(t, c.Match(Work, "coding"))

	require.NoError(t, c.Replace(Rules{Categories: map[Category][]string{Work: {"coding", "  "}}}))
	assert.True(t, c.Match(Work, "coding"))
	assert.Equal(t, []Category{Work}, c.Categories())
}

func TestParseRulesRejectsEmpty(t *testing.T) {
	_, err := ParseRules([]byte("categories: {}\n"))
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  work: [coding]\n"), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	c, err := New(rules)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, c, zap.NewNop()) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  work: [gardening]\n"), 0o644))

	require.Eventually(t, func() bool {
		return c.Match(Work, "gardening")
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
