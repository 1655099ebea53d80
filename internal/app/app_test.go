package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-crawler/internal/app"
	"github.com/JakeFAU/progress-crawler/internal/config"
	"github.com/JakeFAU/progress-crawler/internal/harvest"
	memorypublisher "github.com/JakeFAU/progress-crawler/internal/publisher/memory"
	localstore "github.com/JakeFAU/progress-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/progress-crawler/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Provider = "memory"
	cfg.Credentials = config.CredentialsConfig{}
	return cfg
}

func TestNew_MemoryBackends(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memorystore.ArtifactStore{}, a.Store())
	assert.Nil(t, a.Publisher(), "no topic means no publisher")
	assert.NotNil(t, a.Logger())
}

func TestNew_TopicWithoutProjectUsesMemoryPublisher(t *testing.T) {
	cfg := testConfig(t)
	cfg.PubSub.TopicName = "crawl-runs"

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher())
}

func TestNew_LocalStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Provider = "local"
	cfg.Storage.BaseDir = t.TempDir()

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &localstore.ArtifactStore{}, a.Store())
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Provider = "ftp"

	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown storage provider")
}

func TestRun_MissingCredentialsNeverStartsBrowser(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Run(context.Background(), harvest.Credentials{}, harvest.Bounds{})
	var ce *harvest.ConfigurationError
	require.ErrorAs(t, err, &ce)
}
