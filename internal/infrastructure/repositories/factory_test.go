package repositories

import (
	"context"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	"roomrelay/internal/infrastructure/distributed"
	"roomrelay/internal/infrastructure/reliability"
	"roomrelay/internal/infrastructure/repositories/memory"
	"roomrelay/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_MemoryDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reliability.Enabled = false

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, config.BackendMemory, f.Backend())
	assert.IsType(t, &memory.MemoryRoomRepository{}, f.CreateRoomRepository(ports.NopMetrics{}))
	assert.IsType(t, &services.LocalRoomLocker{}, f.CreateRoomLocker())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestRepositoryFactory_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.BackendRedis
	cfg.Redis.Address = mr.Addr()

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, config.BackendRedis, f.Backend())
	assert.IsType(t, &distributed.RedisRoomLocker{}, f.CreateRoomLocker())
	assert.NoError(t, f.HealthCheck(context.Background()))

	repo := f.CreateRoomRepository(ports.NopMetrics{})
	require.IsType(t, &reliability.RoomRepositoryWrapper{}, repo)
	require.NoError(t, repo.Create(context.Background(), domain.NewRoom("r1", "admin", time.Now())))

	got, err := repo.GetByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("admin"), got.AdminID)
}

func TestRepositoryFactory_UnreachableBackendFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.BackendRedis
	cfg.Redis.Address = addr

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, config.BackendMemory, f.Backend())
	assert.IsType(t, &services.LocalRoomLocker{}, f.CreateRoomLocker())
}
