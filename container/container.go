package container

import (
	"github.com/flowmason/flowmason/config"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/persistence/inmem"
	rd "github.com/flowmason/flowmason/persistence/redis"
	sq "github.com/flowmason/flowmason/persistence/sqlite"
	"github.com/flowmason/flowmason/timers"
)

// DIContiner wires the storage backend and shared infrastructure selected by
// configuration. Accessors panic when used before Init, which points at a
// wiring bug rather than a runtime condition.
type DIContiner struct {
	initialized     bool
	runDao          persistence.RunDao
	checkpointDao   persistence.CheckpointDao
	eventDao        persistence.EventDao
	metadataStorage persistence.MetadataStorage
	timerManager    *timers.TimerManager
	closer          func() error
}

func NewDiContainer() *DIContiner {
	return &DIContiner{}
}

func (d *DIContiner) setInitialized() {
	d.initialized = true
}

func (d *DIContiner) Init(conf config.Config) error {
	defer d.setInitialized()

	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		storage := rd.NewStorage(rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
		})
		d.useStorage(storage, storage, storage, storage, nil)
	case config.STORAGE_TYPE_SQLITE:
		storage, err := sq.NewStorage(conf.SqliteConfig.Path)
		if err != nil {
			return err
		}
		d.useStorage(storage, storage, storage, storage, storage.Close)
	default:
		storage := inmem.NewStorage()
		d.useStorage(storage, storage, storage, storage, nil)
	}

	maxDelaySeconds := conf.MaxRetryDelaySeconds
	if maxDelaySeconds <= 0 {
		maxDelaySeconds = 3600
	}
	d.timerManager = timers.NewTimerManager(maxDelaySeconds)
	d.timerManager.Init()
	return nil
}

func (d *DIContiner) useStorage(runs persistence.RunDao, checkpoints persistence.CheckpointDao,
	events persistence.EventDao, metadata persistence.MetadataStorage, closer func() error) {
	d.runDao = runs
	d.checkpointDao = checkpoints
	d.eventDao = events
	d.metadataStorage = metadata
	d.closer = closer
}

func (d *DIContiner) GetRunDao() persistence.RunDao {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.runDao
}

func (d *DIContiner) GetCheckpointDao() persistence.CheckpointDao {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.checkpointDao
}

func (d *DIContiner) GetEventDao() persistence.EventDao {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.eventDao
}

func (d *DIContiner) GetMetadataStorage() persistence.MetadataStorage {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.metadataStorage
}

func (d *DIContiner) GetTimerManager() *timers.TimerManager {
	if !d.initialized {
		panic("container not initalized")
	}
	return d.timerManager
}

func (d *DIContiner) Close() error {
	if d.timerManager != nil {
		d.timerManager.Stop()
	}
	if d.closer != nil {
		return d.closer()
	}
	return nil
}
