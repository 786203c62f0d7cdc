package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_SQLITE StorageType = "sqlite"

type Config struct {
	RedisConfig          RedisStorageConfig
	SqliteConfig         SqliteStorageConfig
	HttpPort             int
	StorageType          StorageType
	RunWorkerCapacity    int
	TriggerPollSeconds   int
	TriggerMinConfidence float64
	MaxRetryDelaySeconds int64
	DefaultRetryProfile  string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}

type SqliteStorageConfig struct {
	Path string
}
