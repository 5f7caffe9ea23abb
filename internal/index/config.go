package index

import (
	"time"
)

type Config struct {
	// Timer for retention passes over persistent storage
	RebuildInterval time.Duration `envconfig:"SPIN_INDEX_REBUILD_INTERVAL" default:"15s"`
	// Maximum number of entries kept per namespace, 0 disables the cap
	MaxItemsStored int `envconfig:"SPIN_INDEX_MAX_ITEMS_STORED" default:"1000000"`
	// Maximum age of an entry, 0s disables age-based retention
	MaxStorageTime time.Duration `envconfig:"SPIN_INDEX_MAX_STORAGE_TIME" default:"0s"`
	// Critical buffer size in dbTxExecutor at which data is flushed to disk
	FlushSize int `envconfig:"SPIN_DB_FLUSH_SIZE" default:"10"`
	// Critical lifetime of the dbTxExecutor buffer at which data is flushed to disk
	FlushTime time.Duration `envconfig:"SPIN_DB_FLUSH_TIME" default:"5s"`
}
