package core

import (
	"context"
	"fmt"
	"os"

	blobcore "coacore/internal/blob/core"
	blobfs "coacore/internal/infra/blob/fs"
	blobmemory "coacore/internal/infra/blob/memory"
	blobs3 "coacore/internal/infra/blob/s3"
	"coacore/internal/infra/persistence/memory"
	"coacore/internal/infra/persistence/postgres"
	"coacore/internal/infra/persistence/sqlite"
	"coacore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// NewMemoryStore constructs the in-memory persistence backend.
func NewMemoryStore(engine *RulesEngine) *memory.Store {
	return memory.NewStore(engine)
}

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	COACORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	COACORE_SQLITE_PATH: path to sqlite file (default ./coacore.db)
//	COACORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (domain.PersistentStore, error) {
	driver := os.Getenv("COACORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("COACORE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("COACORE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenBlobStore selects a signature-image store using environment variables.
// Defaults to the filesystem driver.
//
//	COACORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	COACORE_BLOB_FS_ROOT: filesystem root when driver=fs
//	COACORE_BLOB_S3_*: bucket settings when driver=s3
func OpenBlobStore(ctx context.Context) (blobcore.Store, error) {
	driver := os.Getenv("COACORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(blobcore.DriverFilesystem)
	}
	switch blobcore.Driver(driver) {
	case blobcore.DriverFilesystem:
		return blobfs.New(os.Getenv("COACORE_BLOB_FS_ROOT"))
	case blobcore.DriverS3:
		return blobs3.OpenFromEnv(ctx)
	case blobcore.DriverMemory:
		return blobmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
