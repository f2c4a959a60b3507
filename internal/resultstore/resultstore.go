// Package resultstore archives benchmark runs by run ID, behind a store
// interface with file and MongoDB backends.
package resultstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlsbench/mlsbench/internal/resultstore/filestore"
	"github.com/mlsbench/mlsbench/internal/resultstore/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var ErrInvalidStoreType = errors.New("invalid store type")

// Store archives one benchmark run document per ID.
type Store interface {
	Save(ctx context.Context, id string, run any) error
	Load(ctx context.Context, id string, out any) error
}

type FileConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
}

func NewStore(storeType StoreType, cfg any) (Store, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Dir), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		return mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName)
	default:
		return nil, ErrInvalidStoreType
	}
}
