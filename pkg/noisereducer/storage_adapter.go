package noisereducer

import (
	"github.com/himanishpuri/NoiseReducer/pkg/noisereducer/storage"
)

// NewSQLiteJobStore opens the job database at dbPath.
func NewSQLiteJobStore(dbPath string) (JobStore, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

var _ JobStore = (*storage.DBClient)(nil)
