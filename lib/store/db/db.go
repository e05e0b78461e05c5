// Package db implements the opening and graceful closing of database connections.
package db

import (
	"fmt"

	"github.com/tarancss/por/lib/store"
	"github.com/tarancss/por/lib/store/mongo"
	"github.com/tarancss/por/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		m, err := mongo.New(connection)
		if err != nil {
			return nil, err
		}

		return m, nil
	case POSTGRES:
		p, err := postgres.New(connection)
		if err != nil {
			return nil, err
		}

		return p, nil
	}

	return nil, fmt.Errorf("%w: %s", store.ErrUnknownDB, options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	if dh == nil {
		return nil
	}

	switch options {
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
