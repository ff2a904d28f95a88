package database

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/blnkfinance/courier/config"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // Import the postgres driver
)

// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		if configuration.DataSource.MaxOpenConns > 0 {
			con.SetMaxOpenConns(configuration.DataSource.MaxOpenConns)
		}
		if configuration.DataSource.MaxIdleConns > 0 {
			con.SetMaxIdleConns(configuration.DataSource.MaxIdleConns)
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a pooled postgres connection and waits for it to answer a
// ping, retrying with exponential backoff for up to a minute.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute
	err = backoff.RetryNotify(db.Ping, policy, func(err error, next time.Duration) {
		log.Printf("database not ready, retrying in %s: %v", next, err)
	})
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}

	log.Println("Database connection established ✅")
	return db, nil
}
