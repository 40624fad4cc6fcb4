package db

import (
	"context"
	"fmt"
	"securechat/config"
	"securechat/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var ORM *gorm.DB

func dsnFromConfig(dbConf config.DBConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.DBName,
	)
}

func dialector(dbConf config.DBConfig) (gorm.Dialector, error) {
	switch dbConf.Driver {
	case "postgres":
		return postgres.Open(dsnFromConfig(dbConf)), nil
	case "sqlite":
		return sqlite.Open(dbConf.Path), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", dbConf.Driver)
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   false,
		},
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}

// Open connects to the master database, registers read replicas and runs
// migrations.
func Open(conf *config.ConfigSchema) (*gorm.DB, error) {
	if conf == nil {
		return nil, fmt.Errorf("AppConfig is nil")
	}
	master, err := dialector(conf.Databases.Master)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(master, gormConfig())
	if err != nil {
		return nil, err
	}

	if conf.Databases.Master.Driver == "sqlite" {
		// sqlite serialises writers; one connection keeps :memory: databases
		// alive and avoids SQLITE_BUSY under concurrent appends.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	replicas := make([]gorm.Dialector, 0, len(conf.Databases.Replicas))
	for _, r := range conf.Databases.Replicas {
		d, err := dialector(r)
		if err != nil {
			return nil, err
		}
		replicas = append(replicas, d)
	}
	if len(replicas) > 0 {
		err = db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, err
		}
	}

	if err = Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite is a shortcut used by tests and local runs.
func OpenSQLite(path string) (*gorm.DB, error) {
	conf := config.Default()
	conf.Databases.Master.Path = path
	return Open(conf)
}

func ConnectDB() (err error) {
	if ORM != nil {
		return nil
	}
	db, err := Open(config.AppConfig)
	if err != nil {
		return err
	}
	ORM = db
	return nil
}

// GetReadOnlyDB returns a handle that prefers replicas.
func GetReadOnlyDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.WithContext(ctx).Clauses(dbresolver.Read)
}

// GetWriteDB returns a handle pinned to the master.
func GetWriteDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.WithContext(ctx).Clauses(dbresolver.Write)
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&models.User{}, &models.FriendRequest{}, &models.Friendship{}, &models.Message{})
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return CreateIndexes(db)
}
