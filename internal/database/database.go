package database

import (
	"github.com/stacksnap/snapferry/internal/config"
)

type MongoDumpOptions struct {
	DB     string
	OutDir string
}

// MongoDump builds the mongodump argv. Credentials are passed only when both
// user and password are set.
func MongoDump(cfg config.Mongo, opts MongoDumpOptions) []string {
	args := []string{"mongodump", "--host", cfg.Host, "--port", cfg.Port, "--out", opts.OutDir}
	if opts.DB != "" {
		args = append(args, "--db", opts.DB)
	}
	return append(args, mongoAuth(cfg)...)
}

type MongoRestoreOptions struct {
	DB      string
	DumpDir string
	Drop    bool
}

func MongoRestore(cfg config.Mongo, opts MongoRestoreOptions) []string {
	args := []string{"mongorestore"}
	if opts.Drop {
		args = append(args, "--drop")
	}
	args = append(args, "--host", cfg.Host, "--port", cfg.Port, opts.DumpDir)
	if opts.DB != "" {
		args = append(args, "--nsInclude", opts.DB+".*")
	}
	return append(args, mongoAuth(cfg)...)
}

func mongoAuth(cfg config.Mongo) []string {
	if cfg.User == "" || cfg.Password == "" {
		return nil
	}
	return []string{"--username", cfg.User, "--password", cfg.Password, "--authenticationDatabase", cfg.AuthDB}
}

type MySQLDumpOptions struct {
	DB                string
	SingleTransaction bool
}

// MySQLDump builds the mysqldump argv. The dump is written to stdout.
func MySQLDump(cfg config.MySQL, opts MySQLDumpOptions) []string {
	args := []string{"mysqldump", "--host", cfg.Host, "--port", cfg.Port, "--user", cfg.User}
	if opts.SingleTransaction {
		args = append(args, "--single-transaction")
	}
	return append(args, opts.DB)
}

// MySQLImport builds the mysql client argv. The SQL is read from stdin.
func MySQLImport(cfg config.MySQL, db string) []string {
	return []string{"mysql", "--host", cfg.Host, "--port", cfg.Port, "--user", cfg.User, db}
}

// MySQLEnv passes the password through MYSQL_PWD so it stays off the command line.
func MySQLEnv(cfg config.MySQL) []string {
	if cfg.Password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + cfg.Password}
}
