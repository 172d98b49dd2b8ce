package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"torvpn/pkg/model"
)

type auditRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Actor     string    `gorm:"size:128"`
	Action    string    `gorm:"size:64;index"`
	Target    string    `gorm:"size:255"`
	Detail    string    `gorm:"type:text"`
	Outcomes  string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (auditRecord) TableName() string { return "audit_entries" }

// MySQL is a journal in a MySQL database, shared by several daemons.
type MySQL struct {
	db *gorm.DB
}

// OpenMySQL connects and migrates. An empty dsn is built from MYSQL_DSN or MYSQL_HOST,
// MYSQL_PORT, MYSQL_USER, MYSQL_PASS and MYSQL_DB.
func OpenMySQL(dsn string) (*MySQL, error) {
	if dsn == "" {
		dsn = mysqlParamsFromEnv().dsn()
	}
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "Unknown database") {
			return nil, err
		}
		if cerr := createDatabase(dsn); cerr != nil {
			return nil, fmt.Errorf("create database failed: %w", cerr)
		}
		if db, err = gorm.Open(mysql.Open(dsn), cfg); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	if err := db.AutoMigrate(&auditRecord{}); err != nil {
		return nil, err
	}
	return &MySQL{db: db}, nil
}

func (m *MySQL) Record(ctx context.Context, e model.AuditEntry) error {
	rec, err := toRecord(e)
	if err != nil {
		return err
	}
	return m.db.WithContext(ctx).Create(&rec).Error
}

func (m *MySQL) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	var recs []auditRecord
	if err := m.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, 0, len(recs))
	for _, r := range recs {
		e, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(e model.AuditEntry) (auditRecord, error) {
	outcomes, err := json.Marshal(e.Outcomes)
	if err != nil {
		return auditRecord{}, err
	}
	return auditRecord{
		ID:        e.ID,
		Actor:     e.Actor,
		Action:    e.Action,
		Target:    e.Target,
		Detail:    e.Detail,
		Outcomes:  string(outcomes),
		CreatedAt: e.Timestamp,
	}, nil
}

func fromRecord(r auditRecord) (model.AuditEntry, error) {
	e := model.AuditEntry{
		ID:        r.ID,
		Actor:     r.Actor,
		Action:    r.Action,
		Target:    r.Target,
		Detail:    r.Detail,
		Timestamp: r.CreatedAt.UTC(),
	}
	if r.Outcomes != "" && r.Outcomes != "null" {
		if err := json.Unmarshal([]byte(r.Outcomes), &e.Outcomes); err != nil {
			return e, fmt.Errorf("decode outcomes of %s: %w", r.ID, err)
		}
	}
	return e, nil
}

type mysqlParams struct {
	host, port, user, pass, name string
	dsnOverride                  string
}

func mysqlParamsFromEnv() mysqlParams {
	return mysqlParams{
		host:        getenv("MYSQL_HOST", "127.0.0.1"),
		port:        getenv("MYSQL_PORT", "3306"),
		user:        getenv("MYSQL_USER", "root"),
		pass:        getenv("MYSQL_PASS", ""),
		name:        getenv("MYSQL_DB", "torvpn"),
		dsnOverride: os.Getenv("MYSQL_DSN"),
	}
}

func (p mysqlParams) dsn() string {
	if p.dsnOverride != "" {
		return p.dsnOverride
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC", p.user, p.pass, p.host, p.port, p.name)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// serverDSN splits dsn into a DSN for the server without a default schema and the
// schema name.
func serverDSN(dsn string) (string, string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", "", err
	}
	name := cfg.DBName
	if name == "" {
		return "", "", fmt.Errorf("dsn names no database")
	}
	cfg.DBName = ""
	return cfg.FormatDSN(), name, nil
}

func createDatabase(dsn string) error {
	server, name, err := serverDSN(dsn)
	if err != nil {
		return err
	}
	db, err := sql.Open("mysql", server)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4",
		strings.ReplaceAll(name, "`", "``")))
	return err
}
