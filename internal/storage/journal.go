// Package storage 提供基于 sqlite 的请求流水落库。
package storage

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	logger2 "reqgate/internal/logger"
	"reqgate/pkg/domain"
)

// RequestRecord 单条请求流水，请求到达终态时写入
type RequestRecord struct {
	ID         uint   `gorm:"primaryKey"`
	RequestID  uint64 `gorm:"index"`
	Session    string `gorm:"index"`
	URL        string
	Method     string
	StatusCode int
	Outcome    string // completed/blocked/failed/aborted
	Error      string
	DurationMS int64
	CreatedAt  time.Time
}

// Journal 请求流水库
type Journal struct {
	db  *gorm.DB
	log logger2.Logger
}

// Open 打开流水库并自动迁移表结构
func Open(dsn, prefix string, l logger2.Logger) (*Journal, error) {
	if l == nil {
		l = logger2.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: prefix,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RequestRecord{}); err != nil {
		return nil, err
	}
	return &Journal{db: db, log: l}, nil
}

// Record 写入一条终态流水
func (j *Journal) Record(rec *RequestRecord) {
	if j == nil {
		return
	}
	if err := j.db.Create(rec).Error; err != nil {
		j.log.Err(err, "写入请求流水失败", "requestID", rec.RequestID)
	}
}

// Recent 返回最近 limit 条流水
func (j *Journal) Recent(limit int) ([]RequestRecord, error) {
	var out []RequestRecord
	err := j.db.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// BySession 返回指定会话的流水
func (j *Journal) BySession(id domain.SessionID, limit int) ([]RequestRecord, error) {
	var out []RequestRecord
	err := j.db.Where("session = ?", string(id)).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close 关闭底层连接
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
