package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"genesis/internal/replay"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrRunNotFound 表示指定 run 不存在。
var ErrRunNotFound = errors.New("run 不存在")

type runModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Symbol      string         `gorm:"column:symbol;index"`
	Timeframe   string         `gorm:"column:timeframe"`
	Status      string         `gorm:"column:status;index"`
	StartTS     int64          `gorm:"column:start_ts"`
	EndTS       int64          `gorm:"column:end_ts"`
	ConfigHash  string         `gorm:"column:config_hash"`
	EngineHash  string         `gorm:"column:engine_hash"`
	Execution   string         `gorm:"column:execution"`
	Trades      int            `gorm:"column:trades"`
	WinRate     float64        `gorm:"column:win_rate"`
	TotalReturn float64        `gorm:"column:total_return"`
	MaxDrawdown float64        `gorm:"column:max_drawdown"`
	Message     string         `gorm:"column:message"`
	Notes       string         `gorm:"column:notes"`
	ReportPath  string         `gorm:"column:report_path"`
	Artifact    datatypes.JSON `gorm:"column:artifact_json;type:TEXT"`
	CreatedAt   int64          `gorm:"column:created_at"`
	UpdatedAt   int64          `gorm:"column:updated_at"`
	CompletedAt int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "replay_runs" }

// ResultStore 持久化回放 run 记录与完整 artifact（JSON 列）。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(root string) (*ResultStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("result root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：留一点读并发给 HTTP 查询，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(run Run) (runModel, error) {
	m := runModel{
		ID:          run.ID,
		Symbol:      strings.ToUpper(run.Symbol),
		Timeframe:   strings.ToLower(run.Timeframe),
		Status:      run.Status,
		StartTS:     run.StartTS,
		EndTS:       run.EndTS,
		ConfigHash:  run.ConfigHash,
		EngineHash:  run.EngineHash,
		Execution:   run.Execution,
		Trades:      run.Trades,
		WinRate:     run.WinRate,
		TotalReturn: run.TotalReturn,
		MaxDrawdown: run.MaxDrawdown,
		Message:     run.Message,
		Notes:       run.Notes,
		ReportPath:  run.ReportPath,
		CreatedAt:   run.CreatedAt.UnixMilli(),
		UpdatedAt:   run.UpdatedAt.UnixMilli(),
	}
	if !run.CompletedAt.IsZero() {
		m.CompletedAt = run.CompletedAt.UnixMilli()
	}
	if run.Artifact != nil {
		raw, err := json.Marshal(run.Artifact)
		if err != nil {
			return runModel{}, fmt.Errorf("序列化 artifact 失败: %w", err)
		}
		m.Artifact = datatypes.JSON(raw)
	}
	return m, nil
}

func fromModel(m runModel, withArtifact bool) (Run, error) {
	run := Run{
		ID:          m.ID,
		Symbol:      m.Symbol,
		Timeframe:   m.Timeframe,
		Status:      m.Status,
		StartTS:     m.StartTS,
		EndTS:       m.EndTS,
		ConfigHash:  m.ConfigHash,
		EngineHash:  m.EngineHash,
		Execution:   m.Execution,
		Trades:      m.Trades,
		WinRate:     m.WinRate,
		TotalReturn: m.TotalReturn,
		MaxDrawdown: m.MaxDrawdown,
		Message:     m.Message,
		Notes:       m.Notes,
		ReportPath:  m.ReportPath,
		CreatedAt:   time.UnixMilli(m.CreatedAt),
		UpdatedAt:   time.UnixMilli(m.UpdatedAt),
	}
	if m.CompletedAt > 0 {
		run.CompletedAt = time.UnixMilli(m.CompletedAt)
	}
	if withArtifact && len(m.Artifact) > 0 {
		var art replay.Artifact
		if err := json.Unmarshal(m.Artifact, &art); err != nil {
			return Run{}, fmt.Errorf("解析 artifact 失败: %w", err)
		}
		run.Artifact = &art
	}
	return run, nil
}

// InsertRun 写入一条新 run。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	m, err := toModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateRun 以 run.ID 为键整行覆盖（含 artifact）。
// map 形式更新，零值字段（清空的 message、0 收益）也会落库。
func (s *ResultStore) UpdateRun(ctx context.Context, run Run) error {
	m, err := toModel(run)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":        m.Status,
		"config_hash":   m.ConfigHash,
		"engine_hash":   m.EngineHash,
		"execution":     m.Execution,
		"trades":        m.Trades,
		"win_rate":      m.WinRate,
		"total_return":  m.TotalReturn,
		"max_drawdown":  m.MaxDrawdown,
		"message":       m.Message,
		"notes":         m.Notes,
		"report_path":   m.ReportPath,
		"artifact_json": m.Artifact,
		"updated_at":    m.UpdatedAt,
		"completed_at":  m.CompletedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun 读取单条 run；withArtifact=false 时跳过 JSON 反序列化。
func (s *ResultStore) GetRun(ctx context.Context, id string, withArtifact bool) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return fromModel(m, withArtifact)
}

// ListRuns 按创建时间倒序返回 run 概览（不含 artifact）。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Select("id", "symbol", "timeframe", "status", "start_ts", "end_ts", "config_hash", "engine_hash",
			"execution", "trades", "win_rate", "total_return", "max_drawdown", "message", "notes",
			"report_path", "created_at", "updated_at", "completed_at").
		Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := fromModel(m, false)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// DeleteRun 删除一条 run。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&runModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}
