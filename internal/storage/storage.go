package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается, когда история пуста.
var ErrNotFound = errors.New("run not found")

// Статусы результата плагина.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OutcomeRecord сохраняет результат одного плагина.
type OutcomeRecord struct {
	Plugin    string `json:"plugin"`
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

// RunRecord фиксирует один прогон всех плагинов и итоговый отчет.
type RunRecord struct {
	ID       int64           `json:"id"`
	TS       time.Time       `json:"ts"`
	Report   string          `json:"report,omitempty"`
	Plugins  int             `json:"plugins"`
	Failures int             `json:"failures"`
	Outcomes []OutcomeRecord `json:"outcomes,omitempty"`
}

// RunQuery задает фильтры выборки истории.
type RunQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Store описывает операции хранилища истории.
type Store interface {
	SaveRun(ctx context.Context, run RunRecord) (int64, error)
	LatestRun(ctx context.Context) (RunRecord, error)
	QueryRuns(ctx context.Context, q RunQuery) ([]RunRecord, error)
	Prune(ctx context.Context, keep int) error
	Close() error
}
