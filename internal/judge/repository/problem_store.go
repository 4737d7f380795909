package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/judge/model"
	appErr "gavel/pkg/errors"
)

const (
	problemKeyPrefix = "problem:"
	problemTTL       = 10 * time.Minute
	problemEmptyTTL  = 30 * time.Second
)

// ProblemStore reads problems. The judge core never writes them; CRUD
// belongs to the authoring surface outside this module.
type ProblemStore interface {
	GetByID(ctx context.Context, id string) (*model.Problem, error)
	Invalidate(ctx context.Context, id string) error
}

// MySQLProblemStore reads problems from MySQL through a Redis cache-aside
// layer, with null caching so unknown problem ids do not hammer the DB.
type MySQLProblemStore struct {
	database db.Database
	cache    cache.Cache
}

// NewProblemStore creates a problem store.
func NewProblemStore(database db.Database, cacheClient cache.Cache) *MySQLProblemStore {
	return &MySQLProblemStore{database: database, cache: cacheClient}
}

// GetByID loads a problem, cache first.
func (s *MySQLProblemStore) GetByID(ctx context.Context, id string) (*model.Problem, error) {
	if id == "" {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	problem, err := cache.GetWithCached(ctx, s.cache, problemKeyPrefix+id,
		cache.JitterTTL(problemTTL), problemEmptyTTL,
		func(p *model.Problem) bool { return p == nil },
		func(p *model.Problem) string {
			data, _ := json.Marshal(p)
			return string(data)
		},
		func(data string) (*model.Problem, error) {
			var p model.Problem
			if err := json.Unmarshal([]byte(data), &p); err != nil {
				return nil, err
			}
			return &p, nil
		},
		func(ctx context.Context) (*model.Problem, error) {
			return s.fetch(ctx, id)
		})
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", id)
	}
	return problem, nil
}

// Invalidate drops the cached copy after an out-of-band problem update.
func (s *MySQLProblemStore) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if err := s.cache.Del(ctx, problemKeyPrefix+id); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "invalidate problem cache")
	}
	return nil
}

func (s *MySQLProblemStore) fetch(ctx context.Context, id string) (*model.Problem, error) {
	row := s.database.QueryRow(ctx, `
		SELECT id, title, scoring_mode, io_mode, time_limit_ms, memory_limit_kb,
			function_name, wrappers, signatures, test_cases, data_pack
		FROM problems WHERE id = ?`, id)

	var p model.Problem
	var scoringMode, ioMode string
	var functionName sql.NullString
	var wrappers, signatures, testCases, dataPack sql.NullString
	err := row.Scan(&p.ID, &p.Title, &scoringMode, &ioMode,
		&p.Limits.TimeLimitMS, &p.Limits.MemoryLimitKB,
		&functionName, &wrappers, &signatures, &testCases, &dataPack)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query problem")
	}
	p.ScoringMode = model.ScoringMode(scoringMode)
	p.IOMode = model.IOMode(ioMode)
	p.FunctionName = functionName.String

	if err := decodeJSONColumn(wrappers, &p.Wrappers); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode problem wrappers")
	}
	if err := decodeJSONColumn(signatures, &p.Signatures); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode problem signatures")
	}
	if err := decodeJSONColumn(testCases, &p.TestCases); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode problem test cases")
	}
	if dataPack.Valid && dataPack.String != "" && dataPack.String != "null" {
		var ref model.DataPackRef
		if err := json.Unmarshal([]byte(dataPack.String), &ref); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode data pack ref")
		}
		p.DataPack = &ref
	}
	return &p, nil
}

func decodeJSONColumn(col sql.NullString, dest interface{}) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}
