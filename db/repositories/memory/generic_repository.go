package repositories_memory

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"gitlab.com/stratomesh/provisioning-service/db/repositories"
)

// GenericRepositoryMemory is a concurrency-safe in-memory implementation of
// the GenericRepository interface. It backs the local environment and tests;
// each repository owns one table guarded by its own lock.
type GenericRepositoryMemory[T any] struct {
	mu      sync.RWMutex
	records map[string]T
	idOf    func(T) string
	setID   func(*T, string)
}

// NewGenericRepository creates an in-memory repository. idOf extracts the
// identifier from a record; setID writes it back on Update so callers can
// pass records with or without the id populated.
func NewGenericRepository[T any](idOf func(T) string, setID func(*T, string)) repositories.GenericRepository[T] {
	return &GenericRepositoryMemory[T]{
		records: make(map[string]T),
		idOf:    idOf,
		setID:   setID,
	}
}

// GetQuery returns a clean Query instance for building queries.
func (repo *GenericRepositoryMemory[T]) GetQuery() repositories.Query[T] {
	return repositories.Query[T]{}
}

// Create adds a new record to the repository.
func (repo *GenericRepositoryMemory[T]) Create(ctx context.Context, data T) (T, error) {
	id := repo.idOf(data)
	if id == "" {
		return data, repositories.InvalidDataError
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.records[id] = data
	return data, nil
}

// Get retrieves a record by its identifier.
func (repo *GenericRepositoryMemory[T]) Get(ctx context.Context, id string) (T, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	record, ok := repo.records[id]
	if !ok {
		return record, repositories.NotFoundError
	}
	return record, nil
}

// Update replaces a record by its identifier.
func (repo *GenericRepositoryMemory[T]) Update(ctx context.Context, id string, data T) (T, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.records[id]; !ok {
		return data, repositories.NotFoundError
	}
	repo.setID(&data, id)
	repo.records[id] = data
	return data, nil
}

// Delete removes a record by its identifier.
func (repo *GenericRepositoryMemory[T]) Delete(ctx context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.records[id]; !ok {
		return repositories.NotFoundError
	}
	delete(repo.records, id)
	return nil
}

// Find retrieves a single record based on a query.
func (repo *GenericRepositoryMemory[T]) Find(ctx context.Context, query repositories.Query[T]) (T, error) {
	results, err := repo.FindAll(ctx, query)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(results) == 0 {
		var zero T
		return zero, repositories.NotFoundError
	}
	return results[0], nil
}

// FindAll retrieves multiple records based on a query.
func (repo *GenericRepositoryMemory[T]) FindAll(ctx context.Context, query repositories.Query[T]) ([]T, error) {
	repo.mu.RLock()
	candidates := make([]T, 0, len(repo.records))
	for _, record := range repo.records {
		candidates = append(candidates, record)
	}
	repo.mu.RUnlock()

	results := make([]T, 0, len(candidates))
	for _, record := range candidates {
		if matches(record, query) {
			results = append(results, record)
		}
	}

	if query.SortBy != "" {
		sortRecords(results, query.SortBy)
	}
	if query.Offset > 0 {
		if query.Offset >= len(results) {
			return []T{}, nil
		}
		results = results[query.Offset:]
	}
	if query.Limit > 0 && query.Limit < len(results) {
		results = results[:query.Limit]
	}
	return results, nil
}

func matches[T any](record T, query repositories.Query[T]) bool {
	value := reflect.ValueOf(record)

	for _, cond := range query.Conditions {
		field := value.FieldByName(cond.Field)
		if !field.IsValid() {
			return false
		}
		if !evaluate(field.Interface(), cond.Operator, cond.Value) {
			return false
		}
	}

	// Non-zero fields of the instance are equality constraints, mirroring
	// the gorm implementation.
	instance := reflect.ValueOf(query.Instance)
	if instance.Kind() == reflect.Struct && !instance.IsZero() {
		for i := 0; i < instance.NumField(); i++ {
			fieldValue := instance.Field(i)
			if fieldValue.IsZero() {
				continue
			}
			field := value.Field(i)
			if !reflect.DeepEqual(field.Interface(), fieldValue.Interface()) {
				return false
			}
		}
	}
	return true
}

func evaluate(fieldValue interface{}, operator string, condValue interface{}) bool {
	switch operator {
	case "=":
		return compare(fieldValue, condValue) == 0
	case ">":
		return compare(fieldValue, condValue) > 0
	case ">=":
		return compare(fieldValue, condValue) >= 0
	case "<":
		return compare(fieldValue, condValue) < 0
	case "<=":
		return compare(fieldValue, condValue) <= 0
	case "IN":
		values, ok := condValue.([]interface{})
		if !ok {
			return false
		}
		for _, v := range values {
			if compare(fieldValue, v) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// compare orders two scalar values of compatible kinds. Times, numerics,
// strings and bools cover every field the engines query on.
func compare(a, b interface{}) int {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}

	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)

	if isNumeric(av) && isNumeric(bv) {
		af, bf := toFloat(av), toFloat(bv)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, bs := stringify(av), stringify(bv)
	return strings.Compare(as, bs)
}

func isNumeric(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toFloat(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	default:
		return v.Float()
	}
}

func stringify(v reflect.Value) string {
	if v.Kind() == reflect.Bool {
		if v.Bool() {
			return "true"
		}
		return "false"
	}
	if v.Kind() == reflect.String {
		return v.String()
	}
	return ""
}

// sortRecords orders records by a struct field name, with an optional
// " desc" suffix.
func sortRecords[T any](records []T, sortBy string) {
	desc := false
	field := sortBy
	if strings.HasSuffix(strings.ToLower(sortBy), " desc") {
		desc = true
		field = strings.TrimSpace(sortBy[:len(sortBy)-5])
	}

	sort.SliceStable(records, func(i, j int) bool {
		a := reflect.ValueOf(records[i]).FieldByName(field)
		b := reflect.ValueOf(records[j]).FieldByName(field)
		if !a.IsValid() || !b.IsValid() {
			return false
		}
		less := compare(a.Interface(), b.Interface()) < 0
		if desc {
			return !less
		}
		return less
	})
}
