package repositories_gorm

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm"

	"gitlab.com/stratomesh/provisioning-service/db/repositories"
)

// GenericRepositoryGORM is a generic repository implementation using GORM as an ORM.
// It is intended to be embedded in model repositories to provide basic database operations.
type GenericRepositoryGORM[T any] struct {
	db        *gorm.DB
	keyColumn string
}

// NewGenericRepository creates a new instance of GenericRepositoryGORM.
// It initializes and returns a repository with the provided GORM database.
func NewGenericRepository[T any](db *gorm.DB) repositories.GenericRepository[T] {
	return NewGenericRepositoryWithKey[T](db, "ID")
}

// NewGenericRepositoryWithKey creates a repository for a model whose primary
// key is a struct field other than ID, e.g. MachineReputation keyed by
// MachineID. The field name is resolved to its column through the naming
// strategy.
func NewGenericRepositoryWithKey[T any](db *gorm.DB, keyField string) repositories.GenericRepository[T] {
	tableName := db.NamingStrategy.TableName(reflect.TypeOf(*new(T)).Name())
	return &GenericRepositoryGORM[T]{
		db:        db,
		keyColumn: db.NamingStrategy.ColumnName(tableName, keyField),
	}
}

// GetQuery returns a clean Query instance for building queries.
func (repo *GenericRepositoryGORM[T]) GetQuery() repositories.Query[T] {
	return repositories.Query[T]{}
}

// Create adds a new record to the repository and returns the created data.
func (repo *GenericRepositoryGORM[T]) Create(ctx context.Context, data T) (T, error) {
	err := repo.db.WithContext(ctx).Create(&data).Error
	return data, handleDBError(err)
}

// Get retrieves a record by its identifier.
func (repo *GenericRepositoryGORM[T]) Get(ctx context.Context, id string) (T, error) {
	var result T
	err := repo.db.WithContext(ctx).First(&result, fmt.Sprintf("%s = ?", repo.keyColumn), id).Error
	return result, handleDBError(err)
}

// Update modifies a record by its identifier. The full record is saved so
// that zero-valued fields (cleared allocation linkage, false flags) are
// written back as well.
func (repo *GenericRepositoryGORM[T]) Update(ctx context.Context, id string, data T) (T, error) {
	err := repo.db.WithContext(ctx).Model(new(T)).Where(fmt.Sprintf("%s = ?", repo.keyColumn), id).Save(&data).Error
	return data, handleDBError(err)
}

// Delete removes a record by its identifier.
func (repo *GenericRepositoryGORM[T]) Delete(ctx context.Context, id string) error {
	err := repo.db.WithContext(ctx).Delete(new(T), fmt.Sprintf("%s = ?", repo.keyColumn), id).Error
	return handleDBError(err)
}

// Find retrieves a single record based on a query.
func (repo *GenericRepositoryGORM[T]) Find(
	ctx context.Context,
	query repositories.Query[T],
) (T, error) {
	var result T
	db := repo.db.WithContext(ctx).Model(new(T))

	db = applyConditions(db, query)

	err := db.First(&result).Error
	return result, handleDBError(err)
}

// FindAll retrieves multiple records based on a query.
func (repo *GenericRepositoryGORM[T]) FindAll(
	ctx context.Context,
	query repositories.Query[T],
) ([]T, error) {
	var results []T
	db := repo.db.WithContext(ctx).Model(new(T))

	db = applyConditions(db, query)

	err := db.Find(&results).Error
	return results, handleDBError(err)
}

// applyConditions applies conditions, sorting, limiting, and offsetting to a GORM database query.
// The WHERE clause is constructed dynamically from the provided conditions and instance values.
func applyConditions[T any](db *gorm.DB, query repositories.Query[T]) *gorm.DB {
	// Retrieve the table name using the GORM naming strategy.
	tableName := db.NamingStrategy.TableName(reflect.TypeOf(*new(T)).Name())

	// Apply conditions specified in the query.
	for _, condition := range query.Conditions {
		columnName := db.NamingStrategy.ColumnName(tableName, condition.Field)
		db = db.Where(
			fmt.Sprintf("%s %s ?", columnName, condition.Operator),
			condition.Value,
		)
	}

	// Apply conditions based on non-zero values in the query instance.
	if !isEmptyValue(query.Instance) {
		exampleType := reflect.TypeOf(query.Instance)
		exampleValue := reflect.ValueOf(query.Instance)
		for i := 0; i < exampleType.NumField(); i++ {
			fieldName := exampleType.Field(i).Name
			fieldValue := exampleValue.Field(i).Interface()
			if !isEmptyValue(fieldValue) {
				columnName := db.NamingStrategy.ColumnName(tableName, fieldName)
				db = db.Where(fmt.Sprintf("%s = ?", columnName), fieldValue)
			}
		}
	}

	if query.SortBy != "" {
		db = db.Order(query.SortBy)
	}

	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}

	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	return db
}

// isEmptyValue reports whether v is the zero value of its type.
func isEmptyValue(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.IsZero()
}
