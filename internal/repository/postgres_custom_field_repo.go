package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/agileflow/internal/model"
)

// PostgresCustomFieldRepo はPostgreSQLを使用したカスタムフィールドリポジトリ。
type PostgresCustomFieldRepo struct {
	db *sql.DB
}

// NewPostgresCustomFieldRepo はPostgresCustomFieldRepoを生成する。
func NewPostgresCustomFieldRepo(db *sql.DB) *PostgresCustomFieldRepo {
	return &PostgresCustomFieldRepo{db: db}
}

const definitionColumns = `id, tenant_id, entity_type, name, field_type, options, required, created_at`

func scanDefinition(row rowScanner) (*model.CustomFieldDefinition, error) {
	d := &model.CustomFieldDefinition{}
	var fieldType string
	var options pq.StringArray
	if err := row.Scan(&d.ID, &d.TenantID, &d.EntityType, &d.Name, &fieldType, &options,
		&d.Required, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.FieldType = model.CustomFieldType(fieldType)
	d.Options = []string(options)
	return d, nil
}

func scanValue(row rowScanner) (*model.CustomFieldValue, error) {
	v := &model.CustomFieldValue{}
	var raw []byte
	if err := row.Scan(&v.ID, &v.TenantID, &v.DefinitionID, &v.EntityID, &raw, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Value = raw
	return v, nil
}

// CreateDefinition は定義を作成する。同名の定義がある場合はErrDuplicateを返す。
func (r *PostgresCustomFieldRepo) CreateDefinition(ctx context.Context, d *model.CustomFieldDefinition) error {
	options := d.Options
	if options == nil {
		options = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO custom_field_definitions (id, tenant_id, entity_type, name, field_type, options, required, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.TenantID, d.EntityType, d.Name, string(d.FieldType), pq.Array(options), d.Required, d.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create custom field definition: %w", err)
	}
	return nil
}

// FindDefinition はテナント内の定義を取得する。見つからない場合はnilを返す。
func (r *PostgresCustomFieldRepo) FindDefinition(ctx context.Context, tenantID, id string) (*model.CustomFieldDefinition, error) {
	if !validID(id) {
		return nil, nil
	}
	return queryOne(ctx, r.db, "custom field definition", scanDefinition,
		`SELECT `+definitionColumns+` FROM custom_field_definitions WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
}

// ListDefinitions はエンティティ種別の定義を返す。entityTypeが空の場合は全件を返す。
func (r *PostgresCustomFieldRepo) ListDefinitions(ctx context.Context, tenantID, entityType string) ([]*model.CustomFieldDefinition, error) {
	if entityType == "" {
		return queryList(ctx, r.db, "custom field definitions", scanDefinition,
			`SELECT `+definitionColumns+` FROM custom_field_definitions
			 WHERE tenant_id = $1 ORDER BY entity_type, name`,
			tenantID)
	}
	return queryList(ctx, r.db, "custom field definitions", scanDefinition,
		`SELECT `+definitionColumns+` FROM custom_field_definitions
		 WHERE tenant_id = $1 AND entity_type = $2 ORDER BY name`,
		tenantID, entityType)
}

// DeleteDefinition は定義を削除する。値はCASCADE削除される。
func (r *PostgresCustomFieldRepo) DeleteDefinition(ctx context.Context, tenantID, id string) (bool, error) {
	return deleteInTenant(ctx, r.db, "custom_field_definitions", tenantID, id)
}

// UpsertValue は値を作成または更新する。
func (r *PostgresCustomFieldRepo) UpsertValue(ctx context.Context, v *model.CustomFieldValue) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO custom_field_values (id, tenant_id, definition_id, entity_id, value, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (definition_id, entity_id) DO UPDATE
		   SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		v.ID, v.TenantID, v.DefinitionID, v.EntityID, []byte(v.Value), v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert custom field value: %w", err)
	}
	return nil
}

// ListValues はエンティティのカスタムフィールド値を返す。
func (r *PostgresCustomFieldRepo) ListValues(ctx context.Context, tenantID, entityID string) ([]*model.CustomFieldValue, error) {
	return queryList(ctx, r.db, "custom field values", scanValue,
		`SELECT id, tenant_id, definition_id, entity_id, value, updated_at
		 FROM custom_field_values WHERE tenant_id = $1 AND entity_id = $2
		 ORDER BY updated_at`,
		tenantID, entityID)
}

// compile-time interface check
var _ CustomFieldRepository = (*PostgresCustomFieldRepo)(nil)
