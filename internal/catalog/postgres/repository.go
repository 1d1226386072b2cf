package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sheetflow/sheetflow/internal/catalog"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog unreachable: %w", err)
	}
	return nil
}

func (r *Repository) CreateUser(ctx context.Context, in catalog.CreateUserInput) (catalog.User, error) {
	query := `
INSERT INTO account (user_id, email, display_name, password_hash)
VALUES ($1, $2, $3, $4)
RETURNING created_at`

	userID := uuid.NewString()
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, userID, in.Email, in.DisplayName, in.PasswordHash).Scan(&createdAt); err != nil {
		if isUniqueViolation(err) {
			return catalog.User{}, catalog.ErrExists
		}
		return catalog.User{}, fmt.Errorf("create user: %w", err)
	}
	return catalog.User{
		UserID:       userID,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    createdAt,
	}, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (catalog.User, error) {
	query := `
SELECT user_id, email, display_name, password_hash, created_at
FROM account
WHERE email = $1`

	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *Repository) GetUserByID(ctx context.Context, userID string) (catalog.User, error) {
	query := `
SELECT user_id, email, display_name, password_hash, created_at
FROM account
WHERE user_id = $1`

	return scanUser(r.db.QueryRowContext(ctx, query, userID))
}

func (r *Repository) CreateFolder(ctx context.Context, in catalog.CreateFolderInput) (catalog.Folder, error) {
	query := `
INSERT INTO folder (folder_id, owner_id, parent_id, name)
VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at`

	folderID := uuid.NewString()
	var createdAt, updatedAt time.Time
	if err := r.db.QueryRowContext(ctx, query, folderID, in.OwnerID, in.ParentID, in.Name).Scan(&createdAt, &updatedAt); err != nil {
		switch {
		case isUniqueViolation(err):
			return catalog.Folder{}, catalog.ErrExists
		case isForeignKeyViolation(err):
			return catalog.Folder{}, catalog.ErrNotFound
		}
		return catalog.Folder{}, fmt.Errorf("create folder: %w", err)
	}
	return catalog.Folder{
		FolderID:  folderID,
		OwnerID:   in.OwnerID,
		ParentID:  in.ParentID,
		Name:      in.Name,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func (r *Repository) GetFolder(ctx context.Context, ownerID, folderID string) (catalog.Folder, error) {
	query := `
SELECT folder_id, owner_id, parent_id, name, created_at, updated_at
FROM folder
WHERE owner_id = $1 AND folder_id = $2`

	return scanFolder(r.db.QueryRowContext(ctx, query, ownerID, folderID))
}

func (r *Repository) ListFolders(ctx context.Context, ownerID string, parentID *string) ([]catalog.Folder, error) {
	query := `
SELECT folder_id, owner_id, parent_id, name, created_at, updated_at
FROM folder
WHERE owner_id = $1 AND parent_id IS NOT DISTINCT FROM $2
ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query, ownerID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	folders := make([]catalog.Folder, 0)
	for rows.Next() {
		var folder catalog.Folder
		if err := rows.Scan(
			&folder.FolderID,
			&folder.OwnerID,
			&folder.ParentID,
			&folder.Name,
			&folder.CreatedAt,
			&folder.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return folders, nil
}

func (r *Repository) RenameFolder(ctx context.Context, ownerID, folderID, name string) (catalog.Folder, error) {
	query := `
UPDATE folder
SET name = $3, updated_at = NOW()
WHERE owner_id = $1 AND folder_id = $2
RETURNING folder_id, owner_id, parent_id, name, created_at, updated_at`

	folder, err := scanFolder(r.db.QueryRowContext(ctx, query, ownerID, folderID, name))
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.Folder{}, catalog.ErrExists
		}
		return catalog.Folder{}, err
	}
	return folder, nil
}

// DeleteFolder removes an empty folder. The child check and the delete
// run in one transaction so a concurrent upload cannot slip a file into
// the folder between the two statements.
func (r *Repository) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	return r.WithTx(ctx, func(tx *TxRepository) error {
		children, err := tx.FolderChildCount(ctx, ownerID, folderID)
		if err != nil {
			return err
		}
		if children > 0 {
			return catalog.ErrFolderNotEmpty
		}
		return tx.DeleteFolder(ctx, ownerID, folderID)
	})
}

func (r *Repository) CreateFile(ctx context.Context, in catalog.CreateFileInput) (catalog.File, error) {
	query := `
INSERT INTO file (file_id, owner_id, folder_id, name, content_type, size_bytes, object_key, checksum)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at`

	fileID := uuid.NewString()
	var createdAt, updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		fileID,
		in.OwnerID,
		in.FolderID,
		in.Name,
		in.ContentType,
		in.SizeBytes,
		in.ObjectKey,
		in.Checksum,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return catalog.File{}, catalog.ErrExists
		case isForeignKeyViolation(err):
			return catalog.File{}, catalog.ErrNotFound
		}
		return catalog.File{}, fmt.Errorf("create file: %w", err)
	}
	return catalog.File{
		FileID:      fileID,
		OwnerID:     in.OwnerID,
		FolderID:    in.FolderID,
		Name:        in.Name,
		ContentType: in.ContentType,
		SizeBytes:   in.SizeBytes,
		ObjectKey:   in.ObjectKey,
		Checksum:    in.Checksum,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (r *Repository) GetFile(ctx context.Context, ownerID, fileID string) (catalog.File, error) {
	query := `
SELECT file_id, owner_id, folder_id, name, content_type, size_bytes, object_key, checksum, created_at, updated_at
FROM file
WHERE owner_id = $1 AND file_id = $2`

	return scanFile(r.db.QueryRowContext(ctx, query, ownerID, fileID))
}

func (r *Repository) ListFiles(ctx context.Context, ownerID string, folderID *string) ([]catalog.File, error) {
	query := `
SELECT file_id, owner_id, folder_id, name, content_type, size_bytes, object_key, checksum, created_at, updated_at
FROM file
WHERE owner_id = $1 AND folder_id IS NOT DISTINCT FROM $2
ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query, ownerID, folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]catalog.File, 0)
	for rows.Next() {
		var file catalog.File
		if err := rows.Scan(
			&file.FileID,
			&file.OwnerID,
			&file.FolderID,
			&file.Name,
			&file.ContentType,
			&file.SizeBytes,
			&file.ObjectKey,
			&file.Checksum,
			&file.CreatedAt,
			&file.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

func (r *Repository) RenameFile(ctx context.Context, ownerID, fileID, name string) (catalog.File, error) {
	query := `
UPDATE file
SET name = $3, updated_at = NOW()
WHERE owner_id = $1 AND file_id = $2
RETURNING file_id, owner_id, folder_id, name, content_type, size_bytes, object_key, checksum, created_at, updated_at`

	file, err := scanFile(r.db.QueryRowContext(ctx, query, ownerID, fileID, name))
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.File{}, catalog.ErrExists
		}
		return catalog.File{}, err
	}
	return file, nil
}

func (r *Repository) DeleteFile(ctx context.Context, ownerID, fileID string) (catalog.File, error) {
	query := `
DELETE FROM file
WHERE owner_id = $1 AND file_id = $2
RETURNING file_id, owner_id, folder_id, name, content_type, size_bytes, object_key, checksum, created_at, updated_at`

	return scanFile(r.db.QueryRowContext(ctx, query, ownerID, fileID))
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx *TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txRepo := &TxRepository{q: tx}
	if err := fn(txRepo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type TxRepository struct {
	q dbTX
}

func (r *TxRepository) FolderChildCount(ctx context.Context, ownerID, folderID string) (int64, error) {
	query := `
SELECT
    (SELECT COUNT(*) FROM folder WHERE owner_id = $1 AND parent_id = $2) +
    (SELECT COUNT(*) FROM file WHERE owner_id = $1 AND folder_id = $2)`

	var count int64
	if err := r.q.QueryRowContext(ctx, query, ownerID, folderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count folder children: %w", err)
	}
	return count, nil
}

func (r *TxRepository) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	query := `
DELETE FROM folder
WHERE owner_id = $1 AND folder_id = $2`

	result, err := r.q.ExecContext(ctx, query, ownerID, folderID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete folder rows affected: %w", err)
	}
	if affected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (catalog.User, error) {
	var user catalog.User
	if err := row.Scan(
		&user.UserID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.User{}, catalog.ErrNotFound
		}
		return catalog.User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func scanFolder(row *sql.Row) (catalog.Folder, error) {
	var folder catalog.Folder
	if err := row.Scan(
		&folder.FolderID,
		&folder.OwnerID,
		&folder.ParentID,
		&folder.Name,
		&folder.CreatedAt,
		&folder.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Folder{}, catalog.ErrNotFound
		}
		return catalog.Folder{}, fmt.Errorf("scan folder: %w", err)
	}
	return folder, nil
}

func scanFile(row *sql.Row) (catalog.File, error) {
	var file catalog.File
	if err := row.Scan(
		&file.FileID,
		&file.OwnerID,
		&file.FolderID,
		&file.Name,
		&file.ContentType,
		&file.SizeBytes,
		&file.ObjectKey,
		&file.Checksum,
		&file.CreatedAt,
		&file.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.File{}, catalog.ErrNotFound
		}
		return catalog.File{}, fmt.Errorf("scan file: %w", err)
	}
	return file, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
