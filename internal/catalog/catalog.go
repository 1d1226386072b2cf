package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("catalog: not found")
	ErrExists         = errors.New("catalog: already exists")
	ErrFolderNotEmpty = errors.New("catalog: folder not empty")
)

type Repository interface {
	HealthCheck(ctx context.Context) error

	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)

	CreateFolder(ctx context.Context, in CreateFolderInput) (Folder, error)
	GetFolder(ctx context.Context, ownerID, folderID string) (Folder, error)
	ListFolders(ctx context.Context, ownerID string, parentID *string) ([]Folder, error)
	RenameFolder(ctx context.Context, ownerID, folderID, name string) (Folder, error)
	DeleteFolder(ctx context.Context, ownerID, folderID string) error

	CreateFile(ctx context.Context, in CreateFileInput) (File, error)
	GetFile(ctx context.Context, ownerID, fileID string) (File, error)
	ListFiles(ctx context.Context, ownerID string, folderID *string) ([]File, error)
	RenameFile(ctx context.Context, ownerID, fileID, name string) (File, error)
	DeleteFile(ctx context.Context, ownerID, fileID string) (File, error)
}

type User struct {
	UserID       string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Folder groups uploaded spreadsheets per owner. ParentID is nil for
// top-level folders.
type Folder struct {
	FolderID  string
	OwnerID   string
	ParentID  *string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File is the catalog record for one uploaded spreadsheet. The bytes
// themselves live in the object store under ObjectKey; FolderID is nil
// for files uploaded outside any folder.
type File struct {
	FileID      string
	OwnerID     string
	FolderID    *string
	Name        string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	Checksum    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateUserInput struct {
	Email        string
	DisplayName  string
	PasswordHash string
}

type CreateFolderInput struct {
	OwnerID  string
	ParentID *string
	Name     string
}

type CreateFileInput struct {
	OwnerID     string
	FolderID    *string
	Name        string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	Checksum    string
}
