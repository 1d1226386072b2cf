package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sheetflow/sheetflow/internal/auth"
	"github.com/sheetflow/sheetflow/internal/catalog"
	"github.com/sheetflow/sheetflow/internal/config"
	"github.com/sheetflow/sheetflow/internal/dataset"
	"github.com/sheetflow/sheetflow/internal/storage"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("sheetflow-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("sheetflow-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(_ context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresSessionToken(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"SHEETFLOW_AUTH_JWT_SECRET": "test-secret",
	})

	unauthResp := httptest.NewRecorder()
	env.handler.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/folders", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	token := env.signup(t, "ada@example.com", "correct horse battery")
	authReq := httptest.NewRequest(http.MethodGet, "/v1/folders", nil)
	authReq.Header.Set("Authorization", "Bearer "+token)
	authResp := httptest.NewRecorder()
	env.handler.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body = %s", authResp.Code, authResp.Body.String())
	}
}

func TestSignupAndSigninStayOpenWithAuthEnabled(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"SHEETFLOW_AUTH_JWT_SECRET": "test-secret",
	})

	resp := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct horse battery",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body = %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodPost, "/v1/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct horse battery",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body = %s", resp.Code, resp.Body.String())
	}
}

func TestAllProbesStopsAtFirstFailure(t *testing.T) {
	var ran []string
	mark := func(name string, err error) Probe {
		return func(_ context.Context) error {
			ran = append(ran, name)
			return err
		}
	}

	combined := AllProbes(
		mark("catalog", nil),
		nil,
		mark("store", errors.New("bucket missing")),
		mark("never", nil),
	)
	if err := combined(context.Background()); err == nil {
		t.Fatal("expected the failing probe to surface")
	}
	if got := strings.Join(ran, ","); got != "catalog,store" {
		t.Fatalf("probes ran = %q, want catalog,store", got)
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	cfg, err := config.Load("sheetflow-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>ok</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/console", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// memoryCatalog is an in-memory catalog.Repository with the same sentinel
// semantics as the postgres implementation.
type memoryCatalog struct {
	mu      sync.Mutex
	users   map[string]catalog.User
	folders map[string]catalog.Folder
	files   map[string]catalog.File
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		users:   map[string]catalog.User{},
		folders: map[string]catalog.Folder{},
		files:   map[string]catalog.File{},
	}
}

func (m *memoryCatalog) HealthCheck(context.Context) error { return nil }

func (m *memoryCatalog) CreateUser(_ context.Context, in catalog.CreateUserInput) (catalog.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == in.Email {
			return catalog.User{}, catalog.ErrExists
		}
	}
	user := catalog.User{
		UserID:       uuid.NewString(),
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[user.UserID] = user
	return user, nil
}

func (m *memoryCatalog) GetUserByEmail(_ context.Context, email string) (catalog.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return catalog.User{}, catalog.ErrNotFound
}

func (m *memoryCatalog) GetUserByID(_ context.Context, userID string) (catalog.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return catalog.User{}, catalog.ErrNotFound
	}
	return user, nil
}

func (m *memoryCatalog) CreateFolder(_ context.Context, in catalog.CreateFolderInput) (catalog.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ParentID != nil {
		parent, ok := m.folders[*in.ParentID]
		if !ok || parent.OwnerID != in.OwnerID {
			return catalog.Folder{}, catalog.ErrNotFound
		}
	}
	for _, folder := range m.folders {
		if folder.OwnerID == in.OwnerID && folder.Name == in.Name && refEqual(folder.ParentID, in.ParentID) {
			return catalog.Folder{}, catalog.ErrExists
		}
	}
	now := time.Now().UTC()
	folder := catalog.Folder{
		FolderID:  uuid.NewString(),
		OwnerID:   in.OwnerID,
		ParentID:  in.ParentID,
		Name:      in.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.folders[folder.FolderID] = folder
	return folder, nil
}

func (m *memoryCatalog) GetFolder(_ context.Context, ownerID, folderID string) (catalog.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[folderID]
	if !ok || folder.OwnerID != ownerID {
		return catalog.Folder{}, catalog.ErrNotFound
	}
	return folder, nil
}

func (m *memoryCatalog) ListFolders(_ context.Context, ownerID string, parentID *string) ([]catalog.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folders := make([]catalog.Folder, 0)
	for _, folder := range m.folders {
		if folder.OwnerID == ownerID && refEqual(folder.ParentID, parentID) {
			folders = append(folders, folder)
		}
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

func (m *memoryCatalog) RenameFolder(_ context.Context, ownerID, folderID, name string) (catalog.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[folderID]
	if !ok || folder.OwnerID != ownerID {
		return catalog.Folder{}, catalog.ErrNotFound
	}
	for _, other := range m.folders {
		if other.FolderID != folderID && other.OwnerID == ownerID && other.Name == name && refEqual(other.ParentID, folder.ParentID) {
			return catalog.Folder{}, catalog.ErrExists
		}
	}
	folder.Name = name
	folder.UpdatedAt = time.Now().UTC()
	m.folders[folderID] = folder
	return folder, nil
}

func (m *memoryCatalog) DeleteFolder(_ context.Context, ownerID, folderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.folders[folderID]
	if !ok || folder.OwnerID != ownerID {
		return catalog.ErrNotFound
	}
	for _, other := range m.folders {
		if other.ParentID != nil && *other.ParentID == folderID {
			return catalog.ErrFolderNotEmpty
		}
	}
	for _, file := range m.files {
		if file.FolderID != nil && *file.FolderID == folderID {
			return catalog.ErrFolderNotEmpty
		}
	}
	delete(m.folders, folderID)
	return nil
}

func (m *memoryCatalog) CreateFile(_ context.Context, in catalog.CreateFileInput) (catalog.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.FolderID != nil {
		folder, ok := m.folders[*in.FolderID]
		if !ok || folder.OwnerID != in.OwnerID {
			return catalog.File{}, catalog.ErrNotFound
		}
	}
	for _, file := range m.files {
		if file.OwnerID == in.OwnerID && file.Name == in.Name && refEqual(file.FolderID, in.FolderID) {
			return catalog.File{}, catalog.ErrExists
		}
	}
	now := time.Now().UTC()
	file := catalog.File{
		FileID:      uuid.NewString(),
		OwnerID:     in.OwnerID,
		FolderID:    in.FolderID,
		Name:        in.Name,
		ContentType: in.ContentType,
		SizeBytes:   in.SizeBytes,
		ObjectKey:   in.ObjectKey,
		Checksum:    in.Checksum,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.files[file.FileID] = file
	return file, nil
}

func (m *memoryCatalog) GetFile(_ context.Context, ownerID, fileID string) (catalog.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.OwnerID != ownerID {
		return catalog.File{}, catalog.ErrNotFound
	}
	return file, nil
}

func (m *memoryCatalog) ListFiles(_ context.Context, ownerID string, folderID *string) ([]catalog.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := make([]catalog.File, 0)
	for _, file := range m.files {
		if file.OwnerID == ownerID && refEqual(file.FolderID, folderID) {
			files = append(files, file)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (m *memoryCatalog) RenameFile(_ context.Context, ownerID, fileID, name string) (catalog.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.OwnerID != ownerID {
		return catalog.File{}, catalog.ErrNotFound
	}
	for _, other := range m.files {
		if other.FileID != fileID && other.OwnerID == ownerID && other.Name == name && refEqual(other.FolderID, file.FolderID) {
			return catalog.File{}, catalog.ErrExists
		}
	}
	file.Name = name
	file.UpdatedAt = time.Now().UTC()
	m.files[fileID] = file
	return file, nil
}

func (m *memoryCatalog) DeleteFile(_ context.Context, ownerID, fileID string) (catalog.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok || file.OwnerID != ownerID {
		return catalog.File{}, catalog.ErrNotFound
	}
	delete(m.files, fileID)
	return file, nil
}

func refEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: map[string][]byte{}}
}

func (m *memoryObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjectStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryObjectStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", storage.ErrObjectNotFound
	}
	return "https://signed.example/" + key + "?expires=" + expiry.String(), nil
}

func (m *memoryObjectStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *memoryObjectStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type testEnv struct {
	cfg     config.Config
	handler http.Handler
	catalog *memoryCatalog
	store   *memoryObjectStore
}

// newTestEnv wires a full handler over in-memory fakes. Passing a JWT secret
// in env turns real session auth on, the way the service wires it.
func newTestEnv(t *testing.T, env map[string]string, mutators ...func(*Dependencies)) *testEnv {
	t.Helper()
	cfg, err := config.Load("sheetflow-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	repo := newMemoryCatalog()
	store := newMemoryObjectStore()
	deps := Dependencies{
		Catalog: repo,
		Store:   store,
		Dataset: dataset.NewService(store, dataset.Config{
			PreviewRows:    cfg.Files.PreviewRows,
			PreviewMaxRows: cfg.Files.PreviewMaxRows,
			ExportMaxRows:  cfg.Files.ExportMaxRows,
		}),
	}
	if cfg.Auth.JWTSecret != "" {
		sessions, err := auth.NewSessions(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
		if err != nil {
			t.Fatalf("sessions setup failed: %v", err)
		}
		deps.Sessions = sessions
		deps.AuthMiddleware = auth.Middleware(nil, sessions)
	}
	for _, mutate := range mutators {
		mutate(&deps)
	}

	return &testEnv{
		cfg:     cfg,
		handler: NewHandler(cfg, deps),
		catalog: repo,
		store:   store,
	}
}

// encodeBody accepts nil, raw bytes, a literal string, or anything JSON can
// marshal.
func encodeBody(t *testing.T, body any) io.Reader {
	t.Helper()
	switch typed := body.(type) {
	case nil:
		return nil
	case []byte:
		return bytes.NewReader(typed)
	case string:
		return strings.NewReader(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		return bytes.NewReader(encoded)
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, encodeBody(t, body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// doAs targets a protected route through the X-User-ID fallback used when
// session auth is not configured.
func (e *testEnv) doAs(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, encodeBody(t, body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v (body: %s)", err, rr.Body.String())
	}
	return body
}

// signup creates an account and returns its session token, or the user id as
// pseudo-token when sessions are disabled.
func (e *testEnv) signup(t *testing.T, email, password string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body = %s", resp.Code, resp.Body.String())
	}
	body := e.decode(t, resp)
	if token, ok := body["token"].(string); ok && token != "" {
		return token
	}
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("signup response missing user: %v", body)
	}
	return user["user_id"].(string)
}
