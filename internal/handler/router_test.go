package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/sharegate/internal/config"
	"github.com/xxxsen/sharegate/internal/denycache"
	"github.com/xxxsen/sharegate/internal/handler"
	"github.com/xxxsen/sharegate/internal/identity"
	"github.com/xxxsen/sharegate/internal/middleware"
	"github.com/xxxsen/sharegate/internal/pkg/password"
	"github.com/xxxsen/sharegate/internal/pkg/sharetoken"
	"github.com/xxxsen/sharegate/internal/repo"
	"github.com/xxxsen/sharegate/internal/service"
	"github.com/xxxsen/sharegate/internal/testutil"
)

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func setupRouter(t *testing.T, allowAnonymous bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	password.SetCost(4)

	conn := testutil.OpenTestDB(t)
	userRepo := repo.NewUserRepo(conn)
	shareRepo := repo.NewShareRepo(conn)
	fileRepo := repo.NewShareFileRepo(conn)
	reverseRepo := repo.NewReverseShareRepo(conn)

	jwtSecret := []byte("test-secret")
	cache := denycache.NewLRU(64, time.Minute)
	access := service.NewAccessService(shareRepo, fileRepo, sharetoken.NewCodec([]byte("share-secret"), time.Hour), service.WithDenyCache(cache))
	exchange := service.NewReverseShareService(reverseRepo, shareRepo, service.ReverseSharePolicy{}, service.WithDenyCache(cache))
	shares := service.NewShareService(shareRepo, fileRepo, reverseRepo, exchange,
		sharetoken.NewCodec([]byte("upload-secret"), time.Hour), nil, 0)

	props := config.Properties{AllowUnauthenticatedShares: allowAnonymous}
	deps := handler.RouterDeps{
		Auth:                       handler.NewAuthHandler(service.NewAuthService(userRepo, jwtSecret, time.Hour)),
		Shares:                     handler.NewShareHandler(shares, access, false),
		ReverseShares:              handler.NewReverseShareHandler(exchange),
		Properties:                 handler.NewPropertiesHandler(props),
		Resolver:                   identity.NewResolver(jwtSecret),
		AllowUnauthenticatedShares: allowAnonymous,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return &testServer{t: t, handler: engine}
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) (int, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func (s *testServer) register(email string) string {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/auth/register", map[string]string{"email": email, "password": "password123"}, nil)
	require.Equal(s.t, http.StatusOK, code, env.Message)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(env.Data, &out))
	return out.Token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type createdShare struct {
	Share struct {
		ID             string `json:"id"`
		OwnerID        string `json:"owner_id"`
		ReverseShareID string `json:"reverse_share_id"`
		IsPublic       bool   `json:"is_public"`
	} `json:"share"`
	UploadToken string `json:"upload_token"`
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestCreateShareFallbackPolicy(t *testing.T) {
	strict := setupRouter(t, false)
	code, env := strict.do(http.MethodPost, "/shares", map[string]string{"name": "x"}, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "unauthorized", env.Error)

	code, _ = strict.do(http.MethodPost, "/shares", map[string]string{"name": "x"}, bearer("garbage"))
	require.Equal(t, http.StatusUnauthorized, code)

	token := strict.register("owner@example.com")
	code, env = strict.do(http.MethodPost, "/shares", map[string]string{"name": "x"}, bearer(token))
	require.Equal(t, http.StatusOK, code, env.Message)
	require.NotEmpty(t, decode[createdShare](t, env).Share.OwnerID)

	open := setupRouter(t, true)
	code, env = open.do(http.MethodPost, "/shares", map[string]string{"name": "x"}, bearer("garbage"))
	require.Equal(t, http.StatusOK, code, env.Message)
	require.Empty(t, decode[createdShare](t, env).Share.OwnerID)

	code, env = open.do(http.MethodGet, "/configs", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(env.Data), `"allow_unauthenticated_shares":true`)
	require.Contains(t, string(env.Data), `"can_create_share":true`)
	require.Contains(t, string(env.Data), `"can_create_reverse_share":false`)

	code, env = strict.do(http.MethodGet, "/configs", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(env.Data), `"can_create_share":false`)
	code, env = strict.do(http.MethodGet, "/configs", nil, bearer(token))
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(env.Data), `"authenticated":true`)
	require.Contains(t, string(env.Data), `"can_create_share":true`)
}

func TestPasswordShareFlow(t *testing.T) {
	s := setupRouter(t, false)
	owner := s.register("owner@example.com")
	code, env := s.do(http.MethodPost, "/shares", map[string]interface{}{"name": "secret", "password": "hunter2", "max_views": 1}, bearer(owner))
	require.Equal(t, http.StatusOK, code, env.Message)
	created := decode[createdShare](t, env)
	shareID := created.Share.ID

	code, env = s.do(http.MethodPost, "/shares/"+shareID+"/files", map[string]interface{}{"name": "a.txt", "size": 5, "mime": "text/plain"},
		map[string]string{handler.UploadTokenHeader: created.UploadToken})
	require.Equal(t, http.StatusOK, code, env.Message)
	fileID := decode[struct {
		ID string `json:"id"`
	}](t, env).ID

	code, env = s.do(http.MethodGet, "/shares/"+shareID, nil, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "share_password_required", env.Error)

	code, env = s.do(http.MethodGet, "/shares/"+shareID+"/files/"+fileID, nil, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "share_password_required", env.Error)

	code, env = s.do(http.MethodPost, "/shares/"+shareID+"/token", map[string]string{"password": "wrong"}, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "invalid_password", env.Error)

	code, env = s.do(http.MethodPost, "/shares/"+shareID+"/token", map[string]string{"password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	grant := decode[struct {
		Token string `json:"token"`
		Share struct {
			Views int `json:"views"`
			Files []struct {
				ID string `json:"id"`
			} `json:"files"`
		} `json:"share"`
	}](t, env)
	require.NotEmpty(t, grant.Token)
	require.Equal(t, 1, grant.Share.Views)
	require.Len(t, grant.Share.Files, 1)

	withToken := map[string]string{handler.ShareTokenHeader: grant.Token}
	code, env = s.do(http.MethodGet, "/shares/"+shareID+"/files/"+fileID, nil, withToken)
	require.Equal(t, http.StatusOK, code, env.Message)

	// the single allowed view is spent; the limit now wins over any credential
	code, env = s.do(http.MethodGet, "/shares/"+shareID, nil, withToken)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "share_max_views_exceeded", env.Error)

	code, env = s.do(http.MethodDelete, "/shares/"+shareID, nil, bearer(owner))
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = s.do(http.MethodGet, "/shares/"+shareID+"/files/"+fileID, nil, withToken)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "share_removed", env.Error)
}

func TestPublicShareTokenRequiredForFiles(t *testing.T) {
	s := setupRouter(t, true)
	code, env := s.do(http.MethodPost, "/shares", map[string]string{"name": "pub"}, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	created := decode[createdShare](t, env)

	code, env = s.do(http.MethodGet, "/shares/"+created.Share.ID+"/files/whatever", nil, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "share_token_required", env.Error)

	code, env = s.do(http.MethodGet, "/shares/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "share_removed", env.Error)
	require.Equal(t, "share not found", env.Message)
}

func TestReverseShareFlow(t *testing.T) {
	s := setupRouter(t, false)
	owner := s.register("owner@example.com")

	code, env := s.do(http.MethodPost, "/reverse-shares", map[string]interface{}{"max_share_size": 10, "remaining_uses": 1}, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(http.MethodPost, "/reverse-shares", map[string]interface{}{"max_share_size": 10, "remaining_uses": 1, "send_email_notification": true}, bearer(owner))
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid", env.Error)

	code, env = s.do(http.MethodPost, "/reverse-shares", map[string]interface{}{"max_share_size": 10, "remaining_uses": 1}, bearer(owner))
	require.Equal(t, http.StatusOK, code, env.Message)
	rs := decode[struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}](t, env)

	code, env = s.do(http.MethodGet, "/reverse-shares/"+rs.Token+"/check", nil, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	upload := map[string]string{handler.ReverseShareTokenHeader: rs.Token}
	code, env = s.do(http.MethodPost, "/shares", map[string]interface{}{"name": "big", "size": 11}, upload)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
	require.Equal(t, "reverse_share_size_exceeded", env.Error)

	code, env = s.do(http.MethodPost, "/shares", map[string]interface{}{"name": "fits", "size": 10}, upload)
	require.Equal(t, http.StatusOK, code, env.Message)
	created := decode[createdShare](t, env)
	require.Equal(t, rs.ID, created.Share.ReverseShareID)
	require.False(t, created.Share.IsPublic)

	code, env = s.do(http.MethodPost, "/shares", map[string]interface{}{"name": "again", "size": 1}, upload)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "reverse_share_exhausted", env.Error)

	code, env = s.do(http.MethodGet, "/reverse-shares/"+rs.Token+"/check", nil, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "reverse_share_exhausted", env.Error)

	uploadAuth := map[string]string{handler.UploadTokenHeader: created.UploadToken}
	code, env = s.do(http.MethodPost, "/shares/"+created.Share.ID+"/files", map[string]interface{}{"name": "a", "size": 11}, uploadAuth)
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
	code, env = s.do(http.MethodPost, "/shares/"+created.Share.ID+"/files", map[string]interface{}{"name": "a", "size": 10}, uploadAuth)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = s.do(http.MethodPost, "/shares/"+created.Share.ID+"/complete", nil, uploadAuth)
	require.Equal(t, http.StatusOK, code, env.Message)

	// the owner did not allow public access
	code, env = s.do(http.MethodGet, "/shares/"+created.Share.ID, nil, nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "private_share", env.Error)
	code, env = s.do(http.MethodGet, "/shares/"+created.Share.ID, nil, bearer(owner))
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(http.MethodGet, "/reverse-shares", nil, bearer(owner))
	require.Equal(t, http.StatusOK, code)
	list := decode[[]struct {
		ID     string            `json:"id"`
		Shares []json.RawMessage `json:"shares"`
	}](t, env)
	require.Len(t, list, 1)
	require.Len(t, list[0].Shares, 1)

	code, _ = s.do(http.MethodDelete, "/reverse-shares/"+rs.ID, nil, bearer(owner))
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(http.MethodGet, "/reverse-shares/unknown-token/check", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "reverse_share_not_found", env.Error)
}

func TestListMine(t *testing.T) {
	s := setupRouter(t, false)
	owner := s.register("owner@example.com")
	for _, name := range []string{"a", "b"} {
		code, env := s.do(http.MethodPost, "/shares", map[string]string{"name": name}, bearer(owner))
		require.Equal(t, http.StatusOK, code, env.Message)
	}
	code, env := s.do(http.MethodGet, "/me/shares", nil, bearer(owner))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, decode[[]json.RawMessage](t, env), 2)

	code, _ = s.do(http.MethodGet, "/me/shares", nil, nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestUpdateShare(t *testing.T) {
	s := setupRouter(t, false)
	owner := s.register("owner@example.com")
	other := s.register("other@example.com")
	code, env := s.do(http.MethodPost, "/shares", map[string]string{"name": "draft"}, bearer(owner))
	require.Equal(t, http.StatusOK, code, env.Message)
	shareID := decode[createdShare](t, env).Share.ID

	code, env = s.do(http.MethodPut, "/shares/"+shareID, map[string]string{"name": "final", "description": "q3"}, bearer(other))
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "forbidden", env.Error)

	code, env = s.do(http.MethodPut, "/shares/"+shareID, map[string]string{"name": ""}, bearer(owner))
	require.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(http.MethodPut, "/shares/"+shareID, map[string]string{"name": "final", "description": "q3"}, bearer(owner))
	require.Equal(t, http.StatusOK, code, env.Message)
	updated := decode[struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}](t, env)
	require.Equal(t, "final", updated.Name)
	require.Equal(t, "q3", updated.Description)
}
