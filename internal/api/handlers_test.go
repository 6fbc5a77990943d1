package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kduvra/filerepo/internal/coreop"
	"github.com/kduvra/filerepo/internal/filestore"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := filestore.New(t.TempDir(), false)
	require.NoError(t, err)

	router := gin.New()
	NewHandler(coreop.NewStoreRepository(store)).Register(router)
	return router
}

func TestPutThenGetRoundTrips(t *testing.T) {
	router := newTestRouter(t)

	putReq := httptest.NewRequest(http.MethodPut, "/files/a.txt", strings.NewReader("hello"))
	putRec := httptest.NewRecorder()
	router.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/files/a.txt", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "hello", getRec.Body.String())
}

func TestGetMissingReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/files/missing.txt", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateNewConflictsOnExisting(t *testing.T) {
	router := newTestRouter(t)

	first := httptest.NewRequest(http.MethodPut, "/files/a.txt?mode=create_new", strings.NewReader("x"))
	router.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPut, "/files/a.txt?mode=create_new", strings.NewReader("y"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, second)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestDeleteThenListOmitsFile(t *testing.T) {
	router := newTestRouter(t)

	put := httptest.NewRequest(http.MethodPut, "/files/a.txt", strings.NewReader("x"))
	router.ServeHTTP(httptest.NewRecorder(), put)

	del := httptest.NewRequest(http.MethodDelete, "/files/a.txt", nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, del)
	require.Equal(t, http.StatusOK, delRec.Code)

	list := httptest.NewRequest(http.MethodGet, "/files", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, list)
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.NotContains(t, listRec.Body.String(), "a.txt")
}

func TestMetadataReportsSize(t *testing.T) {
	router := newTestRouter(t)

	put := httptest.NewRequest(http.MethodPut, "/files/a.txt", strings.NewReader("abcde"))
	router.ServeHTTP(httptest.NewRecorder(), put)

	req := httptest.NewRequest(http.MethodGet, "/files/a.txt/metadata", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"size_bytes":5`)
}
