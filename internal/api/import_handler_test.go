package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"catalogsync/internal/service"
	"catalogsync/internal/status"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

type fakeImports struct {
	gotUpload  string
	submitErr  error
	statusErr  error
	resultErr  error
	cancelErr  error
	statusResp v1.ImportStatus
}

func (f *fakeImports) Submit(_ context.Context, up service.Upload) (*v1.ImportAccepted, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	body, _ := io.ReadAll(up.Body)
	f.gotUpload = string(body)
	return &v1.ImportAccepted{TaskID: "t1", Status: "submitted", Filename: up.Filename}, nil
}

func (f *fakeImports) Status(_ context.Context, id string) (v1.ImportStatus, error) {
	if f.statusErr != nil {
		return v1.ImportStatus{}, f.statusErr
	}
	st := f.statusResp
	st.TaskID = id
	return st, nil
}

func (f *fakeImports) Result(_ context.Context, id string) (*v1.ImportResult, error) {
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	return &v1.ImportResult{TaskID: id, State: constraints.StatusCompleted, ErrorDetails: []v1.RowError{}}, nil
}

func (f *fakeImports) Cancel(context.Context, string) error { return f.cancelErr }

func importRouter(f *fakeImports, maxBytes int64) *gin.Engine {
	h := NewImportHandler(f, maxBytes)
	r := gin.New()
	r.POST("/v1/imports", h.Upload)
	r.GET("/v1/imports/:id/status", h.Status)
	r.GET("/v1/imports/:id/result", h.Result)
	r.POST("/v1/imports/:id/cancel", h.Cancel)
	return r
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	f := &fakeImports{}
	r := importRouter(f, 1<<20)

	body, ct := multipartBody(t, "file", "catalog.csv", "identifier,name\nP1,Widget\n")
	req, _ := http.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted v1.ImportAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, "t1", accepted.TaskID)
	assert.Equal(t, "catalog.csv", accepted.Filename)
	assert.Equal(t, "identifier,name\nP1,Widget\n", f.gotUpload)
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		err      error
		wantCode int
	}{
		{"missing field", "upload", nil, http.StatusBadRequest},
		{"unsupported", "file", service.ErrUnsupportedFile, http.StatusBadRequest},
		{"empty", "file", service.ErrEmptyUpload, http.StatusBadRequest},
		{"too large", "file", service.ErrUploadTooLarge, http.StatusRequestEntityTooLarge},
		{"storage down", "file", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := importRouter(&fakeImports{submitErr: tt.err}, 1<<20)
			body, ct := multipartBody(t, tt.field, "catalog.csv", "a,b\n")
			req, _ := http.NewRequest(http.MethodPost, "/v1/imports", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestUploadBodyLimit(t *testing.T) {
	r := importRouter(&fakeImports{}, 10)
	big := string(bytes.Repeat([]byte("x"), 2<<20))
	body, ct := multipartBody(t, "file", "catalog.csv", big)
	req, _ := http.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestImportStatus(t *testing.T) {
	f := &fakeImports{statusResp: v1.ImportStatus{State: constraints.StatusPending}}
	r := importRouter(f, 0)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/v1/imports/abc/status", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"task_id":"abc","state":"Pending"}`, w.Body.String())

	f.statusErr = status.ErrStatusUnavailable
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestImportResultAndCancel(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		f        *fakeImports
		wantCode int
	}{
		{"result ok", http.MethodGet, "/v1/imports/a/result", &fakeImports{}, http.StatusOK},
		{"result unknown", http.MethodGet, "/v1/imports/a/result", &fakeImports{resultErr: service.ErrTaskNotFound}, http.StatusNotFound},
		{"result running", http.MethodGet, "/v1/imports/a/result", &fakeImports{resultErr: service.ErrNotFinished}, http.StatusConflict},
		{"cancel ok", http.MethodPost, "/v1/imports/a/cancel", &fakeImports{}, http.StatusAccepted},
		{"cancel finished", http.MethodPost, "/v1/imports/a/cancel", &fakeImports{cancelErr: service.ErrAlreadyFinished}, http.StatusConflict},
		{"cancel unknown", http.MethodPost, "/v1/imports/a/cancel", &fakeImports{cancelErr: service.ErrTaskNotFound}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(tt.method, tt.path, nil)
			importRouter(tt.f, 0).ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}
