package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/utils"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/open", func(c *gin.Context) {
		username, _ := utils.GetUsernameFromContext(c.Request.Context())
		c.String(http.StatusOK, username)
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func doRequest(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter()
	adminToken, err := utils.JwtGenerate("ops", utils.RoleAdmin)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	viewerToken, err := utils.JwtGenerate("viewer", "Viewer")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	cases := []struct {
		name string
		path string
		auth string
		want int
	}{
		{"anonymous open route", "/open", "", http.StatusOK},
		{"garbage token", "/open", "Bearer nope", http.StatusUnauthorized},
		{"missing bearer prefix", "/open", adminToken, http.StatusUnauthorized},
		{"anonymous admin route", "/admin", "", http.StatusUnauthorized},
		{"non-admin on admin route", "/admin", "Bearer " + viewerToken, http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + adminToken, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := doRequest(r, tc.path, tc.auth).Code; got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}

	if body := doRequest(r, "/open", "Bearer "+viewerToken).Body.String(); body != "viewer" {
		t.Fatalf("expected username in context, got %q", body)
	}
}

func TestDistrictLoaderResultsKeepOrder(t *testing.T) {
	results := districtLoaderResults([]models.District{{ID: "B", NameEn: "Bravo"}, {ID: "A", NameEn: "Alpha"}}, []string{"A", "Z", "B"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Data.NameEn != "Alpha" || results[1].Data != nil || results[2].Data.NameEn != "Bravo" {
		t.Fatalf("unexpected results %+v %+v %+v", results[0].Data, results[1].Data, results[2].Data)
	}
}

func TestHandleErrorRepeats(t *testing.T) {
	boom := errors.New("boom")
	results := handleError[*models.District](2, boom)
	if len(results) != 2 || !errors.Is(results[1].Error, boom) {
		t.Fatalf("unexpected %+v", results)
	}
}

func TestGetDistrictsWithoutLoaderOrDB(t *testing.T) {
	districts, errs := GetDistricts(context.Background(), nil, []string{"A"})
	if len(errs) != 0 || len(districts) != 1 || districts[0] != nil {
		t.Fatalf("unexpected %v %v", districts, errs)
	}
}
