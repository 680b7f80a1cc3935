package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hostinv/internal/apperr"
	"hostinv/internal/db/dbtest"
	"hostinv/internal/models"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T, r *Repo, c Category) []string {
	t.Helper()
	all, err := r.List(context.Background(), c)
	require.NoError(t, err)
	var out []string
	for _, e := range all {
		if e.ItemDefault {
			out = append(out, e.Name)
		}
	}
	return out
}

func TestCreate_FirstEntryBecomesDefault(t *testing.T) {
	r := NewRepo(dbtest.Open(t))
	ctx := context.Background()

	e, err := r.Create(ctx, Environments, "prod", models.Flags{})
	require.NoError(t, err)
	assert.True(t, e.ItemDefault)
	assert.True(t, e.Enabled)

	e, err = r.Create(ctx, Environments, "dev", models.Flags{Enabled: true})
	require.NoError(t, err)
	assert.False(t, e.ItemDefault)
	assert.Equal(t, []string{"prod"}, defaults(t, r, Environments))

	_, err = r.Create(ctx, Environments, "dev", models.Flags{})
	assert.ErrorIs(t, err, apperr.ErrDuplicateName)
	_, err = r.Create(ctx, Environments, "", models.Flags{})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = r.Create(ctx, Category("colors"), "red", models.Flags{})
	assert.ErrorIs(t, err, apperr.ErrUnknownCategory)
}

func TestCreate_NewDefaultClearsSiblings(t *testing.T) {
	r := NewRepo(dbtest.Open(t))
	ctx := context.Background()

	_, err := r.Create(ctx, HostTypes, "vm", models.Flags{})
	require.NoError(t, err)
	e, err := r.Create(ctx, HostTypes, "physical", models.Flags{ItemDefault: true})
	require.NoError(t, err)
	assert.True(t, e.Enabled, "default implies enabled")
	assert.Equal(t, []string{"physical"}, defaults(t, r, HostTypes))

	// категории независимы
	_, err = r.Create(ctx, Purposes, "web", models.Flags{})
	require.NoError(t, err)
	assert.Equal(t, []string{"physical"}, defaults(t, r, HostTypes))
	assert.Equal(t, []string{"web"}, defaults(t, r, Purposes))
}

func TestFlags(t *testing.T) {
	r := NewRepo(dbtest.Open(t))
	ctx := context.Background()

	a, err := r.Create(ctx, SupportLevels, "gold", models.Flags{})
	require.NoError(t, err)
	b, err := r.Create(ctx, SupportLevels, "silver", models.Flags{Enabled: true})
	require.NoError(t, err)

	b, err = r.SetDefault(ctx, SupportLevels, b.ID)
	require.NoError(t, err)
	assert.True(t, b.ItemDefault)
	assert.Equal(t, []string{"silver"}, defaults(t, r, SupportLevels))

	b, err = r.SetEnabled(ctx, SupportLevels, b.ID, false)
	require.NoError(t, err)
	assert.False(t, b.Enabled)
	assert.False(t, b.ItemDefault, "disabled entry drops default")
	assert.Empty(t, defaults(t, r, SupportLevels))

	_, err = r.Default(ctx, SupportLevels)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	a, err = r.SetDeprecated(ctx, SupportLevels, a.ID)
	require.NoError(t, err)
	assert.True(t, a.Deprecated)
	assert.True(t, a.Enabled)

	a, err = r.SetEnabled(ctx, SupportLevels, a.ID, true)
	require.NoError(t, err)
	assert.False(t, a.Deprecated)

	_, err = r.SetDefault(ctx, SupportLevels, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDelete_DetachesHosts(t *testing.T) {
	d := dbtest.Open(t)
	r := NewRepo(d)
	ctx := context.Background()

	e, err := r.Create(ctx, HostClasses, "db", models.Flags{})
	require.NoError(t, err)
	h := &models.Host{Name: "db01", Enabled: true, HostRefs: models.HostRefs{HostClassID: &e.ID}}
	require.NoError(t, d.Create(h).Error)

	require.NoError(t, r.Delete(ctx, HostClasses, e.ID))
	var got models.Host
	require.NoError(t, d.Take(&got, h.ID).Error)
	assert.Nil(t, got.HostClassID)

	assert.ErrorIs(t, r.Delete(ctx, HostClasses, e.ID), apperr.ErrNotFound)
}

func TestDefaultID(t *testing.T) {
	d := dbtest.Open(t)
	r := NewRepo(d)
	ctx := context.Background()

	id, err := DefaultID(d, "business_units")
	require.NoError(t, err)
	assert.Nil(t, id)

	e, err := r.Create(ctx, BusinessUnits, "retail", models.Flags{})
	require.NoError(t, err)
	id, err = DefaultID(d, "business_units")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, e.ID, *id)
}

func TestHTTP(t *testing.T) {
	m := mux.NewRouter()
	NewHTTP(NewRepo(dbtest.Open(t))).RegisterRoutes(m)

	serve := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	rec := serve(http.MethodPost, "/lookups/environments", `{"name":"prod"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"item_default":true`)

	rec = serve(http.MethodPost, "/lookups/environments", `{"name":"prod"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(http.MethodGet, "/lookups/colors", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(http.MethodGet, "/lookups/environments/default", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"prod"`)

	rec = serve(http.MethodPost, "/lookups/environments/1/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)

	rec = serve(http.MethodDelete, "/lookups/environments/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(http.MethodGet, "/lookups/environments/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
