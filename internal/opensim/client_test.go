package opensim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInject(t *testing.T) {
	var gotPath, gotSecret string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSecret = r.Header.Get("X-Bridge-Secret")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	groupID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	cli := NewClient(srv.URL+"/", "sekrit", zerolog.Nop())
	require.NoError(t, cli.Inject(context.Background(), groupID, "Alice", "hi grid"))

	assert.Equal(t, "/matrix/group-message", gotPath)
	assert.Equal(t, "sekrit", gotSecret)
	assert.Equal(t, map[string]string{
		"group_uuid": groupID.String(),
		"from_name":  "Alice",
		"message":    "hi grid",
	}, gotBody)
}

func TestInjectNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "region offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "sekrit", zerolog.Nop())
	err := cli.Inject(context.Background(), uuid.New(), "Alice", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
