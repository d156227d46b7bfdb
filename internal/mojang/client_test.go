package mojang

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

func TestLookupProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/profiles/minecraft/Alice", r.URL.Path)
		fmt.Fprint(w, `{"id":"11111111-2222-3333-4444-555555555555","name":"Alice"}`)
	}))
	defer server.Close()

	client := NewClientWithBases(server.URL, server.URL)
	profile, err := client.LookupProfile("Alice")
	require.NoError(t, err)

	assert.Equal(t, "Alice", profile.Name)
	assert.Equal(t, "11111111222233334444555555555555", profile.ID)
}

func TestLookupProfileUnknownName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClientWithBases(server.URL, server.URL)
	_, err := client.LookupProfile("NoSuchPlayer")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestLookupProfileRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClientWithBases(server.URL, server.URL)
	_, err := client.LookupProfile("Alice")
	require.Error(t, err)
	assert.Equal(t, errs.KindExternal, errs.KindOf(err))
}

func texturesProperty(t *testing.T, skinURL string) string {
	t.Helper()
	payload := map[string]interface{}{
		"textures": map[string]interface{}{
			"SKIN": map[string]string{"url": skinURL},
		},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestSkinURL(t *testing.T) {
	uuid := "11111111222233334444555555555555"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/minecraft/profile/"+uuid, r.URL.Path)
		fmt.Fprintf(w, `{"id":%q,"name":"Alice","properties":[{"name":"textures","value":%q}]}`,
			uuid, texturesProperty(t, "http://textures.example/skin.png"))
	}))
	defer server.Close()

	client := NewClientWithBases(server.URL, server.URL)
	url, err := client.SkinURL(uuid)
	require.NoError(t, err)
	assert.Equal(t, "http://textures.example/skin.png", url)
}

func TestSkinURLNoCustomSkin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"x","name":"Alice","properties":[{"name":"textures","value":%q}]}`,
			texturesProperty(t, ""))
	}))
	defer server.Close()

	client := NewClientWithBases(server.URL, server.URL)
	_, err := client.SkinURL("x")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestDownloadSkin(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	client := NewClient()
	data, err := client.DownloadSkin(server.URL)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}
